// Package host talks to the home-automation host's Web API.
// The host owns zones, moods and mood activation; this package only reads and triggers them.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"resty.dev/v3"
)

// Activation paths
const (
	ModeAuto    = "auto"
	ModeManager = "manager"
	ModeFlow    = "flow"
)

// Options configures a Client
type Options struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	RetryCount     int
	RetryWait      time.Duration
	RetryMaxWait   time.Duration
	RateLimitRPS   float64
	ActivationMode string

	// OnFallback is called when a mood activation falls back to the flow card action.
	OnFallback func(moodID string)
}

// Client provides access to the host's zone and mood managers
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	mode       string
	onFallback func(moodID string)
	baseURL    string
}

// NewClient creates a new host API client
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ActivationMode == "" {
		opts.ActivationMode = ModeAuto
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		AddRetryConditions(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "moodcycler")
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	return &Client{
		http:       httpClient,
		limiter:    limiter,
		mode:       opts.ActivationMode,
		onFallback: opts.OnFallback,
		baseURL:    opts.BaseURL,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

// BaseURL returns the host address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs a rate-limited request and returns the body of a successful response.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case "GET":
		resp, err = req.Get(path)
	case "POST":
		resp, err = req.Post(path)
	case "PUT":
		resp, err = req.Put(path)
	default:
		return nil, fmt.Errorf("%s: unsupported method %s", op, method)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode() >= 400 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode(), Body: string(resp.Bytes())}
	}

	return resp.Bytes(), nil
}

// Ping checks that the host is reachable and the token can list zones
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", "GET", "/api/manager/zones/zone", nil)
	return err
}

// ListZones returns all zones, sorted by name then id
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	data, err := c.do(ctx, "list zones", "GET", "/api/manager/zones/zone", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]Zone
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("list zones: decode: %w", err)
	}

	zones := make([]Zone, 0, len(raw))
	for id, zone := range raw {
		if zone.ID == "" {
			zone.ID = id
		}
		zones = append(zones, zone)
	}
	sortZones(zones)

	return zones, nil
}

// ListMoods returns all moods across all zones, sorted by name then id
func (c *Client) ListMoods(ctx context.Context) ([]Mood, error) {
	data, err := c.do(ctx, "list moods", "GET", "/api/manager/moods/mood", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]Mood
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("list moods: decode: %w", err)
	}

	moods := make([]Mood, 0, len(raw))
	for id, mood := range raw {
		if mood.ID == "" {
			mood.ID = id
		}
		moods = append(moods, mood)
	}
	sortMoods(moods)

	return moods, nil
}

// ActivateMood asks the host to apply a mood.
// In auto mode the mood manager is tried first; a missing-permission rejection
// falls back to running the mood's flow card action exactly once.
func (c *Client) ActivateMood(ctx context.Context, moodID string) error {
	switch c.mode {
	case ModeFlow:
		return c.runMoodFlowCard(ctx, moodID)
	case ModeManager:
		return c.setMood(ctx, moodID)
	}

	err := c.setMood(ctx, moodID)
	if err == nil || !errors.Is(err, ErrMissingPermission) {
		return err
	}

	log.Warn().Err(err).Str("mood", moodID).Msg("Mood manager rejected activation, falling back to flow card action")
	if c.onFallback != nil {
		c.onFallback(moodID)
	}

	if ferr := c.runMoodFlowCard(ctx, moodID); ferr != nil {
		return fmt.Errorf("activate mood %s: fallback failed: %w", moodID, ferr)
	}
	return nil
}

func (c *Client) setMood(ctx context.Context, moodID string) error {
	path := fmt.Sprintf("/api/manager/moods/mood/%s/set", url.PathEscape(moodID))
	_, err := c.do(ctx, "set mood", "POST", path, map[string]any{})
	return err
}

// runMoodFlowCard runs the host's built-in "set mood" flow action card.
func (c *Client) runMoodFlowCard(ctx context.Context, moodID string) error {
	uri := "homey:mood:" + moodID
	cardID := uri + ":set"
	path := fmt.Sprintf("/api/manager/flow/flowcardaction/%s/%s/run", url.PathEscape(uri), url.PathEscape(cardID))
	_, err := c.do(ctx, "run mood flow card", "POST", path, map[string]any{"args": map[string]any{}})
	return err
}
