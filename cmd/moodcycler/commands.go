package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dokzlo13/moodcycler/internal/actions"
	"github.com/dokzlo13/moodcycler/internal/app"
	"github.com/dokzlo13/moodcycler/internal/host"
)

// withServices runs fn against freshly built services without starting
// the background transports.
func withServices(c *cli.Context, fn func(ctx context.Context, s *app.Services) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Stop(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(app.SignalContext())
	defer cancel()

	return fn(ctx, application.Services())
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deviceArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", cli.Exit(fmt.Sprintf("usage: moodcycler %s %s", c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return id, nil
}

func listZones(c *cli.Context) error {
	return withServices(c, func(ctx context.Context, s *app.Services) error {
		zones, err := s.Host.Driver.Zones(ctx)
		if err != nil {
			return err
		}
		return printJSON(c, zones)
	})
}

func listMoods(c *cli.Context) error {
	return withServices(c, func(ctx context.Context, s *app.Services) error {
		moods, err := s.Host.Client.ListMoods(ctx)
		if err != nil {
			return err
		}
		if zone := c.String("zone"); zone != "" {
			moods = host.FilterByZone(moods, zone)
		}
		return printJSON(c, moods)
	})
}

func showStatus(c *cli.Context) error {
	return withServices(c, func(ctx context.Context, s *app.Services) error {
		if id := c.Args().First(); id != "" {
			info, err := s.Host.Driver.Status(id)
			if err != nil {
				return err
			}
			return printJSON(c, info)
		}
		statuses, err := s.Host.Driver.Statuses()
		if err != nil {
			return err
		}
		return printJSON(c, statuses)
	})
}

func syncDevice(c *cli.Context) error {
	return invokeOnDevice(c, actions.ActionSyncMoods)
}

func cycleDevice(c *cli.Context) error {
	return invokeOnDevice(c, actions.ActionCycleMood)
}

// invokeOnDevice runs an action through the invoker so it is recorded in
// the ledger and metrics like any other source.
func invokeOnDevice(c *cli.Context, action string) error {
	id, err := deviceArg(c)
	if err != nil {
		return err
	}
	return withServices(c, func(ctx context.Context, s *app.Services) error {
		if err := s.Invoker.Invoke(ctx, action, id, "", "cli"); err != nil {
			return err
		}
		info, err := s.Host.Driver.Status(id)
		if err != nil {
			return err
		}
		return printJSON(c, info)
	})
}

func pairDevice(c *cli.Context) error {
	id, err := deviceArg(c)
	if err != nil {
		return err
	}
	return withServices(c, func(ctx context.Context, s *app.Services) error {
		if _, err := s.Host.Driver.Pair(ctx, id, c.String("name"), c.String("zone"), c.String("filter")); err != nil {
			return err
		}
		info, err := s.Host.Driver.Status(id)
		if err != nil {
			return err
		}
		return printJSON(c, info)
	})
}

func unpairDevice(c *cli.Context) error {
	id, err := deviceArg(c)
	if err != nil {
		return err
	}
	return withServices(c, func(ctx context.Context, s *app.Services) error {
		if err := s.Host.Driver.Unpair(id); err != nil {
			return err
		}
		log.Info().Str("device", id).Msg("Device unpaired")
		return nil
	})
}
