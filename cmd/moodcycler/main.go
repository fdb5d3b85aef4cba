package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dokzlo13/moodcycler/internal/app"
	"github.com/dokzlo13/moodcycler/internal/config"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("moodcycler failed")
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "moodcycler",
		Usage: "cycle through the moods of a zone on every button press",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"MOODCYCLER_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the daemon (default)",
				Action: serve,
			},
			{
				Name:   "zones",
				Usage:  "list the host's zones",
				Action: listZones,
			},
			{
				Name:  "moods",
				Usage: "list the host's moods",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "zone", Usage: "only moods of this zone"},
				},
				Action: listMoods,
			},
			{
				Name:      "status",
				Usage:     "show the stored state of every device, or of one",
				ArgsUsage: "[device]",
				Action:    showStatus,
			},
			{
				Name:      "sync",
				Usage:     "refresh a device's mood list",
				ArgsUsage: "<device>",
				Action:    syncDevice,
			},
			{
				Name:      "cycle",
				Usage:     "activate a device's next mood",
				ArgsUsage: "<device>",
				Action:    cycleDevice,
			},
			{
				Name:      "pair",
				Usage:     "add a device bound to a zone",
				ArgsUsage: "<device>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "zone", Usage: "zone id", Required: true},
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "filter", Usage: "Lua expression over id, name and zone"},
				},
				Action: pairDevice,
			},
			{
				Name:      "unpair",
				Usage:     "remove a paired device",
				ArgsUsage: "<device>",
				Action:    unpairDevice,
			},
		},
	}
}

// loadConfig loads the configuration and sets up logging from it
func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)
	log.Debug().Str("config", configPath).Msg("Configuration loaded")
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log.Info().Str("config", c.String("config")).Msg("Starting moodcycler")

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		application.Stop()
		return err
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	return nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
