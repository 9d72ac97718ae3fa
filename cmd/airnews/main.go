package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"AirQualityNews/internal/app"
	"AirQualityNews/internal/config"
	"AirQualityNews/internal/logging"
)

type globalOptions struct {
	Config   string `short:"c" long:"config" description:"Path to the YAML configuration file (falls back to AIRNEWS_CONFIG)"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" description:"Override the configured log level (debug, info, warn, error)"`
}

var opts globalOptions

type serveCommand struct{}

type cycleCommand struct {
	Lookback time.Duration `long:"lookback" description:"How far back to read sources (default: pipeline.lookback)"`
}

type sweepCommand struct{}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true

	mustAdd(parser, "serve", "Run scheduler, moderation bot and HTTP server", &serveCommand{})
	mustAdd(parser, "cycle", "Run a single pipeline cycle and exit", &cycleCommand{})
	mustAdd(parser, "sweep", "Delete published news past retention and exit", &sweepCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		// flags.Default prints the error
		os.Exit(1)
	}

	if parser.Active == nil {
		if err := (&serveCommand{}).Execute(nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func mustAdd(parser *flags.Parser, name, short string, cmd any) {
	if _, err := parser.AddCommand(name, short, "", cmd); err != nil {
		panic(err)
	}
}

// Execute implements flags.Commander.
func (c *serveCommand) Execute([]string) error {
	return withApplication(func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
		return a.Serve(ctx)
	})
}

// Execute implements flags.Commander.
func (c *cycleCommand) Execute([]string) error {
	return withApplication(func(ctx context.Context, a *app.Application, log *slog.Logger) error {
		report, err := a.RunCycle(ctx, c.Lookback)
		if err != nil {
			return err
		}
		log.Info("cycle complete",
			"polled", report.Polled,
			"fallback", report.Fallback,
			"examined", report.Examined,
			"rejected", report.Rejected,
			"queued", report.Queued,
			"failed", report.Failed)
		return nil
	})
}

// Execute implements flags.Commander.
func (c *sweepCommand) Execute([]string) error {
	return withApplication(func(ctx context.Context, a *app.Application, log *slog.Logger) error {
		deleted, err := a.Sweep(ctx)
		if err != nil {
			return err
		}
		log.Info("sweep complete", "deleted", deleted)
		return nil
	})
}

func withApplication(run func(ctx context.Context, a *app.Application, log *slog.Logger) error) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if err := run(ctx, application, logger); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}
