// Command wakegate listens on a microphone and reports when one of the
// configured wake phrases was spoken.
//
// Usage:
//
//	wakegate run    [flags]  wait for one wake phrase, exit 0 on trigger
//	wakegate listen [flags]  trigger repeatedly until interrupted
//	wakegate meter  [flags]  print input levels and flag spikes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/wakegate/internal/app"
	"github.com/MrWong99/wakegate/internal/config"
	"github.com/MrWong99/wakegate/internal/detector"
	"github.com/MrWong99/wakegate/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Process exit codes. run exits exitOK on trigger.
const (
	exitOK        = 0
	exitFailure   = 1
	exitTimeout   = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	envFile    string
	timeout    time.Duration
	block      time.Duration
	spikeDB    float64
	maxBlocks  int
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "run", "listen", "meter":
	case "help":
		usage(stderr)
		return exitOK
	default:
		fmt.Fprintf(stderr, "wakegate: unknown command %q\n", cmd)
		usage(stderr)
		return exitFailure
	}

	// ── CLI flags ──────────────────────────────────────────────────────────────
	var opts options
	fs := flag.NewFlagSet("wakegate "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "wakegate.yaml", "path to the YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with WAKEGATE_* overrides (optional)")
	fs.DurationVar(&opts.timeout, "timeout", -1, "override detector.timeout (run only; 0 waits forever)")
	fs.DurationVar(&opts.block, "block", app.DefaultMeterBlock, "meter block duration")
	fs.Float64Var(&opts.spikeDB, "spike-db", app.DefaultSpikeThreshold, "meter spike threshold in dBFS")
	fs.IntVar(&opts.maxBlocks, "blocks", 0, "meter readings before exiting (0 runs until interrupted)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	// ── Load configuration ────────────────────────────────────────────────────
	lookup, err := config.EnvLookup(opts.envFile)
	if err != nil {
		fmt.Fprintf(stderr, "wakegate: %v\n", err)
		return exitFailure
	}
	cfg, err := config.Load(opts.configPath, lookup)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "wakegate: config file %q not found, copy configs/example.yaml to get started\n", opts.configPath)
		} else {
			fmt.Fprintf(stderr, "wakegate: %v\n", err)
		}
		return exitFailure
	}
	if cmd == "run" && opts.timeout >= 0 {
		cfg.Detector.Timeout = opts.timeout
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cmd == "meter" {
		return runMeter(ctx, cfg, logger, opts, stdout)
	}

	// ── Application ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithLevel(&level),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("wakegate starting",
		"command", cmd,
		"version", version,
		"config", opts.configPath,
		"phrases", cfg.Gate.Phrases,
		"timeout", cfg.Detector.Timeout,
	)

	if cmd == "listen" {
		return runListen(ctx, application, opts, lookup, stdout)
	}
	return runOnce(ctx, application, stdout)
}

func runOnce(ctx context.Context, a *app.App, stdout io.Writer) int {
	res, err := a.DetectOnce(ctx)
	switch res.Outcome {
	case detector.OutcomeTriggered:
		fmt.Fprintln(stdout, res.Event.Phrase)
		return exitOK
	case detector.OutcomeTimedOut:
		slog.Info("no wake phrase before timeout", "decisions", res.Decisions)
		return exitTimeout
	case detector.OutcomeCancelled:
		return exitCancelled
	default:
		slog.Error("detection failed", "outcome", res.Outcome.String(), "err", err)
		return exitFailure
	}
}

func runListen(ctx context.Context, a *app.App, opts options, lookup config.LookupFunc, stdout io.Writer) int {
	w, err := config.NewWatcher(opts.configPath, func(_, next *config.Config) {
		a.ApplyConfig(next)
	}, config.WithEnv(lookup))
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer w.Stop()
		go reloadOnHangup(ctx, w)
	}

	err = a.Listen(ctx, func(_ context.Context, ev detector.TriggerEvent) {
		fmt.Fprintln(stdout, ev.Phrase)
	})
	if err != nil {
		slog.Error("listener stopped", "err", err)
		return exitFailure
	}
	slog.Info("goodbye")
	return exitOK
}

// reloadOnHangup reloads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("reload on SIGHUP failed, keeping previous config", "err", err)
			}
		}
	}
}

func runMeter(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options, stdout io.Writer) int {
	src, err := app.ConfigSource(logger)(withBlock(cfg.Audio, opts.block))
	if err != nil {
		slog.Error("failed to open capture source", "err", err)
		return exitFailure
	}
	err = app.RunMeter(ctx, src, stdout, app.MeterConfig{
		SpikeDBFS: opts.spikeDB,
		MaxBlocks: opts.maxBlocks,
	})
	if err != nil {
		slog.Error("meter stopped", "err", err)
		return exitFailure
	}
	return exitOK
}

func withBlock(ac config.AudioConfig, block time.Duration) config.AudioConfig {
	if block > 0 {
		ac.ChunkDuration = block
	}
	return ac
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: wakegate <command> [flags]

commands:
  run     wait for one wake phrase (exit 0 triggered, 2 timeout, 1 failure, 130 interrupted)
  listen  trigger repeatedly until interrupted; SIGHUP reloads the config
  meter   print input levels and flag spikes

run "wakegate <command> -h" for flags`)
}
