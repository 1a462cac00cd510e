package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/storepulse/storepulse/internal/buffer"
	"github.com/storepulse/storepulse/internal/config"
	"github.com/storepulse/storepulse/internal/shipper"
	"github.com/storepulse/storepulse/internal/telemetry"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func buildInfo() (ver, sha, built, dirty string) {
	ver, sha, built = version, commit, buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}
	return
}

func main() {
	configPath := flag.String("config", "", "path to storepulse-agent.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()
	if *showVersion {
		fmt.Printf("storepulse-agent %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(os.Stderr, "  cp storepulse-agent.example.yml %s\n\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting storepulse-agent",
		"version", ver, "commit", sha, "built", built, "dirty", dirty,
		"go", runtime.Version(), "store_id", cfg.StoreID, "server", cfg.MonitoringServerURL,
	)

	queue, err := buffer.OpenOrFallback(cfg.BufferDBPath)
	if err != nil {
		slog.Warn("durable heartbeat buffer unavailable, falling back to in-memory ring", "path", cfg.BufferDBPath, "error", err)
	}
	defer queue.Close()

	collector := telemetry.New(cfg.StoreID, cfg.StoreName, "/", cfg.ProbeURLs, cfg.NetworkSpeedInterval.Duration, nil)
	ship := shipper.New(collector, queue, cfg.MonitoringServerURL, cfg.HeartbeatInterval.Duration)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ship.Run(ctx) })

	slog.Info("all components started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
	}

	slog.Info("storepulse-agent stopped gracefully")
}
