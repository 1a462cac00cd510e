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

	"github.com/storepulse/storepulse/internal/alert"
	"github.com/storepulse/storepulse/internal/config"
	"github.com/storepulse/storepulse/internal/notify"
	"github.com/storepulse/storepulse/internal/registry"
	"github.com/storepulse/storepulse/internal/server"
	"github.com/storepulse/storepulse/internal/store"
	"github.com/storepulse/storepulse/internal/sweeper"
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
	configPath := flag.String("config", "", "path to storepulse-server.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()
	if *showVersion {
		fmt.Printf("storepulse-server %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(os.Stderr, "  cp storepulse-server.example.yml %s\n\n", *configPath)
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

	slog.Info("starting storepulse-server",
		"version", ver, "commit", sha, "built", built, "dirty", dirty,
		"go", runtime.Version(), "listen", cfg.Listen,
	)

	st, err := store.New(cfg.DBName)
	if err != nil {
		slog.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	recipients, err := notify.NewRecipientBook(cfg.EmailConfigPath)
	if err != nil {
		slog.Error("loading recipients config", "path", cfg.EmailConfigPath, "error", err)
		os.Exit(1)
	}

	var providers []notify.Provider
	for _, w := range cfg.Webhooks {
		providers = append(providers, notify.NewWebhook(w.URL, w.Method, w.Headers))
	}
	for _, n := range cfg.Ntfy {
		providers = append(providers, notify.NewNtfy(n.URL, n.Topic))
	}
	if cfg.SMTP.Host != "" {
		providers = append(providers, notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
	}

	reg := registry.New()

	dispatcher := alert.New(st, recipients, providers).WithCooldowns(
		cfg.OfflineAlertCooldown.Duration,
		cfg.RecoveryAlertCooldown.Duration,
		cfg.StartupAlertCooldown.Duration,
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	sw := sweeper.New(reg, dispatcher, server.NewStoreLister(st),
		cfg.AlertThreshold.Duration, cfg.SweeperEpsilon.Duration, cfg.HealthCheckInterval.Duration)

	pruner := store.NewPruner(st, store.DefaultRetention())

	srv := server.NewServer(cfg.Listen, reg, st, dispatcher, sw, recipients, cfg.CORSAllowedOrigins)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pruner.Run(ctx) })
	g.Go(func() error { return sw.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	slog.Info("all components started", "notification_providers", len(providers))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
	}

	slog.Info("storepulse-server stopped gracefully")
}
