package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/tourneyd/config"
	"github.com/alejandrodnm/tourneyd/internal/adapters/httpapi"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file (empty: env + defaults)")
	once := flag.Bool("once", false, "run one expiry scan and exit")
	report := flag.Bool("report", false, "print the last closed tournaments and exit")
	reportLimit := flag.Int("limit", 20, "rows for -report")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	issueToken := flag.String("issue-token", "", "print a bearer token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *issueToken != "" {
		tok, err := httpapi.IssueToken([]byte(cfg.Server.JWTSecret), *issueToken, 24*time.Hour)
		if err != nil {
			slog.Error("failed to issue token", "err", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	slog.Info("tourneyd starting",
		"config", *configPath,
		"addr", cfg.Server.Addr,
		"scan_interval", cfg.ScanInterval(),
		"cooldown_backend", cfg.Cooldown.Backend,
		"networks", len(cfg.Chain.Networks),
		"once", *once,
		"report", *report,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := build(ctx, cfg, *once || *report)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	switch {
	case *report:
		err = runReport(ctx, a, *reportLimit)
	case *once:
		err = runOnce(ctx, a)
	default:
		err = serve(ctx, a)
	}
	if err != nil {
		slog.Error("tourneyd exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("tourneyd stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
