// Command handsfree runs the hands-free voice recording controller: it
// listens on a microphone, records each utterance it detects, transcribes it
// and streams status and transcripts to UI clients over a WebSocket.
//
// Usage:
//
//	handsfree -config handsfree.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/handsfree/internal/app"
	"github.com/MrWong99/handsfree/internal/config"
	"github.com/MrWong99/handsfree/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "handsfree.yaml", "path to the YAML configuration file")
	enable := flag.Bool("enable", false, "turn voice mode on at startup (overrides voice_mode.enable_on_start)")
	flag.Parse()

	// The watcher's callback needs the app, which needs the config the
	// watcher loads first.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application != nil {
			application.Reload(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "handsfree: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "handsfree: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	if *enable {
		cfg.VoiceMode.EnableOnStart = true
	}

	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("handsfree starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	link := registerBuiltinProviders(ctx, reg, cfg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		_ = link.Close()
		return 1
	}
	providers.Closers = append(providers.Closers, link.Close)

	printStartupSummary(cfg)

	application, err = app.New(cfg, providers,
		app.WithLogLevel(level),
		app.WithWatcher(watcher),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	p := cfg.Providers
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        handsfree startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Microphone", p.Microphone.Name, "")
	printProvider("Transcriber", p.Transcriber.Name, p.Transcriber.Model)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Fallbacks", len(p.FallbackTranscribers))
	printProvider("TTS", p.TTS.Name, p.TTS.Model)
	printProvider("Speaker", p.Speaker.Name, "")
	if cfg.VoiceMode.EnableOnStart {
		fmt.Printf("║  Voice mode      : %-19s ║\n", "on at start")
	} else {
		fmt.Printf("║  Voice mode      : %-19s ║\n", "off until enabled")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
