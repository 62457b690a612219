// Command luna is the voice assistant daemon. With --send it acts as a
// client of a running daemon's control socket instead.
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

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/spf13/pflag"

	"github.com/MrWong99/luna/internal/app"
	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/control"
	"github.com/MrWong99/luna/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := cli.StringP("config", "c", "luna.yaml", "path to the YAML configuration file")
	envFile := cli.StringP("env", "e", ".env", "env file with secrets")
	logLevel := cli.StringP("log", "l", "", "log level override (debug, info, warn, error)")
	send := cli.StringP("send", "s", "", "send a command to a running daemon (status, text, mute, unmute, toggle, listen)")
	text := cli.StringP("text", "t", "", "text for --send text")
	socket := cli.String("socket", control.DefaultSocket, "control socket used by --send")
	showVersion := cli.BoolP("version", "v", false, "print version and exit")
	cli.Parse()

	if *showVersion {
		fmt.Println("luna", version)
		return 0
	}
	if *send != "" {
		return sendCommand(*socket, control.Command{Cmd: *send, Text: *text})
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "luna: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		if application != nil {
			application.ApplyConfig(d)
		}
	})
	var cfg *config.Config
	switch {
	case err == nil:
		cfg = watcher.Current()
	case errors.Is(err, os.ErrNotExist) && !cli.CommandLine.Changed("config"):
		cfg = config.Default()
		watcher = nil
	default:
		fmt.Fprintf(os.Stderr, "luna: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
		if !cfg.Server.LogLevel.IsValid() {
			fmt.Fprintf(os.Stderr, "luna: invalid log level %q\n", *logLevel)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.LogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	slog.Info("luna starting",
		"version", version,
		"config", *configPath,
		"settings", cfg.Settings.Driver,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "luna",
		ServiceVersion: version,
		Registry:       promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetricsHandler(observe.MetricsHandler(promReg)),
		app.WithLogLevel(level),
		app.WithAPIKey(os.Getenv("LUNA_API_KEY")),
	}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("luna ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// sendCommand runs one control command against a running daemon and prints
// the JSON-decoded response.
func sendCommand(socket string, cmd control.Command) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := control.Send(ctx, socket, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "luna: %v\n", err)
		return 1
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "luna: %s\n", resp.Error)
		return 1
	}
	fmt.Println(formatResponse(resp))
	return 0
}

func formatResponse(r control.Response) string {
	switch {
	case r.Status != nil:
		return fmt.Sprintf("state=%s queued=%d muted=%t backend=%s",
			r.Status.State, r.Status.Queued, r.Status.Muted, r.Status.Backend)
	case r.Muted != nil:
		return fmt.Sprintf("muted=%t", *r.Muted)
	case r.ID != "":
		return "queued " + r.ID
	}
	return "ok"
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Luna: startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Assistant", cfg.Assistant.AssistantName)
	printRow("Backend", providerLabel(cfg.Assistant.Provider, cfg.Assistant.Model))
	printRow("STT", providerLabel(cfg.Providers.STT.Name, cfg.Providers.STT.Model))
	printRow("TTS", providerLabel(cfg.Providers.TTS.Name, cfg.Providers.TTS.Model))
	printRow("Microphone", cfg.Providers.Microphone.Name)
	printRow("Speaker", cfg.Providers.Speaker.Name)
	printRow("Settings", string(cfg.Settings.Driver))
	fmt.Printf("║  %-12s    : %-19d ║\n", "MCP servers", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	if cfg.Server.Socket != "" {
		printRow("Socket", cfg.Server.Socket)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name != "" && model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	switch format {
	case config.LogJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	case config.LogPretty:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}
