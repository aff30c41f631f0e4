// CLAUDE:SUMMARY CLI entry point for scrollback: attaches to Chrome, injects the export button and writes chat exports.
// Command scrollback exports the full history of a virtualized chat UI.
//
// Usage:
//
//	scrollback -config scrollback.yaml                   # everything from YAML
//	scrollback -url https://teams.microsoft.com/v2/ \
//	           -selectors ./profiles -out ./exports     # quick start
//	scrollback -remote ws://127.0.0.1:9222/devtools/... # attach to a running Chrome
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/scrollback/exporter"
)

func main() {
	configPath := flag.String("config", "", "path to scrollback.yaml config file")
	startURL := flag.String("url", "", "chat application URL to open")
	selectorsDir := flag.String("selectors", "", "directory of selector profiles (YAML)")
	outDir := flag.String("out", "", "export root directory")
	remote := flag.String("remote", "", "DevTools WebSocket URL of a running Chrome")
	headless := flag.Bool("headless", false, "run Chrome headless")
	once := flag.Bool("once", false, "exit after the first export")
	statusAddr := flag.String("status", "", "serve the status API on this address")
	withMCP := flag.Bool("mcp", false, "also serve MCP tools on /mcp of the status API")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("scrollback: config", "error", err)
		os.Exit(1)
	}
	if *startURL != "" {
		cfg.Browser.StartURL = *startURL
	}
	if *selectorsDir != "" {
		cfg.Selectors.Dir = *selectorsDir
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *remote != "" {
		cfg.Browser.Remote = *remote
	}
	if *headless {
		cfg.Browser.Headless = true
	}
	if *statusAddr != "" {
		cfg.Status.Addr = *statusAddr
	}
	if *withMCP {
		cfg.Status.MCP = true
	}
	if level == slog.LevelDebug {
		cfg.Browser.Debug = true
	}

	if cfg.Selectors.Dir == "" && len(cfg.Selectors.Profiles) == 0 {
		fmt.Fprintln(os.Stderr, "usage: scrollback -config <file> | -url <url> -selectors <dir>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *once); err != nil {
		logger.Error("scrollback: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*exporter.Config, error) {
	if path == "" {
		return exporter.DefaultConfig(), nil
	}
	cfg, err := exporter.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *exporter.Config, once bool) error {
	e, err := exporter.New(cfg, logger, exporter.SinksFromConfig(cfg, logger)...)
	if err != nil {
		return err
	}
	defer e.Stop()
	e.Once = once

	logger.Info("scrollback: open the chat to export and click the export button",
		"url", cfg.Browser.StartURL, "out", cfg.Output.Dir)
	return e.Run(ctx)
}
