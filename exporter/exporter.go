// Package exporter exports the full history of a virtualized chat UI.
//
// The exporter attaches to a browser, injects an "Export chat" button into
// the chat page, and when the user clicks it scrolls the message list to
// the top of history, collecting every message the list ever mounts.
// Messages are normalized, their images saved locally, and the result is
// written as HTML, JSON and Markdown.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
	"github.com/hazyhaar/scrollback/exporter/internal/sink"
	"github.com/hazyhaar/scrollback/exporter/internal/store"
	"github.com/hazyhaar/scrollback/exporter/internal/trigger"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// Exporter is the top-level orchestrator. It owns the browser, the
// trigger controller, the pipeline and the sinks.
type Exporter struct {
	cfg      *Config
	mgr      *browser.Manager
	ctrl     *trigger.Controller
	pipeline *Pipeline
	sinkR    *sink.Router
	store    *store.Store
	tracker  *Tracker
	status   *http.Server
	logger   *slog.Logger

	// Once stops Serve after the first finished session.
	Once bool
}

// New creates an Exporter from configuration. It fails when no selector
// profile is configured.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("exporter: no selector profiles: %w", record.ErrConfigurationMissing)
	}
	catalog := selectors.NewCatalog(profiles...)

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("exporter: open store: %w", err)
		}
	}

	tracker := NewTracker()
	router := sink.NewRouter(logger, sinks...)
	return &Exporter{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			UserDataDir:      cfg.Browser.UserDataDir,
			Headless:         cfg.Browser.Headless,
			Stealth:          cfg.Browser.Stealth,
			StartURL:         cfg.Browser.StartURL,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			ForwardConsole:   cfg.Browser.Debug,
			Logger:           logger,
		}),
		ctrl: trigger.New(catalog, trigger.Config{
			PollInterval: cfg.Trigger.PollInterval,
			DetectCycles: cfg.Trigger.DetectCycles,
			Label:        cfg.Trigger.Label,
			OnArmed:      func(a trigger.Armed) { tracker.Armed(a.Scope.Name(), a.Set.Name()) },
			Logger:       logger,
		}),
		pipeline: NewPipeline(cfg, router, st, tracker, logger),
		sinkR:    router,
		store:    st,
		tracker:  tracker,
		logger:   logger,
	}, nil
}

// Tracker exposes the live session state.
func (e *Exporter) Tracker() *Tracker { return e.tracker }

// Handler returns the status API, with the MCP endpoint mounted at
// MCPPath when status.mcp is set.
func (e *Exporter) Handler() http.Handler {
	status := StatusHandler(e.tracker, e.store)
	if !e.cfg.Status.MCP {
		return status
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "scrollback", Version: "1.0.0"}, nil)
	e.RegisterMCP(srv)
	return withMCP(status, srv)
}

// Run launches (or attaches to) the browser, opens the chat tab and serves
// export requests until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	if _, err := e.mgr.Start(ctx); err != nil {
		return fmt.Errorf("exporter: start browser: %w", err)
	}
	if e.cfg.Status.Addr != "" {
		e.startStatus()
	}
	page, err := e.mgr.OpenChat(ctx)
	if err != nil {
		return fmt.Errorf("exporter: open chat: %w", err)
	}
	return e.Serve(ctx, page)
}

// Serve arms the button on page and runs one session per click. It
// returns nil when ctx is done or the page is closed.
func (e *Exporter) Serve(ctx context.Context, page browser.Page) error {
	log := e.logger
	for {
		act, err := e.ctrl.WaitForActivation(ctx, page, 0)
		switch {
		case errors.Is(err, trigger.ErrCancelled):
			log.Info("exporter: stopped", "reason", err)
			return nil
		case errors.Is(err, trigger.ErrNotDetected):
			log.Warn("exporter: no chat application detected, still waiting")
			continue
		case errors.Is(err, record.ErrConfigurationMissing):
			return err
		case err != nil:
			log.Warn("exporter: trigger", "error", err)
			if !sleepCtx(ctx, e.cfg.Trigger.PollInterval) {
				return nil
			}
			continue
		}
		res, runErr := e.runSession(ctx, act)
		if errors.Is(runErr, record.ErrConfigurationMissing) {
			return runErr
		}
		if e.Once || ctx.Err() != nil {
			return nil
		}
		if res == nil && runErr != nil {
			log.Warn("exporter: session failed", "error", runErr)
		}
	}
}

func (e *Exporter) runSession(ctx context.Context, act *trigger.Activation) (*Result, error) {
	if err := e.ctrl.Begin(); err != nil {
		return nil, err
	}
	defer e.ctrl.End()

	res, err := e.pipeline.Run(ctx, act.Scope, act.Set)
	notice := "Export failed"
	if res != nil {
		notice = fmt.Sprintf("Exported %d messages to %s", len(res.Export.Messages), res.Dir)
		if res.Export.Incomplete {
			notice = fmt.Sprintf("Export incomplete: %d messages saved to %s", len(res.Export.Messages), res.Dir)
		}
	}
	e.ctrl.Disarm(context.WithoutCancel(ctx), notice)
	return res, err
}

func (e *Exporter) startStatus() {
	e.status = &http.Server{
		Addr:              e.cfg.Status.Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		e.logger.Info("exporter: status api listening", "addr", e.cfg.Status.Addr)
		if err := e.status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("exporter: status api", "error", err)
		}
	}()
}

// Stop shuts down the status API, the sinks, the store and the browser.
func (e *Exporter) Stop() {
	if e.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		e.status.Shutdown(ctx)
		cancel()
	}
	e.sinkR.Close()
	if e.store != nil {
		e.store.Close()
	}
	e.mgr.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
