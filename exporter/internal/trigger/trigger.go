// CLAUDE:SUMMARY Injects the in-page export button into the scope hosting the chat app and polls its text for the activation sentinel.
// Package trigger coordinates the in-page export affordance with the
// out-of-page driver. The only channel across the sandbox boundary is the
// button's own text: the click handler rewrites it to Sentinel and the
// controller polls for that value.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
)

// Sentinel is the button text that signals an export request.
const Sentinel = "Exporting, please wait..."

// ButtonID is the DOM id of the injected affordance.
const ButtonID = "scrollback-export-button"

var (
	// ErrNotDetected means no scope matched any selector profile's app shell.
	ErrNotDetected = errors.New("trigger: chat application not detected")
	// ErrCancelled means the page closed or the context ended mid-wait.
	ErrCancelled = errors.New("trigger: cancelled")
	// ErrSessionActive means an export is already running for this page.
	ErrSessionActive = errors.New("trigger: export session already active")
)

// Config configures the controller.
type Config struct {
	// PollInterval between activation checks. Default: 2s.
	PollInterval time.Duration
	// DetectCycles is how many consecutive polls may find no matching
	// scope before WaitForActivation gives up. Default: 150 (5 minutes at 2s).
	DetectCycles int
	// Label is the idle button text. Default: "Export chat".
	Label string
	// OnArmed is called each time the button is injected into a scope.
	OnArmed func(Armed)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DetectCycles <= 0 {
		c.DetectCycles = 150
	}
	if c.Label == "" {
		c.Label = "Export chat"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Armed is the scope carrying the affordance and the profile detected there.
type Armed struct {
	Scope browser.Scope
	Set   *selectors.Set
	At    time.Time
}

// Activation is returned once the user has clicked the affordance.
type Activation struct {
	Scope browser.Scope
	Set   *selectors.Set
	At    time.Time
}

// Controller owns the affordance for one page.
type Controller struct {
	cfg     Config
	catalog *selectors.Catalog

	mu     sync.Mutex
	armed  *Armed
	active bool
}

// New creates a Controller that detects the chat app with catalog.
func New(catalog *selectors.Catalog, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{cfg: cfg, catalog: catalog}
}

// Arm makes sure exactly one affordance exists on the page. If the
// previously armed scope still answers, the injection script runs there
// again and reports "already_injected". Otherwise every scope is scanned
// for a matching app shell.
func (c *Controller) Arm(ctx context.Context, page browser.Page) (*Armed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return nil, ErrSessionActive
	}
	if page.Closed(ctx) {
		return nil, cancelled(ctx)
	}

	if a := c.armed; a != nil {
		if _, err := c.inject(ctx, a.Scope); err == nil {
			return a, nil
		}
		c.cfg.Logger.Info("trigger: armed scope lost, rescanning", "scope", a.Scope.Name())
		c.armed = nil
	}

	scopes, err := page.Scopes(ctx)
	if err != nil {
		if page.Closed(ctx) {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("trigger: list scopes: %w", err)
	}

	for _, scope := range scopes {
		set, err := c.catalog.Detect(ctx, scope)
		if err != nil {
			c.cfg.Logger.Debug("trigger: detect", "scope", scope.Name(), "error", err)
			continue
		}
		if set == nil {
			continue
		}
		if err := set.Validate(); err != nil {
			return nil, err
		}
		status, err := c.inject(ctx, scope)
		if err != nil {
			c.cfg.Logger.Debug("trigger: inject", "scope", scope.Name(), "error", err)
			continue
		}
		c.armed = &Armed{Scope: scope, Set: set, At: time.Now()}
		c.cfg.Logger.Info("trigger: armed", "scope", scope.Name(), "profile", set.Name(), "status", status)
		if c.cfg.OnArmed != nil {
			c.cfg.OnArmed(*c.armed)
		}
		return c.armed, nil
	}
	return nil, ErrNotDetected
}

func (c *Controller) inject(ctx context.Context, scope browser.Scope) (string, error) {
	res, err := scope.Eval(ctx, InjectJS, ButtonID, c.cfg.Label, Sentinel)
	if err != nil {
		return "", err
	}
	return res.Str(), nil
}

// WaitForActivation polls until the user clicks the affordance. Each cycle
// re-arms when needed (navigation may have replaced the frame), then
// reads the button text. interval <= 0 uses the configured PollInterval.
func (c *Controller) WaitForActivation(ctx context.Context, page browser.Page, interval time.Duration) (*Activation, error) {
	if interval <= 0 {
		interval = c.cfg.PollInterval
	}
	misses := 0
	for {
		armed, err := c.Arm(ctx, page)
		switch {
		case errors.Is(err, ErrNotDetected):
			misses++
			if misses >= c.cfg.DetectCycles {
				return nil, ErrNotDetected
			}
		case err != nil:
			if ctx.Err() != nil || page.Closed(ctx) {
				return nil, cancelled(ctx)
			}
			return nil, err
		default:
			misses = 0
			text, err := c.buttonText(ctx, armed.Scope)
			if err != nil {
				c.forget(armed)
			} else if text == Sentinel {
				c.cfg.Logger.Info("trigger: activation received", "scope", armed.Scope.Name())
				return &Activation{Scope: armed.Scope, Set: armed.Set, At: time.Now()}, nil
			}
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, cancelled(ctx)
		case <-t.C:
		}
		if page.Closed(ctx) {
			return nil, cancelled(ctx)
		}
	}
}

func (c *Controller) buttonText(ctx context.Context, scope browser.Scope) (string, error) {
	res, err := scope.Eval(ctx, ReadJS, ButtonID)
	if err != nil {
		return "", err
	}
	if res.Nil() {
		return "", fmt.Errorf("trigger: button missing in %s", scope.Name())
	}
	return res.Str(), nil
}

func (c *Controller) forget(a *Armed) {
	c.mu.Lock()
	if c.armed == a {
		c.armed = nil
	}
	c.mu.Unlock()
}

// Begin marks a session active. Arm refuses while a session runs.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrSessionActive
	}
	c.active = true
	return nil
}

// End clears the session mark.
func (c *Controller) End() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Disarm removes the affordance and shows notice in the page (empty
// notice = none). Errors are logged only: the scope may already be gone.
func (c *Controller) Disarm(ctx context.Context, notice string) {
	c.mu.Lock()
	a := c.armed
	c.armed = nil
	c.mu.Unlock()
	if a == nil {
		return
	}
	if _, err := a.Scope.Eval(ctx, DisarmJS, ButtonID, notice); err != nil {
		c.cfg.Logger.Warn("trigger: disarm", "scope", a.Scope.Name(), "error", err)
	}
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return fmt.Errorf("%w: page closed", ErrCancelled)
}
