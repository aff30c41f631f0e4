package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"

	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
)

// AssetAttr is stamped on every asset node at sampling time. Its value is
// unique for the page lifetime, so "[data-sbx-asset=\"n\"]" locates the
// node for a later screenshot.
const AssetAttr = "data-sbx-asset"

// ThreadAttr is stamped on the reply button of every post whose replies
// are collapsed; its value is the thread id.
const ThreadAttr = "data-sbx-thread"

// ErrContainerLost is returned when the scroll container is no longer in
// the document.
var ErrContainerLost = errors.New("collector: scroll container not found")

// Scroll input modes.
const (
	InputWheel    = "wheel"
	InputKeyboard = "keyboard"
)

// SurfaceConfig configures a DOMSurface.
type SurfaceConfig struct {
	// Input is "wheel" (mouse wheel over the container, PageUp fallback)
	// or "keyboard" (PageUp with the container focused). Default: wheel.
	Input string
	// WheelDelta is the upward wheel distance per step. Default: 800.
	WheelDelta float64
	// ThreadWait bounds how long opening or closing a reply thread may
	// take to render. Default: 8s.
	ThreadWait time.Duration

	Logger *slog.Logger
}

func (c *SurfaceConfig) defaults() {
	if c.Input == "" {
		c.Input = InputWheel
	}
	if c.WheelDelta <= 0 {
		c.WheelDelta = 800
	}
	if c.ThreadWait <= 0 {
		c.ThreadWait = 8 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DOMSurface samples and scrolls a chat list inside a browser scope.
type DOMSurface struct {
	scope     browser.Scope
	set       *selectors.Set
	container string
	args      map[string]any
	cfg       SurfaceConfig
}

// NewDOMSurface binds a scope to a selector set. It fails with
// record.ErrConfigurationMissing when a mandatory role is absent.
func NewDOMSurface(scope browser.Scope, set *selectors.Set, cfg SurfaceConfig) (*DOMSurface, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	if cfg.Input != InputWheel && cfg.Input != InputKeyboard {
		return nil, fmt.Errorf("collector: unknown scroll input %q", cfg.Input)
	}
	return &DOMSurface{
		scope:     scope,
		set:       set,
		container: set.Get(selectors.ScrollContainer),
		args:      SampleArgs(set),
		cfg:       cfg,
	}, nil
}

// SampleArgs builds the argument object of SampleJS.
func SampleArgs(set *selectors.Set) map[string]any {
	return map[string]any{
		"attr":            AssetAttr,
		"channel":         set.Channel(),
		"container":       set.Get(selectors.ScrollContainer),
		"message":         set.Get(selectors.Message),
		"messageId":       set.Get(selectors.MessageID),
		"title":           set.Get(selectors.ChatTitle),
		"sender":          set.Get(selectors.Sender),
		"senderFallback":  set.Get(selectors.SenderFallback),
		"timestamp":       set.Get(selectors.Timestamp),
		"content":         set.Get(selectors.Content),
		"avatar":          set.Get(selectors.Avatar),
		"avatarFallback":  set.Get(selectors.AvatarFallback),
		"reactionSummary": set.Get(selectors.ReactionSummary),
		"reactionPill":    set.Get(selectors.ReactionPill),
		"forceShot":       set.Get(selectors.ForceScreenshot),
		"subjectLine":     set.Get(selectors.SubjectLine),
		"threadContainer": set.Get(selectors.ThreadContainer),
		"replyButton":     set.Get(selectors.ReplyButton),
		"threadAttr":      ThreadAttr,
	}
}

type sampleResult struct {
	Container    bool          `json:"container"`
	ScrollTop    float64       `json:"scrollTop"`
	ScrollHeight float64       `json:"scrollHeight"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	Items        []Observation `json:"items"`
	Threads      []ThreadRef   `json:"threads"`
}

// Sample enumerates the mounted message nodes.
func (d *DOMSurface) Sample(ctx context.Context) (Snapshot, error) {
	res, err := d.scope.Eval(ctx, SampleJS, d.args)
	if err != nil {
		return Snapshot{}, fmt.Errorf("collector: sample: %w", err)
	}
	var r sampleResult
	if err := browser.Decode(res, &r); err != nil {
		return Snapshot{}, err
	}
	if !r.Container {
		return Snapshot{}, ErrContainerLost
	}
	return Snapshot{
		Items:   r.Items,
		Offset:  r.ScrollTop,
		Extent:  r.ScrollHeight,
		Title:   r.Title,
		URL:     r.URL,
		Threads: r.Threads,
	}, nil
}

// ScrollUp moves the view one step toward older history.
func (d *DOMSurface) ScrollUp(ctx context.Context) error {
	if d.cfg.Input == InputWheel {
		err := d.scope.Wheel(ctx, d.container, -d.cfg.WheelDelta)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.cfg.Logger.Debug("collector: wheel failed, using PageUp", "error", err)
	}
	if err := d.scope.Press(ctx, d.container, input.PageUp); err != nil {
		return fmt.Errorf("collector: scroll: %w", err)
	}
	return nil
}

// ScrollDown moves the view one step toward newer messages.
func (d *DOMSurface) ScrollDown(ctx context.Context) error {
	if d.cfg.Input == InputWheel {
		if err := d.scope.Wheel(ctx, d.container, d.cfg.WheelDelta); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := d.scope.Press(ctx, d.container, input.PageDown); err != nil {
		return fmt.Errorf("collector: scroll: %w", err)
	}
	return nil
}

// OpenThread clicks t's reply button and waits for the thread view. The
// returned Surface samples and scrolls that view, tagging every item with
// t. ok is false when the button is not mounted.
func (d *DOMSurface) OpenThread(ctx context.Context, t ThreadRef) (Surface, bool, error) {
	view := d.set.Get(selectors.ThreadView)
	if view == "" {
		return nil, false, nil
	}
	btn := attrSelector(ThreadAttr, t.ID)
	has, err := d.scope.Has(ctx, btn)
	if err != nil {
		return nil, false, fmt.Errorf("collector: thread %s: %w", t.ID, err)
	}
	if !has {
		return nil, false, nil
	}
	if err := d.scope.Click(ctx, btn); err != nil {
		if errors.Is(err, browser.ErrNoElement) {
			d.cfg.Logger.Debug("collector: reply button gone", "thread", t.ID)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("collector: open thread %s: %w", t.ID, err)
	}
	if err := d.waitFor(ctx, view); err != nil {
		return nil, false, fmt.Errorf("collector: open thread %s: %w", t.ID, err)
	}

	args := maps.Clone(d.args)
	args["container"] = view
	if m := d.set.Get(selectors.ThreadMessage); m != "" {
		args["message"] = m
	}
	args["thread"] = map[string]any{"id": t.ID, "subject": t.Subject}
	return &DOMSurface{scope: d.scope, set: d.set, container: view, args: args, cfg: d.cfg}, true, nil
}

// HistoryBackJS leaves a thread view when the profile has no close button.
const HistoryBackJS = `() => { history.back(); return true; }`

// CloseThread returns from a thread view to the channel list.
func (d *DOMSurface) CloseThread(ctx context.Context) error {
	closed := false
	if sel := d.set.Get(selectors.ThreadClose); sel != "" {
		if has, err := d.scope.Has(ctx, sel); err == nil && has {
			closed = d.scope.Click(ctx, sel) == nil
		}
	}
	if !closed {
		if _, err := d.scope.Eval(ctx, HistoryBackJS); err != nil {
			return fmt.Errorf("collector: close thread: %w", err)
		}
	}
	if err := d.waitFor(ctx, d.container); err != nil {
		return fmt.Errorf("collector: close thread: %w", err)
	}
	return nil
}

// waitFor polls until selector matches or ThreadWait elapses.
func (d *DOMSurface) waitFor(ctx context.Context, selector string) error {
	deadline := time.Now().Add(d.cfg.ThreadWait)
	for {
		has, err := d.scope.Has(ctx, selector)
		if err != nil {
			return err
		}
		if has {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s did not render within %s", ErrContainerLost, selector, d.cfg.ThreadWait)
		}
		if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

var attrEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// attrSelector returns [attr="v"] with v escaped for a quoted CSS string.
func attrSelector(attr, v string) string {
	return "[" + attr + `="` + attrEscaper.Replace(v) + `"]`
}
