// Package browser is the session handle the exporter drives: page and
// frame scopes, script evaluation, device-level input and screenshots.
//
// The core only sees the Page and Scope interfaces. Input dispatch is a
// capability contract: Press and Wheel must go through the driver's input
// device emulation (CDP Input domain), never through synthetic DOM events
// or scrollTop assignment, which the chat applications ignore.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-rod/rod/lib/input"
	"github.com/ysmood/gson"
)

// ErrNoElement is returned when a selector matches nothing in a scope.
var ErrNoElement = errors.New("browser: element not found")

// ErrClosed is returned when the page or its browser has gone away.
var ErrClosed = errors.New("browser: page closed")

// Box is a rendered bounding box in device pixels of the top-level
// viewport screenshot.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool { return b.Width < 1 || b.Height < 1 }

// Scope is one script-evaluation context: the top document or one
// embedded frame.
type Scope interface {
	// Name identifies the scope within its page ("main", "frame[0]", ...).
	Name() string
	// URL is the scope document's current location.
	URL(ctx context.Context) (string, error)
	// Eval runs a JS function expression with args and returns its
	// JSON-serialisable result. Promises are awaited.
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// Has reports whether selector matches at least one node, without waiting.
	Has(ctx context.Context, selector string) (bool, error)
	// Press focuses the first match of selector and dispatches key through
	// the input device.
	Press(ctx context.Context, selector string, key input.Key) error
	// Wheel moves the mouse over the first match of selector and scrolls by dy.
	Wheel(ctx context.Context, selector string, dy float64) error
	// Click scrolls the first match of selector into view and clicks its
	// centre with the mouse.
	Click(ctx context.Context, selector string) error
	// ElementScreenshot captures the first match of selector as PNG.
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)
	// VisibleBox returns the first match's rendered box, clipped by its
	// overflow ancestors, in viewport-screenshot pixels.
	VisibleBox(ctx context.Context, selector string) (Box, error)
	// Screenshot captures the top-level viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Page is a driven browser tab.
type Page interface {
	// Scopes returns the main document first, then every reachable frame.
	Scopes(ctx context.Context) ([]Scope, error)
	// Closed reports whether the tab can no longer be driven.
	Closed(ctx context.Context) bool
}

// Decode unmarshals an Eval result into out.
func Decode(j gson.JSON, out any) error {
	if err := json.Unmarshal([]byte(j.JSON("", "")), out); err != nil {
		return fmt.Errorf("browser: decode eval result: %w", err)
	}
	return nil
}
