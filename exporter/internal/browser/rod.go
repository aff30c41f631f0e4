// CLAUDE:SUMMARY go-rod implementation of Page and Scope: frame discovery, eval, keyboard/wheel input, screenshots.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// maxFrameDepth bounds the recursive iframe walk.
const maxFrameDepth = 3

// RodPage adapts a *rod.Page.
type RodPage struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewRodPage wraps p.
func NewRodPage(p *rod.Page, logger *slog.Logger) *RodPage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodPage{page: p, logger: logger}
}

// Rod returns the underlying page.
func (p *RodPage) Rod() *rod.Page { return p.page }

// Scopes returns the main document and every frame reachable from it.
// Chat clients often render the live conversation inside an iframe and do
// not reflect it in the URL, so every frame is a candidate.
func (p *RodPage) Scopes(ctx context.Context) ([]Scope, error) {
	if p.Closed(ctx) {
		return nil, ErrClosed
	}
	scopes := []Scope{&RodScope{name: "main", page: p.page, root: p.page}}
	scopes = p.collectFrames(ctx, p.page, "frame", 1, scopes)
	return scopes, nil
}

func (p *RodPage) collectFrames(ctx context.Context, parent *rod.Page, prefix string, depth int, acc []Scope) []Scope {
	if depth > maxFrameDepth {
		return acc
	}
	frames, err := parent.Context(ctx).Elements("iframe")
	if err != nil {
		p.logger.Debug("browser: list frames", "error", err)
		return acc
	}
	for i, el := range frames {
		fp, err := el.Frame()
		if err != nil {
			// Cross-origin frames without a reachable target are skipped.
			continue
		}
		name := fmt.Sprintf("%s[%d]", prefix, i)
		acc = append(acc, &RodScope{name: name, page: fp, root: p.page})
		acc = p.collectFrames(ctx, fp, name+"/frame", depth+1, acc)
	}
	return acc
}

// Closed reports whether the target is gone or ctx is done.
func (p *RodPage) Closed(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	_, err := p.page.Context(ctx).Info()
	return err != nil
}

// RodScope is one document (main or frame) of a RodPage.
type RodScope struct {
	name string
	page *rod.Page // the document's page (frame page for iframes)
	root *rod.Page // the tab, for viewport screenshots
}

func (s *RodScope) Name() string { return s.name }

func (s *RodScope) URL(ctx context.Context) (string, error) {
	res, err := s.Eval(ctx, `() => location.href`)
	if err != nil {
		return "", err
	}
	return res.Str(), nil
}

func (s *RodScope) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, fmt.Errorf("browser: eval in %s: %w", s.name, err)
	}
	return res.Value, nil
}

func (s *RodScope) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("browser: has %q in %s: %w", selector, s.name, err)
	}
	return has, nil
}

func (s *RodScope) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q in %s: %w", selector, s.name, err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %q in %s", ErrNoElement, selector, s.name)
	}
	return el.Context(ctx), nil
}

func (s *RodScope) Press(ctx context.Context, selector string, key input.Key) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	// Type focuses the element then dispatches through Input.dispatchKeyEvent.
	if err := el.Type(key); err != nil {
		return fmt.Errorf("browser: press in %s: %w", s.name, err)
	}
	return nil
}

func (s *RodScope) Wheel(ctx context.Context, selector string, dy float64) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	shape, err := el.Shape()
	if err != nil {
		return fmt.Errorf("browser: shape in %s: %w", s.name, err)
	}
	box := shape.Box()
	if box == nil {
		return fmt.Errorf("%w: %q has no box", ErrNoElement, selector)
	}
	mouse := s.root.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2}); err != nil {
		return fmt.Errorf("browser: mouse move: %w", err)
	}
	if err := mouse.Scroll(0, dy, 1); err != nil {
		return fmt.Errorf("browser: mouse wheel: %w", err)
	}
	return nil
}

func (s *RodScope) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %q in %s: %w", selector, s.name, err)
	}
	return nil
}

func (s *RodScope) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	el, err := s.element(ctx, selector)
	if err != nil {
		return nil, err
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: element screenshot in %s: %w", s.name, err)
	}
	return data, nil
}

func (s *RodScope) VisibleBox(ctx context.Context, selector string) (Box, error) {
	res, err := s.Eval(ctx, visibleBoxJS, selector)
	if err != nil {
		return Box{}, err
	}
	if res.Nil() {
		return Box{}, fmt.Errorf("%w: %q in %s", ErrNoElement, selector, s.name)
	}
	var b Box
	if err := Decode(res, &b); err != nil {
		return Box{}, err
	}
	return b, nil
}

func (s *RodScope) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.root.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: viewport screenshot: %w", err)
	}
	return data, nil
}

// visibleBoxJS intersects the element rect with every clipping ancestor,
// translates it through accessible parent frames into the top viewport
// and scales it by devicePixelRatio.
const visibleBoxJS = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	el.scrollIntoView({block: 'nearest', inline: 'nearest'});
	let r = el.getBoundingClientRect();
	let x1 = r.left, y1 = r.top, x2 = r.right, y2 = r.bottom;
	for (let p = el.parentElement; p; p = p.parentElement) {
		const st = getComputedStyle(p);
		if (st.overflow === 'visible' && st.overflowX === 'visible' && st.overflowY === 'visible') continue;
		const pr = p.getBoundingClientRect();
		x1 = Math.max(x1, pr.left); y1 = Math.max(y1, pr.top);
		x2 = Math.min(x2, pr.right); y2 = Math.min(y2, pr.bottom);
	}
	let w = window;
	try {
		while (w !== w.top && w.frameElement) {
			const fr = w.frameElement.getBoundingClientRect();
			x1 += fr.left; x2 += fr.left; y1 += fr.top; y2 += fr.top;
			w = w.parent;
		}
	} catch (e) {}
	const s = window.devicePixelRatio || 1;
	return {x: x1 * s, y: y1 * s, width: Math.max(0, x2 - x1) * s, height: Math.max(0, y2 - y1) * s};
}`
