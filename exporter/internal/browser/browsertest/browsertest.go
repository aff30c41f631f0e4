// Package browsertest provides in-memory browser.Page and browser.Scope
// doubles. Each behaviour is a function field so tests script exactly the
// page they need.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod/lib/input"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/scrollback/exporter/internal/browser"
)

// ErrGone is returned by every call on a scope marked Gone.
var ErrGone = errors.New("browsertest: execution context destroyed")

// Scope is a scriptable browser.Scope. Nil hooks fail with
// browser.ErrNoElement except Has, which consults Present.
type Scope struct {
	ScopeName string
	Location  string

	mu      sync.Mutex
	Present map[string]bool

	OnEval         func(js string, args ...any) (any, error)
	OnPress        func(selector string, key input.Key) error
	OnWheel        func(selector string, dy float64) error
	OnClick        func(selector string) error
	OnElementShot  func(selector string) ([]byte, error)
	OnVisibleBox   func(selector string) (browser.Box, error)
	OnScreenshot   func() ([]byte, error)
	gone           atomic.Bool
	Evals, Presses atomic.Int64
	Clicks         atomic.Int64
}

var _ browser.Scope = (*Scope)(nil)

// SetGone makes every subsequent call fail as if the frame navigated away.
func (s *Scope) SetGone(v bool) { s.gone.Store(v) }

// SetPresent marks selector as matching (or not).
func (s *Scope) SetPresent(selector string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Present == nil {
		s.Present = map[string]bool{}
	}
	s.Present[selector] = v
}

func (s *Scope) Name() string { return s.ScopeName }

func (s *Scope) URL(context.Context) (string, error) {
	if s.gone.Load() {
		return "", ErrGone
	}
	return s.Location, nil
}

func (s *Scope) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	s.Evals.Add(1)
	if err := s.check(ctx); err != nil {
		return gson.JSON{}, err
	}
	if s.OnEval == nil {
		return gson.New(nil), nil
	}
	v, err := s.OnEval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return gson.New(v), nil
}

func (s *Scope) Has(ctx context.Context, selector string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Present[selector], nil
}

func (s *Scope) Press(ctx context.Context, selector string, key input.Key) error {
	s.Presses.Add(1)
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.OnPress == nil {
		return browser.ErrNoElement
	}
	return s.OnPress(selector, key)
}

func (s *Scope) Wheel(ctx context.Context, selector string, dy float64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.OnWheel == nil {
		return browser.ErrNoElement
	}
	return s.OnWheel(selector, dy)
}

func (s *Scope) Click(ctx context.Context, selector string) error {
	s.Clicks.Add(1)
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.OnClick == nil {
		return browser.ErrNoElement
	}
	return s.OnClick(selector)
}

func (s *Scope) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.OnElementShot == nil {
		return nil, browser.ErrNoElement
	}
	return s.OnElementShot(selector)
}

func (s *Scope) VisibleBox(ctx context.Context, selector string) (browser.Box, error) {
	if err := s.check(ctx); err != nil {
		return browser.Box{}, err
	}
	if s.OnVisibleBox == nil {
		return browser.Box{}, browser.ErrNoElement
	}
	return s.OnVisibleBox(selector)
}

func (s *Scope) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.OnScreenshot == nil {
		return nil, browser.ErrNoElement
	}
	return s.OnScreenshot()
}

func (s *Scope) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.gone.Load() {
		return ErrGone
	}
	return nil
}

// Page is a browser.Page over a fixed list of scopes.
type Page struct {
	mu     sync.Mutex
	scopes []browser.Scope
	closed atomic.Bool
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a page exposing scopes in order (main first).
func NewPage(scopes ...browser.Scope) *Page {
	return &Page{scopes: scopes}
}

// SetScopes replaces the scope list (simulates navigation).
func (p *Page) SetScopes(scopes ...browser.Scope) {
	p.mu.Lock()
	p.scopes = scopes
	p.mu.Unlock()
}

// Close marks the page closed.
func (p *Page) Close() { p.closed.Store(true) }

func (p *Page) Scopes(ctx context.Context) ([]browser.Scope, error) {
	if p.Closed(ctx) {
		return nil, browser.ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Scope(nil), p.scopes...), nil
}

func (p *Page) Closed(ctx context.Context) bool {
	return ctx.Err() != nil || p.closed.Load()
}
