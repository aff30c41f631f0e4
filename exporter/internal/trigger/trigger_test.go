package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/scrollback/exporter/internal/browser/browsertest"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
)

// fakeDOM models the only piece of page state the trigger touches.
type fakeDOM struct {
	mu      sync.Mutex
	buttons map[string]string // id -> text
	notice  string
}

func (d *fakeDOM) eval(js string, args ...any) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := args[0].(string)
	switch js {
	case InjectJS:
		if _, ok := d.buttons[id]; ok {
			return "already_injected", nil
		}
		d.buttons[id] = args[1].(string)
		return "injected", nil
	case ReadJS:
		text, ok := d.buttons[id]
		if !ok {
			return nil, nil
		}
		return text, nil
	case DisarmJS:
		delete(d.buttons, id)
		d.notice = args[1].(string)
		return "removed", nil
	}
	return nil, errors.New("unexpected script")
}

func (d *fakeDOM) click() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.buttons {
		d.buttons[id] = Sentinel
	}
}

func (d *fakeDOM) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buttons)
}

const shell = `[data-tid="app-layout-area--main"]`

func testCatalog() *selectors.Catalog {
	return selectors.NewCatalog(selectors.Profile{
		Name:    "teams",
		Version: "2025-01-10",
		Roles: map[string]string{
			"app_shell":        shell,
			"scroll_container": "#chat-pane-list",
			"message":          `[data-tid="chat-pane-message"]`,
		},
	})
}

// chatPage returns a page whose chat app lives in an iframe, like Teams.
func chatPage() (*browsertest.Page, *browsertest.Scope, *fakeDOM) {
	main := &browsertest.Scope{ScopeName: "main"}
	dom := &fakeDOM{buttons: map[string]string{}}
	frame := &browsertest.Scope{ScopeName: "frame[0]", OnEval: dom.eval}
	frame.SetPresent(shell, true)
	return browsertest.NewPage(main, frame), frame, dom
}

func TestArm_IdempotentSingleAffordance(t *testing.T) {
	page, frame, dom := chatPage()
	c := New(testCatalog(), Config{})
	ctx := context.Background()

	a1, err := c.Arm(ctx, page)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	a2, err := c.Arm(ctx, page)
	if err != nil {
		t.Fatalf("second Arm: %v", err)
	}
	if a1 != a2 {
		t.Error("second Arm should return the existing Armed")
	}
	if a1.Scope != frame {
		t.Errorf("armed scope: got %s, want frame[0]", a1.Scope.Name())
	}
	if got := dom.count(); got != 1 {
		t.Errorf("affordances: got %d, want 1", got)
	}
}

func TestArm_NotDetected(t *testing.T) {
	page := browsertest.NewPage(&browsertest.Scope{ScopeName: "main"})
	c := New(testCatalog(), Config{})
	if _, err := c.Arm(context.Background(), page); !errors.Is(err, ErrNotDetected) {
		t.Fatalf("Arm: got %v, want ErrNotDetected", err)
	}
}

func TestArm_IncompleteProfileFailsFast(t *testing.T) {
	cat := selectors.NewCatalog(selectors.Profile{
		Name:  "broken",
		Roles: map[string]string{"app_shell": shell, "message": ".m"},
	})
	page, _, _ := chatPage()
	c := New(cat, Config{})
	_, err := c.Arm(context.Background(), page)
	if err == nil || errors.Is(err, ErrNotDetected) {
		t.Fatalf("Arm: got %v, want configuration error", err)
	}
}

func TestWaitForActivation_Sentinel(t *testing.T) {
	page, frame, dom := chatPage()
	c := New(testCatalog(), Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for dom.count() == 0 {
			time.Sleep(time.Millisecond)
		}
		dom.click()
	}()

	act, err := c.WaitForActivation(ctx, page, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForActivation: %v", err)
	}
	if act.Scope != frame {
		t.Errorf("activation scope: got %s, want frame[0]", act.Scope.Name())
	}
	if act.Set.Name() != "teams@2025-01-10" {
		t.Errorf("profile: got %q", act.Set.Name())
	}
}

func TestWaitForActivation_NotDetectedAfterCycles(t *testing.T) {
	page := browsertest.NewPage(&browsertest.Scope{ScopeName: "main"})
	c := New(testCatalog(), Config{DetectCycles: 3})
	_, err := c.WaitForActivation(context.Background(), page, time.Millisecond)
	if !errors.Is(err, ErrNotDetected) {
		t.Fatalf("got %v, want ErrNotDetected", err)
	}
}

func TestWaitForActivation_PageClosed(t *testing.T) {
	page, _, _ := chatPage()
	c := New(testCatalog(), Config{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		page.Close()
	}()
	_, err := c.WaitForActivation(context.Background(), page, 2*time.Millisecond)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

func TestWaitForActivation_ContextCancelled(t *testing.T) {
	page, _, _ := chatPage()
	c := New(testCatalog(), Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.WaitForActivation(ctx, page, 2*time.Millisecond)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause: got %v, want DeadlineExceeded", err)
	}
}

func TestWaitForActivation_RearmsAfterNavigation(t *testing.T) {
	page, frame, _ := chatPage()
	c := New(testCatalog(), Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Arm(ctx, page); err != nil {
		t.Fatal(err)
	}

	// The frame is destroyed and replaced by a fresh one.
	frame.SetGone(true)
	dom2 := &fakeDOM{buttons: map[string]string{}}
	frame2 := &browsertest.Scope{ScopeName: "frame[0]", OnEval: dom2.eval}
	frame2.SetPresent(shell, true)
	page.SetScopes(&browsertest.Scope{ScopeName: "main"}, frame2)

	go func() {
		for dom2.count() == 0 {
			time.Sleep(time.Millisecond)
		}
		dom2.click()
	}()

	act, err := c.WaitForActivation(ctx, page, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForActivation: %v", err)
	}
	if act.Scope != frame2 {
		t.Error("activation should come from the replacement frame")
	}
}

func TestSessionGuard(t *testing.T) {
	page, _, _ := chatPage()
	c := New(testCatalog(), Config{})
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := c.Begin(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Begin: got %v, want ErrSessionActive", err)
	}
	if _, err := c.Arm(context.Background(), page); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Arm during session: got %v, want ErrSessionActive", err)
	}
	c.End()
	if _, err := c.Arm(context.Background(), page); err != nil {
		t.Errorf("Arm after End: %v", err)
	}
}

func TestDisarm_RemovesAffordance(t *testing.T) {
	page, _, dom := chatPage()
	c := New(testCatalog(), Config{})
	ctx := context.Background()
	if _, err := c.Arm(ctx, page); err != nil {
		t.Fatal(err)
	}
	c.Disarm(ctx, "Export complete")
	if got := dom.count(); got != 0 {
		t.Errorf("affordances after Disarm: got %d, want 0", got)
	}
	if dom.notice != "Export complete" {
		t.Errorf("notice: got %q", dom.notice)
	}
	// Re-arming injects a fresh button.
	if _, err := c.Arm(ctx, page); err != nil {
		t.Fatal(err)
	}
	if got := dom.count(); got != 1 {
		t.Errorf("affordances after re-arm: got %d, want 1", got)
	}
}
