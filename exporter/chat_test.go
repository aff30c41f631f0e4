package exporter

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"maps"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/scrollback/dbopen"
	"github.com/hazyhaar/scrollback/exporter/internal/assets"
	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/internal/browser/browsertest"
	"github.com/hazyhaar/scrollback/exporter/internal/collector"
	"github.com/hazyhaar/scrollback/exporter/internal/config"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
	"github.com/hazyhaar/scrollback/exporter/internal/store"
	"github.com/hazyhaar/scrollback/exporter/internal/trigger"
)

const (
	shellSel       = `[data-tid="app-layout-area--main"]`
	containerSel   = "#chat-pane-list"
	threadViewSel  = `[data-tid="channel-replies-viewport"]`
	threadCloseSel = `[data-tid="close-l2-view-button"]`
)

var chatRoles = map[string]string{
	"app_shell":        shellSel,
	"scroll_container": containerSel,
	"message":          `[data-tid="chat-pane-message"]`,
	"sender":           `[data-tid="message-author-name"]`,
	"timestamp":        "time",
	"content":          `[data-tid="message-body"]`,
	"force_screenshot": `[data-tid="emoticon-sprite"]`,
}

func chatProfile() selectors.Profile {
	return selectors.Profile{Name: "teams", Version: "2025-01-10", Roles: chatRoles}
}

// channelProfile is chatProfile in channel mode with reply expansion.
func channelProfile() selectors.Profile {
	roles := maps.Clone(chatRoles)
	roles["thread_container"] = `[data-tid="channel-pane-message"]`
	roles["reply_button"] = `[data-tid="response-summary-button"]`
	roles["thread_view"] = threadViewSel
	roles["thread_message"] = threadViewSel + ` [data-tid="chat-pane-message"]`
	roles["thread_close"] = threadCloseSel
	return selectors.Profile{Name: "teams-channel", Version: "2025-01-10", IsChannel: true, Roles: roles}
}

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// fakeChat is a virtualized chat list of total messages, oldest first,
// mounting window items at a time. Message i carries a sprite when
// i%10 == 0 and a content image when i%10 == 5; downloads of images
// with i%20 == 5 fail. Captures only succeed for mounted nodes.
type fakeChat struct {
	mu            sync.Mutex
	total, window int
	stride        int
	top           int
	wheels        int
	loseAfter     int // wheel count after which the frame disappears, 0 = never
	scope         *browsertest.Scope
	replies       map[int]int // channel posts with collapsed replies -> reply count
	openThread    int         // post whose reply view is showing, -1 = none
	buttons       map[string]string
	notice        string
	unmountedShot int
	downloads     int
	shot, frame   []byte
}

func newFakeChat(total, window, stride int) *fakeChat {
	c := &fakeChat{
		total: total, window: window, stride: stride,
		top:        max(total-window, 0),
		openThread: -1,
		buttons:    map[string]string{},
		shot:       pngBytes(64, 64),
		frame:      pngBytes(200, 200),
	}
	c.scope = &browsertest.Scope{
		ScopeName:     "frame[0]",
		Location:      "https://teams.example.com/v2/",
		OnEval:        c.eval,
		OnWheel:       c.wheel,
		OnElementShot: c.elementShot,
		OnVisibleBox:  c.visibleBox,
		OnScreenshot:  func() ([]byte, error) { return c.frame, nil },
		OnClick:       c.onClick,
	}
	c.scope.SetPresent(shellSel, true)
	c.scope.SetPresent(containerSel, true)
	return c
}

func (c *fakeChat) page() *browsertest.Page {
	return browsertest.NewPage(&browsertest.Scope{ScopeName: "main"}, c.scope)
}

func (c *fakeChat) messageHTML(i int) string {
	var extra string
	switch i % 10 {
	case 0:
		extra = fmt.Sprintf(`<span data-tid="emoticon-sprite" title="party" %s="%d"></span>`, collector.AssetAttr, i)
	case 5:
		extra = fmt.Sprintf(`<img src="https://cdn.example.com/img/%d.png" alt="pic %d" %s="%d">`, i, i, collector.AssetAttr, i)
	}
	return fmt.Sprintf(`<div data-tid="chat-pane-message" data-mid="%d">`+
		`<span data-tid="message-author-name">user%d</span>`+
		`<time title="%s">%s</time>`+
		`<div data-tid="message-body"><p>message %d</p>%s</div></div>`,
		i, i%3, epoch.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), "x", i, extra)
}

func replyButton(post int) string {
	return fmt.Sprintf(`[%s="%d"]`, collector.ThreadAttr, post)
}

// replySample is the reply view of the open thread. Reply j of post r is
// posted (j+1)*10s after r.
func (c *fakeChat) replySample() map[string]any {
	r := c.openThread
	var items []map[string]any
	for j := 0; j < c.replies[r]; j++ {
		id := fmt.Sprintf("%d-r%d", r, j)
		ts := epoch.Add(time.Duration(r)*time.Minute + time.Duration(j+1)*10*time.Second).Format(time.RFC3339)
		items = append(items, map[string]any{
			"nativeId":  id,
			"author":    "user9",
			"timestamp": ts,
			"text":      "reply " + id,
			"threadId":  strconv.Itoa(r),
			"html": fmt.Sprintf(`<div data-tid="chat-pane-message" data-mid="%s">`+
				`<span data-tid="message-author-name">user9</span><time title="%s">x</time>`+
				`<div data-tid="message-body"><p>reply %s</p></div></div>`, id, ts, id),
			"slot": j,
		})
	}
	return map[string]any{"container": true, "title": "Ops Team", "items": items}
}

func (c *fakeChat) sample() map[string]any {
	lo, hi := c.top, min(c.top+c.window, c.total)
	var threads []map[string]any
	for r := range c.replies {
		in := r >= lo && r < hi
		c.scope.SetPresent(replyButton(r), in)
		if in {
			threads = append(threads, map[string]any{"id": strconv.Itoa(r), "subject": ""})
		}
	}
	var items []map[string]any
	for i := lo; i < hi; i++ {
		items = append(items, map[string]any{
			"nativeId":  strconv.Itoa(i),
			"author":    fmt.Sprintf("user%d", i%3),
			"timestamp": epoch.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"text":      fmt.Sprintf("message %d", i),
			"html":      c.messageHTML(i),
			"slot":      i - lo,
		})
	}
	return map[string]any{
		"container":    true,
		"scrollTop":    c.top * 40,
		"scrollHeight": c.total * 40,
		"title":        "Ops Team",
		"url":          "https://teams.example.com/v2/",
		"items":        items,
		"threads":      threads,
	}
}

func (c *fakeChat) eval(js string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch js {
	case collector.SampleJS:
		if _, ok := args[0].(map[string]any)["thread"]; ok {
			return c.replySample(), nil
		}
		return c.sample(), nil
	case assets.FetchJS:
		c.downloads++
		src := args[0].(string)
		n, _ := strconv.Atoi(strings.TrimSuffix(src[strings.LastIndex(src, "/")+1:], ".png"))
		if n%20 == 5 {
			return map[string]any{"error": "HTTP 403 Forbidden"}, nil
		}
		return map[string]any{"dataUrl": "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.shot)}, nil
	case trigger.InjectJS:
		id := args[0].(string)
		if _, ok := c.buttons[id]; ok {
			return "already_injected", nil
		}
		c.buttons[id] = args[1].(string)
		return "injected", nil
	case trigger.ReadJS:
		text, ok := c.buttons[args[0].(string)]
		if !ok {
			return nil, nil
		}
		return text, nil
	case trigger.DisarmJS:
		delete(c.buttons, args[0].(string))
		c.notice = args[1].(string)
		return "removed", nil
	}
	return nil, errors.New("unexpected script")
}

func (c *fakeChat) click() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.buttons {
		c.buttons[id] = trigger.Sentinel
	}
}

func (c *fakeChat) onClick(sel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sel == threadCloseSel && c.openThread >= 0 {
		c.openThread = -1
		c.scope.SetPresent(threadViewSel, false)
		c.scope.SetPresent(threadCloseSel, false)
		return nil
	}
	for r := range c.replies {
		if sel == replyButton(r) && r >= c.top && r < c.top+c.window {
			c.openThread = r
			c.scope.SetPresent(threadViewSel, true)
			c.scope.SetPresent(threadCloseSel, true)
			return nil
		}
	}
	return browser.ErrNoElement
}

func (c *fakeChat) wheel(sel string, dy float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sel == threadViewSel {
		return nil
	}
	if sel != containerSel || (dy >= 0 && c.replies == nil) {
		return fmt.Errorf("unexpected wheel %s %v", sel, dy)
	}
	if dy > 0 {
		c.top = min(c.top+c.stride, max(c.total-c.window, 0))
		return nil
	}
	c.wheels++
	if c.loseAfter > 0 && c.wheels >= c.loseAfter {
		c.scope.SetGone(true)
		return browsertest.ErrGone
	}
	c.top = max(c.top-c.stride, 0)
	return nil
}

// mounted reports whether the stamped node of locator is in the window.
func (c *fakeChat) mounted(locator string) bool {
	prefix := "[" + collector.AssetAttr + `="`
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(locator, prefix), `"]`))
	if err != nil {
		return false
	}
	return n >= c.top && n < c.top+c.window
}

func (c *fakeChat) elementShot(locator string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted(locator) {
		c.unmountedShot++
		return nil, browser.ErrNoElement
	}
	return c.shot, nil
}

func (c *fakeChat) visibleBox(locator string) (browser.Box, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted(locator) {
		c.unmountedShot++
		return browser.Box{}, browser.ErrNoElement
	}
	return browser.Box{X: 10, Y: 20, Width: 24, Height: 24}, nil
}

func testConfig(dir string) *Config {
	cfg := config.Default()
	cfg.Output.Dir = dir
	cfg.Output.Timezone = "UTC"
	cfg.Collect.SettleDelay = time.Microsecond
	cfg.Collect.ConfirmRepeats = 3
	cfg.Trigger.PollInterval = time.Millisecond
	cfg.Trigger.DetectCycles = 5
	cfg.Selectors.Profiles = []selectors.Profile{chatProfile()}
	return cfg
}

func openMemoryStore(t *testing.T) *sql.DB {
	return dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
}
