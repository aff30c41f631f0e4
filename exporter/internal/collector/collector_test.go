package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// virtualList mounts a window of `window` items out of `total`, starting
// at the newest end. Each ScrollUp moves the window by `stride` items.
// Items below `loaded` are not in the list yet: they load `lazy` steps
// after the top is reached, the way chat clients page in older history.
type virtualList struct {
	total, window, stride int
	top                   int // index of the first mounted item
	loaded                int // first loaded index
	lazy                  int // steps at the top before the next history page loads
	atTop                 int
	scrolls               int
	failAt                int // ScrollUp call that fails, 0 = never
	noIDs                 bool
	runs                  int // consecutive items sharing identical content
}

func newVirtualList(total, window, stride int) *virtualList {
	top := total - window
	if top < 0 {
		top = 0
	}
	return &virtualList{total: total, window: window, stride: stride, top: top}
}

func (v *virtualList) mounted() (lo, hi int) {
	hi = v.top + v.window
	if hi > v.total {
		hi = v.total
	}
	return v.top, hi
}

func (v *virtualList) Sample(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	lo, hi := v.mounted()
	snap := Snapshot{Offset: float64(v.top-v.loaded) * 40, Extent: float64(v.total-v.loaded) * 40, Title: "General"}
	for i := lo; i < hi; i++ {
		g := i
		if v.runs > 0 {
			g = i / v.runs
		}
		o := Observation{
			Author:    fmt.Sprintf("user%d", g%3),
			Timestamp: fmt.Sprintf("2025-01-01T10:%02d:%02dZ", g/60, g%60),
			Text:      fmt.Sprintf("message %d", g),
			HTML:      fmt.Sprintf(`<div data-mid="%d">message %d</div>`, i, i),
			Slot:      i - lo,
		}
		if !v.noIDs {
			o.NativeID = fmt.Sprint(i)
		}
		snap.Items = append(snap.Items, o)
	}
	return snap, nil
}

func (v *virtualList) ScrollUp(ctx context.Context) error {
	v.scrolls++
	if v.failAt > 0 && v.scrolls >= v.failAt {
		return errors.New("execution context was destroyed")
	}
	if v.top == v.loaded && v.loaded > 0 {
		v.atTop++
		if v.atTop >= v.lazy {
			v.loaded -= v.stride * 2
			if v.loaded < 0 {
				v.loaded = 0
			}
			v.atTop = 0
		}
		return nil
	}
	v.top -= v.stride
	if v.top < v.loaded {
		v.top = v.loaded
	}
	return nil
}

func msg(author, ts, text string) Observation {
	return Observation{Author: author, Timestamp: ts, Text: text}
}

func TestIdentify_NativeID(t *testing.T) {
	a := Observation{NativeID: "1700000000001", Slot: 3, HTML: "<div>a</div>"}
	b := Observation{NativeID: "1700000000001", Slot: 27, HTML: "<div>a, re-rendered</div>"}
	ka := Identify([]Observation{a}, false)
	kb := Identify([]Observation{msg("x", "1", "y"), b}, false)
	if ka[0] != "id:1700000000001" {
		t.Errorf("native key: got %q", ka[0])
	}
	if ka[0] != kb[1] {
		t.Errorf("native key moved with the window: %q != %q", ka[0], kb[1])
	}
}

func TestIdentify_IdenticalMessagesStayDistinct(t *testing.T) {
	items := []Observation{
		msg("Ana", "10:00", "deploy?"),
		msg("Bo", "10:01", "ok"),
		msg("Bo", "10:01", "ok"),
	}
	keys := Identify(items, false)
	if keys[0] != "" {
		t.Errorf("first node has no mounted anchor: got %q, want deferred", keys[0])
	}
	if keys[1] == "" || keys[2] == "" {
		t.Fatalf("anchored nodes must be keyed: %q", keys)
	}
	if keys[1] == keys[2] {
		t.Errorf("two identical replies share key %q", keys[1])
	}
	if len(keys[1]) != 2+16 {
		t.Errorf("content key length: got %d, want 18", len(keys[1]))
	}

	top := Identify(items, true)
	if top[0] == "" {
		t.Error("at the top the first node must be keyed")
	}
	if top[1] != keys[1] || top[2] != keys[2] {
		t.Error("atTop must not change anchored keys")
	}
}

func TestIdentify_WindowIndependent(t *testing.T) {
	history := []Observation{
		msg("Ana", "10:00", "a"),
		msg("Bo", "10:01", "ok"),
		msg("Bo", "10:01", "ok"),
		msg("Ana", "10:02", "b"),
		msg("Bo", "10:03", "ok"),
		msg("Bo", "10:03", "ok"),
		msg("Bo", "10:03", "ok"),
		msg("Ana", "10:04", "c"),
	}
	full := Identify(history, true)
	seen := map[string]bool{}
	for i, k := range full {
		if k == "" || seen[k] {
			t.Fatalf("full history key %d: %q (seen=%v)", i, k, seen[k])
		}
		seen[k] = true
	}
	for lo := 1; lo < len(history)-1; lo++ {
		for hi := lo + 2; hi <= len(history); hi++ {
			keys := Identify(history[lo:hi], false)
			for j, k := range keys {
				if k != "" && k != full[lo+j] {
					t.Errorf("window %d-%d item %d: got %q, want %q", lo, hi, lo+j, k, full[lo+j])
				}
			}
		}
	}
	// A window starting inside the second "ok" run defers the whole run.
	keys := Identify(history[5:], false)
	if keys[0] != "" || keys[1] != "" {
		t.Errorf("run without mounted anchor: got %q, want deferred", keys[:2])
	}
}

func TestCollectedSet_Idempotent(t *testing.T) {
	s := NewCollectedSet()
	if !s.Add(record.Fragment{Key: "id:1"}) {
		t.Fatal("first Add should insert")
	}
	if s.Add(record.Fragment{Key: "id:1", HTML: "other"}) {
		t.Fatal("second Add of the same key should be refused")
	}
	s.Add(record.Fragment{Key: "id:2"})
	if s.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", s.Len())
	}
	frags := s.Fragments()
	if frags[0].HTML != "" {
		t.Error("first observation must win")
	}
	if frags[1].Seq != 1 {
		t.Errorf("Seq: got %d, want 1", frags[1].Seq)
	}
}

func TestRun_RepeatedSamplingDoesNotGrow(t *testing.T) {
	// A list that never moves: every sample returns the same window.
	v := newVirtualList(30, 30, 0)
	e := New(Config{ConfirmRepeats: 4})
	res, err := e.Run(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fragments) != 30 {
		t.Errorf("fragments: got %d, want 30", len(res.Fragments))
	}
	if res.Steps != 4 {
		t.Errorf("steps: got %d, want 4", res.Steps)
	}
	if !res.Converged {
		t.Error("expected convergence")
	}
}

func TestRun_ConvergesInLinearSteps(t *testing.T) {
	const total, window, stride, repeats = 250, 30, 15, 5
	v := newVirtualList(total, window, stride)

	var progress []Progress
	e := New(Config{
		ConfirmRepeats: repeats,
		OnProgress:     func(p Progress) { progress = append(progress, p) },
	})
	res, err := e.Run(context.Background(), v)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Fragments) != total {
		t.Fatalf("fragments: got %d, want %d", len(res.Fragments), total)
	}
	maxSteps := (total-window+stride-1)/stride + repeats
	if res.Steps > maxSteps {
		t.Errorf("steps: got %d, want <= %d", res.Steps, maxSteps)
	}
	if !res.Converged || res.Incomplete {
		t.Errorf("converged=%v incomplete=%v", res.Converged, res.Incomplete)
	}
	if e.State() != Done {
		t.Errorf("state: got %s, want done", e.State())
	}
	if res.Title != "General" {
		t.Errorf("title: got %q", res.Title)
	}

	seen := map[string]bool{}
	for _, f := range res.Fragments {
		if seen[f.Key] {
			t.Fatalf("duplicate key %s", f.Key)
		}
		seen[f.Key] = true
	}

	last := -1
	for _, p := range progress {
		if p.Collected < last {
			t.Fatalf("progress went backwards: %d after %d", p.Collected, last)
		}
		last = p.Collected
	}
	if last != total {
		t.Errorf("final progress: got %d, want %d", last, total)
	}
}

func TestRun_ContentIdentityWithoutNativeIDs(t *testing.T) {
	v := newVirtualList(100, 20, 10)
	v.noIDs = true
	res, err := New(Config{}).Run(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fragments) != 100 {
		t.Errorf("fragments: got %d, want 100", len(res.Fragments))
	}
}

func TestRun_RepeatedContentWithoutNativeIDs(t *testing.T) {
	v := newVirtualList(100, 20, 10)
	v.noIDs = true
	v.runs = 3
	res, err := New(Config{}).Run(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fragments) != 100 {
		t.Errorf("fragments: got %d, want 100 (identical consecutive messages are distinct)", len(res.Fragments))
	}
}

func TestRun_WaitsForLazyHistory(t *testing.T) {
	v := newVirtualList(200, 30, 15)
	v.loaded = 100
	v.top = 170
	v.lazy = 3
	res, err := New(Config{ConfirmRepeats: 5}).Run(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fragments) != 200 {
		t.Errorf("fragments: got %d, want 200 (older pages load after a pause)", len(res.Fragments))
	}
}

func TestRun_BatchSeesMountedNodes(t *testing.T) {
	v := newVirtualList(120, 30, 15)
	batches := 0
	e := New(Config{
		OnBatch: func(_ context.Context, batch []record.Fragment) error {
			batches++
			lo, hi := v.mounted()
			for _, f := range batch {
				var idx int
				fmt.Sscan(f.NativeID, &idx)
				if idx < lo || idx >= hi {
					t.Errorf("fragment %s handed over after unmount (window %d-%d)", f.NativeID, lo, hi)
				}
			}
			return nil
		},
	})
	if _, err := e.Run(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if batches == 0 {
		t.Error("OnBatch never called")
	}
}

func TestRun_ContextLostKeepsPartial(t *testing.T) {
	v := newVirtualList(250, 30, 15)
	v.failAt = 4
	res, err := New(Config{}).Run(context.Background(), v)
	if !errors.Is(err, record.ErrContextLost) {
		t.Fatalf("err: got %v, want ErrContextLost", err)
	}
	if res == nil || !res.Incomplete {
		t.Fatal("expected an incomplete partial result")
	}
	// Initial window plus three successful strides.
	if want := 30 + 3*15; len(res.Fragments) != want {
		t.Errorf("partial fragments: got %d, want %d", len(res.Fragments), want)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	v := newVirtualList(250, 30, 15)
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Config{
		OnProgress: func(p Progress) {
			if p.Step == 2 {
				cancel()
			}
		},
	})
	res, err := e.Run(ctx, v)
	if !errors.Is(err, record.ErrContextLost) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v, want ErrContextLost wrapping Canceled", err)
	}
	if !res.Incomplete || len(res.Fragments) == 0 {
		t.Errorf("partial: incomplete=%v fragments=%d", res.Incomplete, len(res.Fragments))
	}
}

func TestRun_MaxStepsIncomplete(t *testing.T) {
	v := newVirtualList(250, 30, 15)
	res, err := New(Config{MaxSteps: 3}).Run(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Incomplete || res.Converged {
		t.Errorf("incomplete=%v converged=%v, want true/false", res.Incomplete, res.Converged)
	}
	if res.Steps != 3 {
		t.Errorf("steps: got %d, want 3", res.Steps)
	}
}

func TestRun_BatchErrorAborts(t *testing.T) {
	v := newVirtualList(60, 30, 15)
	boom := errors.New("disk full")
	_, err := New(Config{
		OnBatch: func(context.Context, []record.Fragment) error { return boom },
	}).Run(context.Background(), v)
	if !errors.Is(err, boom) {
		t.Fatalf("err: got %v, want boom", err)
	}
}

// channelList is a virtualList whose posts at `threads` carry collapsed
// replies, opened into a replyList.
type channelList struct {
	*virtualList
	threads  map[int]int // post index -> reply count
	unopened map[int]bool
	open     int // post whose thread view is showing, -1 = none
	closes   int
}

func newChannelList(total, window, stride int, threads map[int]int) *channelList {
	return &channelList{
		virtualList: newVirtualList(total, window, stride),
		threads:     threads,
		unopened:    map[int]bool{},
		open:        -1,
	}
}

func (c *channelList) Sample(ctx context.Context) (Snapshot, error) {
	snap, err := c.virtualList.Sample(ctx)
	if err != nil {
		return snap, err
	}
	lo, hi := c.mounted()
	for i := lo; i < hi; i++ {
		if _, ok := c.threads[i]; ok {
			snap.Threads = append(snap.Threads, ThreadRef{ID: fmt.Sprint(i), Subject: fmt.Sprintf("post %d", i)})
		}
	}
	return snap, nil
}

func (c *channelList) ScrollDown(ctx context.Context) error {
	c.top += c.stride
	if last := c.total - c.window; c.top > last {
		c.top = last
	}
	return nil
}

func (c *channelList) OpenThread(ctx context.Context, t ThreadRef) (Surface, bool, error) {
	var idx int
	fmt.Sscan(t.ID, &idx)
	lo, hi := c.mounted()
	if idx < lo || idx >= hi || c.unopened[idx] {
		return nil, false, nil
	}
	if c.open != -1 {
		return nil, false, errors.New("thread already open")
	}
	c.open = idx
	return &replyList{thread: t, n: c.threads[idx]}, true, nil
}

func (c *channelList) CloseThread(ctx context.Context) error {
	if c.open == -1 {
		return errors.New("no thread open")
	}
	c.open = -1
	c.closes++
	return nil
}

// replyList is a thread view short enough to be fully mounted.
type replyList struct {
	thread ThreadRef
	n      int
}

func (r *replyList) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Title: "thread"}
	for i := 0; i < r.n; i++ {
		snap.Items = append(snap.Items, Observation{
			NativeID: fmt.Sprintf("%s-r%d", r.thread.ID, i),
			Text:     fmt.Sprintf("reply %d", i),
			ThreadID: r.thread.ID,
			Subject:  r.thread.Subject,
		})
	}
	return snap, nil
}

func (r *replyList) ScrollUp(ctx context.Context) error { return nil }

func TestRun_ExpandsReplyThreads(t *testing.T) {
	c := newChannelList(100, 20, 10, map[int]int{5: 3, 50: 2, 95: 4})
	res, err := New(Config{}).Run(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if want := 100 + 3 + 2 + 4; len(res.Fragments) != want {
		t.Errorf("fragments: got %d, want %d", len(res.Fragments), want)
	}
	if res.ThreadsHidden != 3 || res.ThreadsExpanded != 3 {
		t.Errorf("threads: hidden=%d expanded=%d, want 3/3", res.ThreadsHidden, res.ThreadsExpanded)
	}
	if res.Incomplete || !res.Converged {
		t.Errorf("incomplete=%v converged=%v", res.Incomplete, res.Converged)
	}
	if c.closes != 3 || c.open != -1 {
		t.Errorf("closes: got %d (open=%d), want 3", c.closes, c.open)
	}
	if res.Title != "General" {
		t.Errorf("title: got %q, want the channel's", res.Title)
	}
	for _, f := range res.Fragments {
		if f.NativeID == "50-r1" && f.ThreadID != "50" {
			t.Errorf("reply thread: got %q, want 50", f.ThreadID)
		}
	}
}

func TestRun_UnopenableThreadMarksIncomplete(t *testing.T) {
	c := newChannelList(60, 20, 10, map[int]int{10: 2, 30: 1})
	c.unopened[30] = true
	res, err := New(Config{ThreadSearchSteps: 6}).Run(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.ThreadsHidden != 2 || res.ThreadsExpanded != 1 {
		t.Errorf("threads: hidden=%d expanded=%d, want 2/1", res.ThreadsHidden, res.ThreadsExpanded)
	}
	if res.ThreadsMissed() != 1 || !res.Incomplete {
		t.Errorf("missed=%d incomplete=%v, want 1/true", res.ThreadsMissed(), res.Incomplete)
	}
	if want := 60 + 2; len(res.Fragments) != want {
		t.Errorf("fragments: got %d, want %d", len(res.Fragments), want)
	}
}
