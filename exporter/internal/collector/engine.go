// CLAUDE:SUMMARY Scroll-and-collect state machine: samples the mounted window, dedups by identity, scrolls up with device input until the offset and the set both stop changing.
// Package collector enumerates every message of a virtualized list. Only a
// window of nodes is mounted at any time, so the engine alternates
// sampling the window and scrolling toward older history, accumulating
// fragments in a CollectedSet until nothing new appears and the scroll
// offset stops moving.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// State is the engine's lifecycle state.
type State int32

const (
	Idle State = iota
	Scrolling
	Sampling
	Converged
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scrolling:
		return "scrolling"
	case Sampling:
		return "sampling"
	case Converged:
		return "converged"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Snapshot is what one sample reads from the page.
type Snapshot struct {
	Items   []Observation
	Offset  float64 // scroll offset of the container
	Extent  float64 // scrollable height; grows when older history loads
	Title   string
	URL     string
	Threads []ThreadRef // mounted posts whose replies are collapsed
}

// ThreadRef names a channel post whose replies are hidden behind a button.
type ThreadRef struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

// Surface is the list being collected. ScrollUp must move the view
// through device-level input.
type Surface interface {
	Sample(ctx context.Context) (Snapshot, error)
	ScrollUp(ctx context.Context) error
}

// Threaded is implemented by channel surfaces that can open collapsed
// reply threads. After the channel converges the engine opens every
// thread its snapshots reported and collects the thread view like any
// other list.
type Threaded interface {
	// OpenThread enters t's reply view. ok is false when t's button is
	// not mounted.
	OpenThread(ctx context.Context, t ThreadRef) (view Surface, ok bool, err error)
	// CloseThread returns to the channel view.
	CloseThread(ctx context.Context) error
	// ScrollDown moves the channel view one step toward newer posts.
	ScrollDown(ctx context.Context) error
}

// Progress is reported after every step. Collected never decreases.
type Progress struct {
	Step      int
	Collected int
	New       int
	State     State
}

// Config configures the engine.
type Config struct {
	// SettleDelay is waited after each scroll so the list can mount the
	// next window. Zero waits nothing.
	SettleDelay time.Duration
	// ConfirmRepeats is the number of consecutive steps with no new
	// identity and no scroll movement that mean the top was reached.
	// Default: 5.
	ConfirmRepeats int
	// MaxSteps bounds the number of scroll steps, thread views included.
	// Zero = unbounded. Hitting the bound yields an incomplete result.
	MaxSteps int
	// ThreadSearchSteps is how many scroll steps the engine spends looking
	// for a mounted reply button before giving up on the remaining
	// threads. Default: 40.
	ThreadSearchSteps int

	// OnBatch receives each step's newly collected fragments before the
	// next scroll, while their nodes are still mounted. An error aborts
	// the run.
	OnBatch func(ctx context.Context, batch []record.Fragment) error
	// OnProgress is called after every step.
	OnProgress func(Progress)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ConfirmRepeats <= 0 {
		c.ConfirmRepeats = 5
	}
	if c.ThreadSearchSteps <= 0 {
		c.ThreadSearchSteps = 40
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome of a run. Fragments are in first-observation order.
type Result struct {
	Fragments  []record.Fragment
	Steps      int
	Converged  bool
	Incomplete bool
	Title      string
	URL        string
	Cause      error

	// Reply threads reported collapsed, and how many of them were opened.
	ThreadsHidden   int
	ThreadsExpanded int
}

// ThreadsMissed is the number of collapsed threads never opened.
func (r *Result) ThreadsMissed() int { return r.ThreadsHidden - r.ThreadsExpanded }

// Engine runs one collection.
type Engine struct {
	cfg     Config
	state   atomic.Int32
	set     *CollectedSet
	step    int
	threads []ThreadRef
	hidden  map[string]bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, set: NewCollectedSet(), hidden: map[string]bool{}}
}

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	if old := State(e.state.Swap(int32(s))); old != s {
		e.cfg.Logger.Debug("collector: state", "from", old.String(), "to", s.String())
	}
}

// errStepLimit ends a scan at MaxSteps.
var errStepLimit = errors.New("collector: step limit reached")

// Run collects until convergence, MaxSteps, or failure, then opens the
// collapsed reply threads when s is Threaded. On failure the error wraps
// record.ErrContextLost and the returned Result still holds every
// fragment collected so far, marked Incomplete.
func (e *Engine) Run(ctx context.Context, s Surface) (*Result, error) {
	log := e.cfg.Logger
	res := &Result{}
	finish := func() {
		e.setState(Done)
		res.Fragments = e.set.Fragments()
		res.Steps = e.step
		res.ThreadsHidden = len(e.threads)
	}

	err := e.scan(ctx, s, res)
	if err == nil {
		res.Converged = true
		if th, ok := s.(Threaded); ok && len(e.threads) > 0 {
			err = e.expand(ctx, s, th, res)
		}
	}
	switch {
	case errors.Is(err, errStepLimit):
		log.Warn("collector: step limit reached", "steps", e.step, "collected", e.set.Len())
		res.Incomplete = true
	case err != nil:
		finish()
		res.Incomplete = true
		res.Cause = err
		log.Warn("collector: aborted", "step", e.step, "collected", e.set.Len(), "error", err)
		return res, fmt.Errorf("collector: step %d: %w: %w", e.step, record.ErrContextLost, err)
	}

	finish()
	if res.ThreadsMissed() > 0 {
		res.Incomplete = true
		log.Warn("collector: reply threads not expanded", "missed", res.ThreadsMissed(), "hidden", res.ThreadsHidden)
	}
	log.Info("collector: finished", "steps", e.step, "collected", len(res.Fragments),
		"converged", res.Converged, "threads", res.ThreadsExpanded)
	return res, nil
}

// scan samples s and scrolls it up until ConfirmRepeats quiet steps. The
// last, still mounted sample is absorbed as the top of the list so nodes
// waiting for an anchor are kept. It returns errStepLimit at MaxSteps.
func (e *Engine) scan(ctx context.Context, s Surface, res *Result) error {
	log := e.cfg.Logger
	e.setState(Sampling)
	snap, err := s.Sample(ctx)
	if err != nil {
		return err
	}
	if res.Title == "" {
		res.Title, res.URL = snap.Title, snap.URL
	}
	added, err := e.absorb(ctx, snap, false)
	if err != nil {
		return err
	}
	e.progress(added)

	stable := 0
	for {
		if e.cfg.MaxSteps > 0 && e.step >= e.cfg.MaxSteps {
			if _, err := e.absorb(ctx, snap, true); err != nil {
				return err
			}
			return errStepLimit
		}

		e.setState(Scrolling)
		if err := s.ScrollUp(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
			return err
		}
		e.step++

		e.setState(Sampling)
		next, err := s.Sample(ctx)
		if err != nil {
			return err
		}
		if res.Title == "" {
			res.Title = next.Title
		}
		added, err := e.absorb(ctx, next, false)
		if err != nil {
			return err
		}

		moved := math.Abs(next.Offset-snap.Offset) >= 1 || math.Abs(next.Extent-snap.Extent) >= 1
		snap = next
		if added == 0 && !moved {
			stable++
		} else {
			stable = 0
		}
		log.Debug("collector: step", "step", e.step, "new", added, "collected", e.set.Len(),
			"offset", snap.Offset, "stable", stable)

		if stable >= e.cfg.ConfirmRepeats {
			e.setState(Converged)
			added, err := e.absorb(ctx, snap, true)
			if err != nil {
				return err
			}
			e.progress(added)
			return nil
		}
		e.progress(added)
	}
}

// expand opens every reported thread in turn. The channel view is
// searched downward from the top for a mounted reply button, reversing
// whenever the view stops moving; after ThreadSearchSteps fruitless steps
// the remaining threads are left unopened.
func (e *Engine) expand(ctx context.Context, s Surface, th Threaded, res *Result) error {
	log := e.cfg.Logger
	opened := map[string]bool{}
	down, misses := true, 0
	var lastOffset float64 = -1

	for len(opened) < len(e.threads) {
		e.setState(Sampling)
		snap, err := s.Sample(ctx)
		if err != nil {
			return err
		}
		if _, err := e.absorb(ctx, snap, false); err != nil {
			return err
		}

		var target *ThreadRef
		for i := range snap.Threads {
			if !opened[snap.Threads[i].ID] {
				target = &snap.Threads[i]
				break
			}
		}
		if target != nil {
			view, ok, err := th.OpenThread(ctx, *target)
			if err != nil {
				return err
			}
			if ok {
				opened[target.ID] = true
				misses = 0
				if err := e.collectThread(ctx, th, view, *target, res); err != nil {
					return err
				}
				continue
			}
		}

		if misses >= e.cfg.ThreadSearchSteps {
			log.Warn("collector: reply buttons not found", "left", len(e.threads)-len(opened))
			return nil
		}
		if e.cfg.MaxSteps > 0 && e.step >= e.cfg.MaxSteps {
			return errStepLimit
		}
		misses++
		if snap.Offset == lastOffset {
			down = !down
		}
		lastOffset = snap.Offset

		e.setState(Scrolling)
		scroll := s.ScrollUp
		if down {
			scroll = th.ScrollDown
		}
		if err := scroll(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
			return err
		}
		e.step++
		e.progress(0)
	}
	return nil
}

// collectThread scans one opened thread view and returns to the channel.
func (e *Engine) collectThread(ctx context.Context, th Threaded, view Surface, t ThreadRef, res *Result) error {
	before := e.set.Len()
	scanErr := e.scan(ctx, view, res)
	if scanErr != nil && !errors.Is(scanErr, errStepLimit) {
		return scanErr
	}
	res.ThreadsExpanded++
	e.cfg.Logger.Debug("collector: thread expanded", "thread", t.ID, "new", e.set.Len()-before)
	if err := th.CloseThread(ctx); err != nil {
		return err
	}
	return scanErr
}

// absorb inserts the unseen observations of snap and hands them to
// OnBatch. It also records collapsed threads. atTop absorbs nodes whose
// anchor is missing as the start of the list.
func (e *Engine) absorb(ctx context.Context, snap Snapshot, atTop bool) (int, error) {
	for _, t := range snap.Threads {
		if t.ID != "" && !e.hidden[t.ID] {
			e.hidden[t.ID] = true
			e.threads = append(e.threads, t)
		}
	}

	var batch []record.Fragment
	for i, key := range Identify(snap.Items, atTop) {
		if key == "" {
			continue
		}
		o := snap.Items[i]
		f := record.Fragment{
			Key:         key,
			NativeID:    o.NativeID,
			HTML:        o.HTML,
			ContextHTML: o.ContextHTML,
			ThreadID:    o.ThreadID,
			Subject:     o.Subject,
			PageURL:     snap.URL,
			Sample:      e.step,
			Slot:        o.Slot,
		}
		if e.set.Add(f) {
			f.Seq = e.set.Len() - 1
			batch = append(batch, f)
		}
	}
	if len(batch) == 0 || e.cfg.OnBatch == nil {
		return len(batch), nil
	}
	return len(batch), e.cfg.OnBatch(ctx, batch)
}

func (e *Engine) progress(added int) {
	if e.cfg.OnProgress == nil {
		return
	}
	e.cfg.OnProgress(Progress{Step: e.step, Collected: e.set.Len(), New: added, State: e.State()})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
