package exporter

import (
	"sync"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// Phase is what the exporter is doing right now.
type Phase string

const (
	PhaseIdle       Phase = "idle"       // browser not attached
	PhaseArmed      Phase = "armed"      // button injected, waiting for a click
	PhaseCollecting Phase = "collecting" // session running
)

// Snapshot is the observable state of the exporter.
type Snapshot struct {
	Phase    Phase            `json:"phase"`
	Scope    string           `json:"scope,omitempty"`
	Profile  string           `json:"profile,omitempty"`
	Session  *record.Session  `json:"session,omitempty"`
	Progress *record.Progress `json:"progress,omitempty"`
	Last     *record.Outcome  `json:"last,omitempty"`
}

// Tracker holds the current session state for the status API. The
// collected count it reports never decreases within a session.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Phase: PhaseIdle}}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	if s.Session != nil {
		c := *s.Session
		s.Session = &c
	}
	if s.Progress != nil {
		c := *s.Progress
		s.Progress = &c
	}
	if s.Last != nil {
		c := *s.Last
		s.Last = &c
	}
	return s
}

// Armed records that the button is live in scope.
func (t *Tracker) Armed(scope, profile string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Phase == PhaseCollecting {
		return
	}
	t.snap.Phase = PhaseArmed
	t.snap.Scope = scope
	t.snap.Profile = profile
}

// Begin records a new running session.
func (t *Tracker) Begin(s record.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Phase = PhaseCollecting
	t.snap.Scope = s.Scope
	t.snap.Profile = s.Profile
	t.snap.Session = &s
	t.snap.Progress = &record.Progress{SessionID: s.ID, Status: record.StatusRunning}
}

// Progress records p if it belongs to the running session and does not
// move the count backwards.
func (t *Tracker) Progress(p record.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.snap.Progress
	if cur == nil || cur.SessionID != p.SessionID || p.Collected < cur.Collected {
		return
	}
	t.snap.Progress = &p
}

// End records the outcome and returns to idle.
func (t *Tracker) End(o record.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Phase = PhaseIdle
	t.snap.Session = nil
	t.snap.Progress = nil
	t.snap.Last = &o
}
