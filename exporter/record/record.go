// Package record defines the structured types produced by the exporter.
// These are the public contract between the collection core and whatever
// consumes an export (archiver, store, sinks, custom pipelines).
package record

import "time"

// Fragment is one message node as captured at observation time. The HTML
// is copied out of the page immediately: the node itself may be unmounted
// by virtualization before the next scroll step.
type Fragment struct {
	Key         string `json:"key"`                    // identity key, stable for the run
	NativeID    string `json:"native_id,omitempty"`    // the node's own message id, if any
	HTML        string `json:"html"`                   // outer HTML of the message node
	ContextHTML string `json:"context_html,omitempty"` // header container (channel mode)
	ThreadID    string `json:"thread_id,omitempty"`
	Subject     string `json:"subject,omitempty"`
	PageURL     string `json:"page_url,omitempty"`
	Sample      int    `json:"sample"` // scroll step of first observation
	Slot        int    `json:"slot"`   // document position within that sample
	Seq         int    `json:"seq"`    // global first-observation counter
}

// AssetKind is the semantic kind of an image reference.
type AssetKind string

const (
	KindContent  AssetKind = "content"
	KindAvatar   AssetKind = "avatar"
	KindSprite   AssetKind = "sprite"
	KindReaction AssetKind = "reaction"
)

// AssetState is the resolution state of an AssetRef.
type AssetState string

const (
	StateUnresolved    AssetState = "unresolved"
	StateDownloaded    AssetState = "downloaded"
	StateScreenshotted AssetState = "screenshotted"
	StateFailed        AssetState = "failed"
)

// Terminal reports whether s is one of the three end states.
func (s AssetState) Terminal() bool {
	return s == StateDownloaded || s == StateScreenshotted || s == StateFailed
}

// AssetRef identifies one image by its source node and kind, and carries
// its resolution state.
type AssetRef struct {
	ID        string            `json:"id"`
	MessageID string            `json:"message_id"`
	Ordinal   int               `json:"ordinal"` // position within the message
	Kind      AssetKind         `json:"kind"`
	Source    string            `json:"source,omitempty"` // src URL, empty for rendered-only nodes
	Locator   string            `json:"locator"`          // CSS selector of the stamped live node
	Alt       string            `json:"alt,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"` // identifying attributes, used for classification
	State     AssetState        `json:"state"`
	Path      string            `json:"path,omitempty"` // relative to the export directory
	Err       string            `json:"error,omitempty"`
}

// Resolved reports whether the reference ended with a local file.
func (a AssetRef) Resolved() bool {
	return a.State == StateDownloaded || a.State == StateScreenshotted
}

// Reaction is the aggregate of one reaction pill. No per-user attribution.
type Reaction struct {
	Label string    `json:"label"`
	Count int       `json:"count"`
	Icon  *AssetRef `json:"icon,omitempty"`
}

// Message is a normalized chat message.
type Message struct {
	ID          string     `json:"id"`
	Author      string     `json:"author"`
	Timestamp   string     `json:"timestamp"`     // as displayed
	Time        time.Time  `json:"time,omitzero"` // parsed; zero when unparseable
	BodyHTML    string     `json:"body_html"`
	BodyText    string     `json:"body_text"`
	Attachments []AssetRef `json:"attachments"`
	Avatar      *AssetRef  `json:"avatar,omitempty"`
	Reactions   []Reaction `json:"reactions"`
	ThreadID    string     `json:"thread_id,omitempty"`
	Subject     string     `json:"subject,omitempty"`

	// Observation coordinates carried over from the fragment, used as the
	// ordering fallback.
	Sample int `json:"-"`
	Slot   int `json:"-"`
	Seq    int `json:"-"`
}

// Assets returns every asset reference of the message in a stable order:
// avatar, attachments, reaction icons.
func (m *Message) Assets() []*AssetRef {
	var out []*AssetRef
	if m.Avatar != nil {
		out = append(out, m.Avatar)
	}
	for i := range m.Attachments {
		out = append(out, &m.Attachments[i])
	}
	for i := range m.Reactions {
		if m.Reactions[i].Icon != nil {
			out = append(out, m.Reactions[i].Icon)
		}
	}
	return out
}

// Status is the state of an export session.
type Status string

const (
	StatusRunning    Status = "running"
	StatusDone       Status = "done"
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
)

// Session ties one trigger activation to one collection run.
type Session struct {
	ID        string    `json:"id"` // "exp_" + UUIDv7
	Scope     string    `json:"scope"`
	PageURL   string    `json:"page_url,omitempty"`
	ChatTitle string    `json:"chat_title,omitempty"`
	Profile   string    `json:"profile,omitempty"` // selector profile name@version
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Status    Status    `json:"status"`
}

// Progress is emitted after every scroll step and once at the end.
// Collected never decreases within a session.
type Progress struct {
	SessionID string `json:"session_id"`
	Step      int    `json:"step"`
	Collected int    `json:"collected"`
	Status    Status `json:"status"`
}

// Summary lists every degradation of a run. Nothing is silently dropped.
type Summary struct {
	Collected      int      `json:"collected"`
	Normalized     int      `json:"normalized"`
	Skipped        []string `json:"skipped,omitempty"` // fragment keys dropped as incomplete
	AssetsResolved int      `json:"assets_resolved"`
	AssetsFailed   int      `json:"assets_failed"`
	Steps          int      `json:"steps"`
	// Channel reply threads reported collapsed, and how many were opened.
	ThreadsHidden   int    `json:"threads_hidden,omitempty"`
	ThreadsExpanded int    `json:"threads_expanded,omitempty"`
	Abort           string `json:"abort,omitempty"` // cause when Incomplete
}

// Export is the hand-off to the archiver: ordered messages plus the asset
// manifest.
type Export struct {
	Session    Session    `json:"session"`
	Messages   []Message  `json:"messages"`
	Manifest   []AssetRef `json:"manifest"`
	Incomplete bool       `json:"incomplete"`
	Summary    Summary    `json:"summary"`
}

// Outcome is the compact terminal report sent to remote sinks.
type Outcome struct {
	Session    Session `json:"session"`
	Dir        string  `json:"dir,omitempty"` // export directory
	Messages   int     `json:"messages"`
	Incomplete bool    `json:"incomplete"`
	Summary    Summary `json:"summary"`
}

// Outcome summarizes e; dir is where the archiver wrote it.
func (e *Export) Outcome(dir string) Outcome {
	return Outcome{
		Session:    e.Session,
		Dir:        dir,
		Messages:   len(e.Messages),
		Incomplete: e.Incomplete,
		Summary:    e.Summary,
	}
}
