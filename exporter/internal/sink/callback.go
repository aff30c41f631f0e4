// CLAUDE:SUMMARY In-process callback sink delivering progress and outcomes via Go function calls.
package sink

import (
	"context"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// ProgressFunc is called for each progress event.
type ProgressFunc func(ctx context.Context, p record.Progress) error

// OutcomeFunc is called once per session.
type OutcomeFunc func(ctx context.Context, o record.Outcome) error

// Callback delivers events via Go function calls, for embedding the
// exporter in another program.
type Callback struct {
	onProgress ProgressFunc
	onOutcome  OutcomeFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onProgress ProgressFunc, onOutcome OutcomeFunc) *Callback {
	return &Callback{onProgress: onProgress, onOutcome: onOutcome}
}

func (c *Callback) SendProgress(ctx context.Context, p record.Progress) error {
	if c.onProgress != nil {
		return c.onProgress(ctx, p)
	}
	return nil
}

func (c *Callback) SendOutcome(ctx context.Context, o record.Outcome) error {
	if c.onOutcome != nil {
		return c.onOutcome(ctx, o)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
