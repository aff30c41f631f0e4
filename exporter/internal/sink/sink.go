// Package sink defines output backends for export progress and outcomes.
package sink

import (
	"context"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// Sink receives progress while a session runs and one outcome at its end.
// Implementations deliver to different backends (stdout, webhook,
// in-process callback).
type Sink interface {
	SendProgress(ctx context.Context, p record.Progress) error
	SendOutcome(ctx context.Context, o record.Outcome) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
