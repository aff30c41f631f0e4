package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/scrollback/exporter/record"
)

// Router fans out events to all configured sinks. One sink error does not
// block the others: errors are logged and the first encountered is
// returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendProgress(ctx context.Context, p record.Progress) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendProgress(ctx, p); err != nil {
			r.logger.Warn("sink: send progress failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendOutcome(ctx context.Context, o record.Outcome) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendOutcome(ctx, o); err != nil {
			r.logger.Warn("sink: send outcome failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
