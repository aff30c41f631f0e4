package exporter

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/scrollback/exporter/internal/sink"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// Sink is the output interface for progress and outcomes.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookRetries(retries), sink.WithWebhookLogger(logger))
}

// NewNotionSink creates a sink uploading each export's chat.md to a
// Notion database.
func NewNotionSink(sc SinkConfig, logger *slog.Logger) (Sink, error) {
	token := sc.Token
	if token == "" {
		token = os.Getenv("NOTION_API_KEY")
	}
	return sink.NewNotion(sink.NotionConfig{
		Token:         token,
		DatabaseID:    sc.DatabaseID,
		BaseURL:       sc.URL,
		TitleProperty: sc.TitleProperty,
		DateProperty:  sc.DateProperty,
		Selects:       sc.Selects,
		Retries:       sc.Retries,
		Logger:        logger,
	})
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(
	onProgress func(ctx context.Context, p record.Progress) error,
	onOutcome func(ctx context.Context, o record.Outcome) error,
) Sink {
	return sink.NewCallback(onProgress, onOutcome)
}

// SinksFromConfig builds the configured sinks. Unknown types are logged
// and skipped; no sink at all yields stdout.
func SinksFromConfig(cfg *Config, logger *slog.Logger) []Sink {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, sc.Retries, logger))
		case "notion":
			s, err := NewNotionSink(sc, logger)
			if err != nil {
				logger.Warn("exporter: notion sink disabled", "error", err)
				continue
			}
			sinks = append(sinks, s)
		default:
			logger.Warn("exporter: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewStdoutSink(nil))
	}
	return sinks
}
