// CLAUDE:SUMMARY Notion sink: on each finished export, uploads chat.md as a page of a Notion database, 100 blocks per request.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/scrollback/exporter/internal/archive"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// Notion API limits.
const (
	notionBlocksPerRequest = 100
	notionTextLimit        = 1900 // per rich_text segment; the API rejects > 2000
)

// NotionConfig configures a Notion sink.
type NotionConfig struct {
	Token      string
	DatabaseID string
	// BaseURL of the API. Default: https://api.notion.com/v1.
	BaseURL string
	// Version is sent as Notion-Version. Default: 2022-06-28.
	Version string
	// TitleProperty is the database's title column. Default: "Name".
	TitleProperty string
	// DateProperty, when set, receives the export date.
	DateProperty string
	// Selects sets select columns (column -> option name).
	Selects map[string]string
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
}

func (c *NotionConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.notion.com/v1"
	}
	if c.Version == "" {
		c.Version = "2022-06-28"
	}
	if c.TitleProperty == "" {
		c.TitleProperty = "Name"
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Notion uploads the Markdown transcript of every finished export as a
// page of a Notion database. Progress is ignored. Exports without a
// folder or without chat.md are skipped.
type Notion struct {
	cfg    NotionConfig
	client *http.Client
}

// NewNotion creates a Notion sink.
func NewNotion(cfg NotionConfig) (*Notion, error) {
	if cfg.Token == "" || cfg.DatabaseID == "" {
		return nil, errors.New("notion: token and database id required")
	}
	cfg.defaults()
	return &Notion{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (n *Notion) SendProgress(context.Context, record.Progress) error { return nil }

func (n *Notion) Close() error { return nil }

// SendOutcome creates the page for o.
func (n *Notion) SendOutcome(ctx context.Context, o record.Outcome) error {
	log := n.cfg.Logger.With("session", o.Session.ID)
	if o.Dir == "" || o.Session.Status == record.StatusFailed {
		log.Debug("notion: nothing to upload", "status", o.Session.Status)
		return nil
	}
	src, err := os.ReadFile(filepath.Join(o.Dir, archive.MarkdownFile))
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("notion: no markdown transcript, skipped", "dir", o.Dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("notion: read transcript: %w", err)
	}

	blocks := MarkdownBlocks(src)
	first := blocks[:min(len(blocks), notionBlocksPerRequest)]
	page := map[string]any{
		"parent":     map[string]any{"database_id": n.cfg.DatabaseID},
		"properties": n.properties(o),
		"children":   first,
	}
	var created struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := n.call(ctx, http.MethodPost, "/pages", page, &created); err != nil {
		return fmt.Errorf("notion: create page: %w", err)
	}

	rest := blocks[len(first):]
	for batch := 2; len(rest) > 0; batch++ {
		chunk := rest[:min(len(rest), notionBlocksPerRequest)]
		rest = rest[len(chunk):]
		body := map[string]any{"children": chunk}
		if err := n.call(ctx, http.MethodPatch, "/blocks/"+created.ID+"/children", body, nil); err != nil {
			return fmt.Errorf("notion: append batch %d to %s: %w", batch, created.ID, err)
		}
	}
	log.Info("notion: page created", "page", created.ID, "url", created.URL, "blocks", len(blocks))
	return nil
}

func (n *Notion) properties(o record.Outcome) map[string]any {
	title := o.Session.ChatTitle
	if title == "" {
		title = "Chat export"
	}
	props := map[string]any{
		n.cfg.TitleProperty: map[string]any{
			"title": []any{map[string]any{"text": map[string]any{"content": title}}},
		},
	}
	if n.cfg.DateProperty != "" {
		props[n.cfg.DateProperty] = map[string]any{
			"date": map[string]any{"start": o.Session.StartedAt.Format(time.DateOnly)},
		}
	}
	for col, opt := range n.cfg.Selects {
		props[col] = map[string]any{"select": map[string]any{"name": opt}}
	}
	return props
}

// call sends one API request, retrying rate limits and server errors.
func (n *Notion) call(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.cfg.Backoff << uint(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, n.cfg.BaseURL+path, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
		req.Header.Set("Notion-Version", n.cfg.Version)
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			return json.Unmarshal(payload, out)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			n.cfg.Logger.Warn("notion: retryable status", "path", path, "attempt", attempt+1, "status", resp.StatusCode)
		default:
			return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(payload[:min(len(payload), 300)]))
		}
	}
	return fmt.Errorf("all retries exhausted: %w", lastErr)
}
