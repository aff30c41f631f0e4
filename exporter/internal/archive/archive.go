// CLAUDE:SUMMARY Writes an export (ordered messages + asset manifest) as index.html, chat.json and chat.md into a per-run folder.
// Package archive writes finished exports to disk.
//
// The export folder is <title>_<YYYY-MM-DD_HHMMSS>. Assets are already in
// its images/ subdirectory when Write runs; the archive only references
// them. Failed assets are rendered as visible placeholders.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/scrollback/exporter/internal/safefile"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// Output formats.
const (
	FormatHTML     = "html"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// File names inside the export folder.
const (
	HTMLFile     = "index.html"
	JSONFile     = "chat.json"
	MarkdownFile = "chat.md"
)

// Config configures an Archiver.
type Config struct {
	// Formats to write. Default: all three.
	Formats []string
	// Location for rendering parsed times. Default: time.Local.
	Location *time.Location

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if len(c.Formats) == 0 {
		c.Formats = []string{FormatHTML, FormatJSON, FormatMarkdown}
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Archiver renders exports.
type Archiver struct {
	cfg    Config
	policy *bluemonday.Policy
	md     *converter.Converter
}

// New creates an Archiver.
func New(cfg Config) *Archiver {
	cfg.defaults()
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^(mention|asset-missing|sprite)$`)).OnElements("span", "img")
	p.AllowAttrs("title").OnElements("span")
	return &Archiver{
		cfg:    cfg,
		policy: p,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

var unsafeTitle = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)

// FolderName returns the export folder name for a chat title and start time.
func FolderName(title string, t time.Time) string {
	name := strings.Join(strings.Fields(unsafeTitle.ReplaceAllString(title, "_")), " ")
	name = strings.Trim(name, " .")
	if r := []rune(name); len(r) > 80 {
		name = strings.TrimSpace(string(r[:80]))
	}
	if name == "" {
		name = "chat"
	}
	return name + "_" + t.Format("2006-01-02_150405")
}

// Prepare creates root/<FolderName> and returns its path.
func Prepare(root, title string, t time.Time) (string, error) {
	dir := filepath.Join(root, FolderName(title, t))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: mkdir: %w", err)
	}
	return dir, nil
}

// Write renders exp into dir in every configured format. It returns the
// paths written.
func (a *Archiver) Write(ctx context.Context, dir string, exp *record.Export) ([]string, error) {
	var written []string
	for _, f := range a.cfg.Formats {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		var (
			name string
			data []byte
			err  error
		)
		switch f {
		case FormatHTML:
			name = HTMLFile
			data, err = a.HTML(exp)
		case FormatJSON:
			name = JSONFile
			data, err = json.MarshalIndent(exp, "", "  ")
		case FormatMarkdown:
			name = MarkdownFile
			data, err = a.Markdown(exp)
		default:
			a.cfg.Logger.Warn("archive: unknown format", "format", f)
			continue
		}
		if err != nil {
			return written, fmt.Errorf("archive: render %s: %w", f, err)
		}
		path, err := safefile.Write(dir, name, data, 0)
		if err != nil {
			return written, fmt.Errorf("archive: write %s: %w", name, err)
		}
		written = append(written, path)
	}
	a.cfg.Logger.Info("archive: written", "dir", dir, "files", len(written), "messages", len(exp.Messages))
	return written, nil
}

// displayTime prefers the parsed time, rendered in the configured zone.
func (a *Archiver) displayTime(m record.Message) string {
	if !m.Time.IsZero() {
		return m.Time.In(a.cfg.Location).Format("2006-01-02 15:04")
	}
	return m.Timestamp
}
