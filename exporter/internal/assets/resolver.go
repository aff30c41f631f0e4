// CLAUDE:SUMMARY Materializes asset references to files: download first, screenshot fallback, forced cropped capture for sprites and reactions.
// Package assets resolves image references to files under the export's
// images/ directory. Every reference ends in exactly one terminal state:
// downloaded, screenshotted or failed.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/internal/safefile"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// ImagesDir is the asset directory relative to the export directory.
const ImagesDir = "images"

// Config configures a Resolver.
type Config struct {
	// Dir is the export directory. Files go to Dir/images.
	Dir string
	// Workers bounds concurrent downloads. Default: 4.
	Workers int

	// Strategy overrides, mostly for tests. Nil = the real ones.
	Download   Strategy
	Screenshot Strategy
	Cropped    Strategy

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Download == nil {
		c.Download = Download{}
	}
	if c.Screenshot == nil {
		c.Screenshot = Screenshot{}
	}
	if c.Cropped == nil {
		c.Cropped = CroppedCapture{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Resolver resolves the references of one export session.
type Resolver struct {
	cfg   Config
	scope browser.Scope
	set   *selectors.Set

	mu       sync.Mutex
	names    map[string]bool
	avatars  *cache.Cache // source URL -> resolved AssetRef
	manifest []record.AssetRef
	resolved int
	failed   int
}

// New creates a Resolver writing under cfg.Dir.
func New(scope browser.Scope, set *selectors.Set, cfg Config) (*Resolver, error) {
	cfg.defaults()
	if cfg.Dir == "" {
		return nil, errors.New("assets: export directory required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, ImagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("assets: mkdir: %w", err)
	}
	return &Resolver{
		cfg:     cfg,
		scope:   scope,
		set:     set,
		names:   make(map[string]bool),
		avatars: cache.New(cache.NoExpiration, 0),
	}, nil
}

// Forced reports whether ref must be captured as rendered and never
// downloaded.
func (r *Resolver) Forced(ref record.AssetRef) bool {
	if ref.Kind == record.KindSprite || ref.Kind == record.KindReaction {
		return true
	}
	return r.set != nil && r.set.MatchesForced(ref.Attrs)
}

// Plan returns the ordered strategies for ref.
func (r *Resolver) Plan(ref record.AssetRef) []Strategy {
	if r.Forced(ref) {
		return []Strategy{r.cfg.Cropped}
	}
	return []Strategy{r.cfg.Download, r.cfg.Screenshot}
}

// ResolveMessages resolves every asset of msgs and returns rewritten
// copies; the input is not modified.
func (r *Resolver) ResolveMessages(ctx context.Context, msgs []record.Message) ([]record.Message, error) {
	out := make([]record.Message, len(msgs))
	var refs []*record.AssetRef
	for i, m := range msgs {
		out[i] = copyMessage(m)
		refs = append(refs, out[i].Assets()...)
	}
	if err := r.Resolve(ctx, refs); err != nil {
		return out, err
	}
	return out, nil
}

func copyMessage(m record.Message) record.Message {
	c := m
	if m.Avatar != nil {
		a := *m.Avatar
		c.Avatar = &a
	}
	c.Attachments = append([]record.AssetRef(nil), m.Attachments...)
	if m.Reactions != nil {
		c.Reactions = make([]record.Reaction, len(m.Reactions))
		for i, rx := range m.Reactions {
			c.Reactions[i] = rx
			if rx.Icon != nil {
				ic := *rx.Icon
				c.Reactions[i].Icon = &ic
			}
		}
	}
	return c
}

// Resolve drives each reference to a terminal state, in place. Captures
// touch live layout and run one at a time; downloads run on a pool of
// cfg.Workers. Only context cancellation is returned as an error;
// per-reference failures are recorded on the reference.
func (r *Resolver) Resolve(ctx context.Context, refs []*record.AssetRef) error {
	var (
		forced    []*record.AssetRef
		download  []*record.AssetRef
		dupAvatar []*record.AssetRef
		leaders   = map[string]bool{}
	)
	for _, ref := range refs {
		if ref.State.Terminal() {
			continue
		}
		if ref.Kind == record.KindAvatar && ref.Source != "" {
			if r.fromMemo(ref) {
				r.finish(ref)
				continue
			}
			if leaders[ref.Source] {
				dupAvatar = append(dupAvatar, ref)
				continue
			}
			leaders[ref.Source] = true
		}
		if r.Forced(*ref) {
			forced = append(forced, ref)
		} else {
			download = append(download, ref)
		}
	}

	for _, ref := range forced {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.attempt(ctx, ref, r.cfg.Cropped)
		r.finish(ref)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, ref := range download {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.attempt(gctx, ref, r.cfg.Download)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ref := range download {
		if !ref.Resolved() {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.attempt(ctx, ref, r.cfg.Screenshot)
		}
		r.finish(ref)
	}

	for _, ref := range dupAvatar {
		if !r.fromMemo(ref) {
			ref.State = record.StateFailed
			ref.Err = fmt.Sprintf("%s: avatar %s unresolved", record.ErrAssetResolutionFailed, ref.Source)
		}
		r.finish(ref)
	}
	return nil
}

// attempt runs one strategy; on success the file is written and the
// reference updated, on failure the error is appended to ref.Err.
func (r *Resolver) attempt(ctx context.Context, ref *record.AssetRef, s Strategy) {
	img, err := s.Acquire(ctx, r.scope, *ref)
	if err == nil {
		var path string
		path, err = r.write(*ref, img)
		if err == nil {
			ref.State = img.State
			ref.Path = path
			ref.Err = ""
			return
		}
	}
	r.cfg.Logger.Debug("assets: strategy failed", "ref", ref.ID, "strategy", s.Name(), "error", err)
	msg := fmt.Sprintf("%s: %v", s.Name(), err)
	if ref.Err == "" {
		ref.Err = msg
	} else {
		ref.Err += "; " + msg
	}
}

// finish marks unresolved references failed and records the outcome. Every
// reference handed to Resolve passes here once, memo hits included, so the
// manifest and the counts cover all of them.
func (r *Resolver) finish(ref *record.AssetRef) {
	if !ref.Resolved() {
		ref.State = record.StateFailed
		if !strings.HasPrefix(ref.Err, record.ErrAssetResolutionFailed.Error()) {
			ref.Err = fmt.Sprintf("%s: %s", record.ErrAssetResolutionFailed, ref.Err)
		}
		r.cfg.Logger.Warn("assets: unresolved", "ref", ref.ID, "kind", ref.Kind, "error", ref.Err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref.Resolved() {
		r.resolved++
		if ref.Kind == record.KindAvatar && ref.Source != "" {
			r.avatars.Set(ref.Source, *ref, cache.NoExpiration)
		}
	} else {
		r.failed++
	}
	r.manifest = append(r.manifest, *ref)
}

func (r *Resolver) fromMemo(ref *record.AssetRef) bool {
	v, ok := r.avatars.Get(ref.Source)
	if !ok {
		return false
	}
	done := v.(record.AssetRef)
	ref.State = done.State
	ref.Path = done.Path
	ref.Err = ""
	return true
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize makes a message id safe as a file name component.
func sanitize(id string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(id, "_"), "._")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		s = "msg"
	}
	return s
}

// FileName returns the base name for ref, before collision handling.
func FileName(ref record.AssetRef, ext string) string {
	return fmt.Sprintf("%s_%s_%d.%s", ref.Kind, sanitize(ref.MessageID), ref.Ordinal, ext)
}

func (r *Resolver) reserve(ref record.AssetRef, ext string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := FileName(ref, ext)
	base := strings.TrimSuffix(name, "."+ext)
	for i := 2; r.names[name]; i++ {
		name = fmt.Sprintf("%s-%d.%s", base, i, ext)
	}
	r.names[name] = true
	return name
}

func (r *Resolver) write(ref record.AssetRef, img Image) (string, error) {
	name := r.reserve(ref, img.Ext)
	rel := ImagesDir + "/" + name
	if _, err := safefile.Write(r.cfg.Dir, rel, img.Data, safefile.MaxAsset); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return rel, nil
}

// Manifest returns every terminal reference in resolution order.
func (r *Resolver) Manifest() []record.AssetRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record.AssetRef(nil), r.manifest...)
}

// Counts returns resolved and failed totals.
func (r *Resolver) Counts() (resolved, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved, r.failed
}
