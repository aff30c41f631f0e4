package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/scrollback/exporter/internal/archive"
	"github.com/hazyhaar/scrollback/exporter/internal/assets"
	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/internal/collector"
	"github.com/hazyhaar/scrollback/exporter/internal/normalize"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
	"github.com/hazyhaar/scrollback/exporter/internal/sink"
	"github.com/hazyhaar/scrollback/exporter/internal/store"
	"github.com/hazyhaar/scrollback/exporter/record"
	"github.com/hazyhaar/scrollback/idgen"
)

// Result is what one session produced.
type Result struct {
	Export *record.Export
	Dir    string
	Files  []string
}

// ErrBusy is returned by Run while another session of the same pipeline
// is in progress.
var ErrBusy = errors.New("exporter: session already running")

// Pipeline runs export sessions: collect, normalize, resolve assets,
// order, archive, persist, report.
type Pipeline struct {
	cfg     *Config
	sink    sink.Sink
	store   *store.Store // nil = no history
	tracker *Tracker
	newID   idgen.Generator
	now     func() time.Time
	logger  *slog.Logger
	running atomic.Bool
}

// NewPipeline creates a Pipeline. st and tracker may be nil.
func NewPipeline(cfg *Config, s sink.Sink, st *store.Store, tracker *Tracker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if s == nil {
		s = sink.NewRouter(logger)
	}
	return &Pipeline{
		cfg:     cfg,
		sink:    s,
		store:   st,
		tracker: tracker,
		newID:   idgen.Prefixed("exp_", idgen.Default),
		now:     time.Now,
		logger:  logger,
	}
}

// session is the mutable state of one run, shared by the batch hook.
type session struct {
	p     *Pipeline
	scope browser.Scope
	set   *selectors.Set
	rec   record.Session
	surf  *titledSurface
	norm  *normalize.Normalizer

	mu       sync.Mutex
	dir      string
	resolver *assets.Resolver
	messages []record.Message
	skipped  []string
}

// titledSurface remembers the chat title and URL of the latest sample so
// the export folder can be named before the first batch is resolved. The
// thread methods of DOMSurface stay promoted so the engine can expand
// channel replies.
type titledSurface struct {
	*collector.DOMSurface
	title, url string
}

func (t *titledSurface) Sample(ctx context.Context) (collector.Snapshot, error) {
	snap, err := t.DOMSurface.Sample(ctx)
	if err == nil {
		if snap.Title != "" {
			t.title = snap.Title
		}
		if snap.URL != "" {
			t.url = snap.URL
		}
	}
	return snap, err
}

// Run exports the chat in scope with set. It returns record.ErrConfigurationMissing
// before anything starts when set lacks a mandatory role. A run aborted by
// a lost page still returns a Result holding the partial, flagged export,
// together with an error wrapping record.ErrContextLost. Sessions do not
// overlap: a second Run while one is active fails with ErrBusy.
func (p *Pipeline) Run(ctx context.Context, scope browser.Scope, set *selectors.Set) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.running.Store(false)

	loc, err := p.cfg.Location()
	if err != nil {
		return nil, err
	}
	surf, err := collector.NewDOMSurface(scope, set, collector.SurfaceConfig{
		Input:      p.cfg.Collect.ScrollInput,
		WheelDelta: p.cfg.Collect.WheelDelta,
		ThreadWait: p.cfg.Collect.ThreadWait,
		Logger:     p.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("exporter: %w", err)
	}

	pageURL, _ := scope.URL(ctx)
	s := &session{
		p:     p,
		scope: scope,
		set:   set,
		surf:  &titledSurface{DOMSurface: surf},
		norm:  normalize.New(set, normalize.Config{Location: loc, Logger: p.logger}),
		rec: record.Session{
			ID:        p.newID(),
			Scope:     scope.Name(),
			PageURL:   pageURL,
			Profile:   set.Name(),
			StartedAt: p.now(),
			Status:    record.StatusRunning,
		},
	}
	log := p.logger.With("session", s.rec.ID)
	log.Info("exporter: session started", "scope", s.rec.Scope, "profile", s.rec.Profile)

	p.tracker.Begin(s.rec)
	if p.store != nil {
		if err := p.store.BeginSession(ctx, s.rec); err != nil {
			log.Warn("exporter: store begin", "error", err)
		}
	}

	engine := collector.New(collector.Config{
		SettleDelay:       p.cfg.Collect.SettleDelay,
		ConfirmRepeats:    p.cfg.Collect.ConfirmRepeats,
		MaxSteps:          p.cfg.Collect.MaxSteps,
		ThreadSearchSteps: p.cfg.Collect.ThreadSearchSteps,
		OnBatch:           s.onBatch,
		OnProgress:        func(pr collector.Progress) { s.progress(ctx, pr.Step, pr.Collected, record.StatusRunning) },
		Logger:            p.logger,
	})
	res, runErr := engine.Run(ctx, s.surf)

	// Partial results are still written when the run was cancelled.
	out := context.WithoutCancel(ctx)
	result, err := s.finish(out, res, runErr)
	if err != nil {
		return result, errors.Join(runErr, err)
	}
	return result, runErr
}

// onBatch normalizes a freshly collected batch and resolves its assets
// while the nodes are still mounted.
func (s *session) onBatch(ctx context.Context, batch []record.Fragment) error {
	msgs, skipped := s.norm.NormalizeAll(batch)
	r, err := s.ensureResolver()
	if err != nil {
		return err
	}
	resolved, err := r.ResolveMessages(ctx, msgs)

	s.mu.Lock()
	s.messages = append(s.messages, resolved...)
	s.skipped = append(s.skipped, skipped...)
	s.mu.Unlock()
	return err
}

func (s *session) ensureResolver() (*assets.Resolver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolver != nil {
		return s.resolver, nil
	}
	if err := s.prepareDirLocked(); err != nil {
		return nil, err
	}
	r, err := assets.New(s.scope, s.set, assets.Config{
		Dir:     s.dir,
		Workers: s.p.cfg.Assets.Workers,
		Logger:  s.p.logger,
	})
	if err != nil {
		return nil, err
	}
	s.resolver = r
	return r, nil
}

func (s *session) prepareDirLocked() error {
	if s.dir != "" {
		return nil
	}
	s.rec.ChatTitle = s.surf.title
	if s.surf.url != "" {
		s.rec.PageURL = s.surf.url
	}
	dir, err := archive.Prepare(s.p.cfg.Output.Dir, s.rec.ChatTitle, s.rec.StartedAt)
	if err != nil {
		return err
	}
	s.dir = dir
	return nil
}

func (s *session) progress(ctx context.Context, step, collected int, status record.Status) {
	pr := record.Progress{SessionID: s.rec.ID, Step: step, Collected: collected, Status: status}
	s.p.tracker.Progress(pr)
	if err := s.p.sink.SendProgress(ctx, pr); err != nil {
		s.p.logger.Debug("exporter: progress sink", "error", err)
	}
	if s.p.store != nil {
		if err := s.p.store.UpdateProgress(ctx, pr); err != nil {
			s.p.logger.Debug("exporter: store progress", "error", err)
		}
	}
}

// finish orders the messages and hands the export to the archiver, the
// store and the sinks. Every session ends with an outcome, failed ones
// included.
func (s *session) finish(ctx context.Context, res *collector.Result, runErr error) (*Result, error) {
	p := s.p
	s.mu.Lock()
	if err := s.prepareDirLocked(); err != nil {
		s.mu.Unlock()
		return nil, s.fail(ctx, res, runErr, err)
	}
	msgs := append([]record.Message(nil), s.messages...)
	skipped := append([]string(nil), s.skipped...)
	resolver := s.resolver
	s.mu.Unlock()

	msgs = normalize.Order(msgs)
	if s.set.Channel() {
		msgs = normalize.GroupThreads(msgs)
	}

	exp := &record.Export{Session: s.rec, Messages: msgs, Manifest: []record.AssetRef{}}
	exp.Summary = record.Summary{
		Normalized: len(msgs),
		Skipped:    skipped,
	}
	if res != nil {
		exp.Summary.Collected = len(res.Fragments)
		exp.Summary.Steps = res.Steps
		exp.Summary.ThreadsHidden = res.ThreadsHidden
		exp.Summary.ThreadsExpanded = res.ThreadsExpanded
		exp.Incomplete = res.Incomplete
	}
	if resolver != nil {
		exp.Manifest = resolver.Manifest()
		exp.Summary.AssetsResolved, exp.Summary.AssetsFailed = resolver.Counts()
	}
	// An aborted batch can leave references mid-resolution.
	for i := range exp.Messages {
		for _, ref := range exp.Messages[i].Assets() {
			if ref.State.Terminal() {
				continue
			}
			ref.State = record.StateFailed
			ref.Err = fmt.Sprintf("%s: session aborted", record.ErrAssetResolutionFailed)
			exp.Manifest = append(exp.Manifest, *ref)
			exp.Summary.AssetsFailed++
		}
	}
	switch {
	case runErr != nil:
		exp.Incomplete = true
		exp.Summary.Abort = runErr.Error()
	case exp.Incomplete && res != nil && res.ThreadsMissed() > 0 && res.Converged:
		exp.Summary.Abort = fmt.Sprintf("%d reply threads not expanded", res.ThreadsMissed())
	case exp.Incomplete:
		exp.Summary.Abort = "step limit reached"
	}
	exp.Session.EndedAt = p.now()
	exp.Session.Status = record.StatusDone
	if exp.Incomplete {
		exp.Session.Status = record.StatusIncomplete
	}

	log := p.logger.With("session", exp.Session.ID)
	files, archErr := archive.New(archive.Config{
		Formats:  p.cfg.Output.Formats,
		Location: mustLocation(p.cfg),
		Logger:   p.logger,
	}).Write(ctx, s.dir, exp)
	if archErr != nil {
		log.Error("exporter: archive failed", "dir", s.dir, "error", archErr)
		exp.Session.Status = record.StatusFailed
	}
	if p.store != nil {
		if err := p.store.SaveExport(ctx, exp, s.dir); err != nil {
			log.Warn("exporter: store save", "error", err)
		}
	}

	s.progress(ctx, exp.Summary.Steps, exp.Summary.Collected, exp.Session.Status)
	outcome := exp.Outcome(s.dir)
	p.tracker.End(outcome)
	if err := p.sink.SendOutcome(ctx, outcome); err != nil {
		log.Warn("exporter: outcome sink", "error", err)
	}

	log.Info("exporter: session finished",
		"status", exp.Session.Status,
		"collected", exp.Summary.Collected,
		"messages", exp.Summary.Normalized,
		"skipped", len(exp.Summary.Skipped),
		"assets_resolved", exp.Summary.AssetsResolved,
		"assets_failed", exp.Summary.AssetsFailed,
		"threads_expanded", exp.Summary.ThreadsExpanded,
		"dir", s.dir)
	return &Result{Export: exp, Dir: s.dir, Files: files}, archErr
}

// fail ends a session that produced no export folder: the tracker, the
// store and the sinks still see a failed outcome.
func (s *session) fail(ctx context.Context, res *collector.Result, runErr, err error) error {
	p := s.p
	rec := s.rec
	rec.EndedAt = p.now()
	rec.Status = record.StatusFailed
	exp := &record.Export{Session: rec, Incomplete: true, Manifest: []record.AssetRef{}}
	exp.Summary.Abort = errors.Join(runErr, err).Error()
	if res != nil {
		exp.Summary.Collected = len(res.Fragments)
		exp.Summary.Steps = res.Steps
	}
	p.logger.Error("exporter: session failed", "session", rec.ID, "error", err)

	if p.store != nil {
		if serr := p.store.SaveExport(ctx, exp, ""); serr != nil {
			p.logger.Warn("exporter: store save", "session", rec.ID, "error", serr)
		}
	}
	s.progress(ctx, exp.Summary.Steps, exp.Summary.Collected, record.StatusFailed)
	outcome := exp.Outcome("")
	p.tracker.End(outcome)
	if serr := p.sink.SendOutcome(ctx, outcome); serr != nil {
		p.logger.Warn("exporter: outcome sink", "session", rec.ID, "error", serr)
	}
	return fmt.Errorf("exporter: prepare output: %w", err)
}

func mustLocation(cfg *Config) *time.Location {
	loc, err := cfg.Location()
	if err != nil {
		return time.Local
	}
	return loc
}
