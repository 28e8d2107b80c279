package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/artifact"
	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
	"github.com/masoudn84/npm-offline-package-mirror/internal/faillog"
	"github.com/masoudn84/npm-offline-package-mirror/internal/pack"
	"github.com/masoudn84/npm-offline-package-mirror/internal/publish"
	"github.com/masoudn84/npm-offline-package-mirror/internal/resolve"
)

// Builder packs a unit locally.
type Builder interface {
	Build(ctx context.Context, unit discovery.Unit) (*artifact.Archive, error)
}

// Resolver fetches a unit's published tarball.
type Resolver interface {
	ResolveAndFetch(ctx context.Context, unit discovery.Unit) (*artifact.Archive, error)
}

// Publisher uploads an archive.
type Publisher interface {
	Publish(ctx context.Context, archive *artifact.Archive) error
}

// Stages are the collaborators a unit passes through.
type Stages struct {
	Builder   Builder
	Resolver  Resolver
	Publisher Publisher
}

// Observer is told about every state change. It is called from worker
// goroutines and must be safe for concurrent use.
type Observer func(unit discovery.Unit, from, to State)

// Config configures a Pipeline.
type Config struct {
	Workers      int
	DryRun       bool
	KeepArchives bool
	// Total is the expected number of units, used for "remaining" in
	// progress logs. Zero means unknown.
	Total      int
	FailureLog *faillog.Log
	Logger     *log.Logger
	Observer   Observer
}

// Progress is the shared bookkeeping of a run.
type Progress struct {
	mu         sync.Mutex
	discovered int
	processed  int
	results    []Result
}

// Discovered returns the number of units dispatched so far.
func (p *Progress) Discovered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discovered
}

// Processed returns the number of units that reached a terminal state.
func (p *Progress) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

func (p *Progress) dispatched() {
	p.mu.Lock()
	p.discovered++
	p.mu.Unlock()
}

func (p *Progress) record(r Result) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	p.processed++
	return p.processed
}

func (p *Progress) snapshot() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Result(nil), p.results...)
}

// Pipeline runs units through the stages.
type Pipeline struct {
	cfg      Config
	stages   Stages
	progress *Progress
}

// New creates a Pipeline. Workers below one are raised to one.
func New(cfg Config, stages Stages) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Pipeline{cfg: cfg, stages: stages, progress: &Progress{}}
}

// SetTotal sets the expected unit count used for "remaining" in progress
// logs. It must be called before Run.
func (p *Pipeline) SetTotal(total int) { p.cfg.Total = total }

// Progress exposes the running counts.
func (p *Pipeline) Progress() *Progress { return p.progress }

type workItem struct {
	unit discovery.Unit
}

// Run processes units until the sequence ends or ctx is cancelled.
// Cancellation stops dispatch; units already in flight finish their
// current stage and are then recorded as Cancelled. The summary is always
// returned; the error is non-nil only when ctx was cancelled.
func (p *Pipeline) Run(ctx context.Context, units iter.Seq[discovery.Unit]) (*Summary, error) {
	start := time.Now()

	workCh := make(chan workItem)
	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				r := p.process(ctx, w.unit)
				p.finish(r)
			}
		}()
	}

	for u := range units {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case workCh <- workItem{unit: u}:
			p.progress.dispatched()
			continue
		}
		break
	}
	close(workCh)
	wg.Wait()

	s := summarize(p.progress.snapshot())
	s.FailureLog = p.cfg.FailureLog.Path()
	s.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return s, fmt.Errorf("run interrupted: %w", err)
	}
	return s, nil
}

// unitRun tracks one unit through the machine.
type unitRun struct {
	p     *Pipeline
	unit  discovery.Unit
	state State
	start time.Time
}

func (u *unitRun) to(next State) {
	if !CanTransition(u.state, next) {
		panic(invalidTransition{unit: u.unit.Path, from: u.state, to: next})
	}
	prev := u.state
	u.state = next
	if u.p.cfg.Observer != nil {
		u.p.cfg.Observer(u.unit, prev, next)
	}
}

func (u *unitRun) result(status Status, outcome Outcome, kind, detail string, source artifact.Source) Result {
	return Result{
		Unit:      u.unit,
		State:     u.state,
		Status:    status,
		Outcome:   outcome,
		Stage:     stageOf(u.state),
		Kind:      kind,
		Detail:    detail,
		Source:    source,
		Duration:  time.Since(u.start),
		Timestamp: time.Now(),
	}
}

// cancelled records a cancellation at the unit's current stage.
func (u *unitRun) cancelled() Result {
	stage := stageOf(u.state)
	u.to(Cancelled)
	r := u.result(StatusFailed, KindCancelled, KindCancelled, "run cancelled", "")
	r.Stage = stage
	return r
}

// process runs one unit to a terminal state. Stage calls get a context
// detached from run cancellation so a started stage always completes; each
// stage enforces its own timeout.
func (p *Pipeline) process(runCtx context.Context, unit discovery.Unit) (res Result) {
	u := &unitRun{p: p, unit: unit, state: Discovered, start: time.Now()}
	stageCtx := context.WithoutCancel(runCtx)

	defer func() {
		if v := recover(); v != nil {
			p.cfg.Logger.Error("unit aborted", "unit", unit.Path, "panic", v)
			res = u.result(StatusFailed, KindInternal, KindInternal, fmt.Sprint(v), "")
		}
	}()

	if runCtx.Err() != nil {
		return u.cancelled()
	}

	u.to(Building)
	archive, buildErr := p.stages.Builder.Build(stageCtx, unit)
	if buildErr == nil {
		u.to(Built)
	} else {
		u.to(BuildFailed)
		p.logBuildFailure(unit, buildErr)

		if runCtx.Err() != nil {
			return u.cancelled()
		}
		u.to(Resolving)
		var resolveErr error
		archive, resolveErr = p.stages.Resolver.ResolveAndFetch(stageCtx, unit)
		if resolveErr != nil {
			u.to(ResolveFailed)
			return u.result(StatusFailed, Outcome(resolveKind(resolveErr)), resolveKind(resolveErr), resolveDetail(resolveErr, buildErr), "")
		}
		u.to(Resolved)
	}

	if runCtx.Err() != nil {
		return u.cancelled()
	}
	u.to(Publishing)
	publishErr := p.stages.Publisher.Publish(stageCtx, archive)

	var perr *publish.Error
	switch {
	case publishErr == nil:
		u.to(Published)
		p.cleanup(archive)
		outcome := OutcomePublished
		if p.cfg.DryRun {
			outcome = OutcomeDryRun
		}
		return u.result(StatusPublished, outcome, "", "", archive.Source)
	case errors.As(publishErr, &perr) && perr.Kind == publish.KindAlreadyExists:
		u.to(Published)
		p.cleanup(archive)
		return u.result(StatusPublished, OutcomeAlreadyExists, "", perr.Detail, archive.Source)
	default:
		u.to(PublishFailed)
		kind := KindInternal
		if perr != nil {
			kind = string(perr.Kind)
		}
		return u.result(StatusFailed, Outcome(kind), kind, publishErr.Error(), archive.Source)
	}
}

func (p *Pipeline) logBuildFailure(unit discovery.Unit, err error) {
	var berr *pack.BuildError
	if errors.As(err, &berr) && berr.StderrExcerpt != "" {
		p.cfg.Logger.Debug("build failed, falling back to upstream", "unit", unit.Path, "reason", berr.Reason, "stderr", berr.StderrExcerpt)
		return
	}
	p.cfg.Logger.Debug("build failed, falling back to upstream", "unit", unit.Path, "err", err)
}

func resolveKind(err error) string {
	var rerr *resolve.Error
	if errors.As(err, &rerr) {
		return string(rerr.Kind)
	}
	return KindInternal
}

// resolveDetail keeps the build failure next to the resolve failure, since
// the unit is only retried by hand if both are understood.
func resolveDetail(resolveErr, buildErr error) string {
	detail := resolveErr.Error()
	if buildErr == nil {
		return detail
	}
	detail += "; after build failure: " + buildErr.Error()
	var berr *pack.BuildError
	if errors.As(buildErr, &berr) && berr.StderrExcerpt != "" {
		detail += "\n" + berr.StderrExcerpt
	}
	return command.Excerpt(detail)
}

// cleanup removes a published archive and its now-empty staging directory.
func (p *Pipeline) cleanup(archive *artifact.Archive) {
	if p.cfg.KeepArchives || archive == nil {
		return
	}
	if err := os.Remove(archive.Path); err != nil && !os.IsNotExist(err) {
		p.cfg.Logger.Warn("could not remove staged archive", "path", archive.Path, "err", err)
		return
	}
	// Fails harmlessly when the directory still has content.
	os.Remove(filepath.Dir(archive.Path))
}

// finish records r, logs progress and appends failures to the failure log.
func (p *Pipeline) finish(r Result) {
	n := p.progress.record(r)

	kv := []any{"unit", r.Unit.ID(), "processed", n}
	if p.cfg.Total > 0 {
		kv = append(kv, "remaining", max(p.cfg.Total-n, 0))
	}

	if r.OK() {
		kv = append(kv, "outcome", r.Outcome)
		if r.Source != "" {
			kv = append(kv, "source", r.Source)
		}
		p.cfg.Logger.Info("published", kv...)
		return
	}

	kv = append(kv, "stage", r.Stage, "kind", r.Kind)
	p.cfg.Logger.Warn("failed", kv...)
	p.cfg.Logger.Debug("failure detail", "unit", r.Unit.Path, "detail", r.Detail)

	err := p.cfg.FailureLog.Append(faillog.Entry{
		Time:    r.Timestamp,
		Unit:    r.Unit.Path,
		Name:    r.Unit.Name,
		Version: r.Unit.Version,
		Stage:   string(r.Stage),
		Kind:    r.Kind,
		Detail:  r.Detail,
	})
	if err != nil {
		p.cfg.Logger.Error("could not write failure log", "err", err)
	}
}
