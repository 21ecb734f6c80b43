package revert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/reparanda/internal/canonical"
	"github.com/roach88/reparanda/internal/dispatch"
	"github.com/roach88/reparanda/internal/group"
	"github.com/roach88/reparanda/internal/metrics"
	"github.com/roach88/reparanda/internal/osm"
	"github.com/roach88/reparanda/internal/osmapi"
	"github.com/roach88/reparanda/internal/reconcile"
	"github.com/roach88/reparanda/internal/store"
)

// Uploader is the write side of a run. *dispatch.Dispatcher implements it.
type Uploader interface {
	Submit(ctx context.Context, rev *osm.Revision, credited []int64) error
	Finish(ctx context.Context) error
	OpenChangeset() int64
	Used() []int64
}

// Options configures a Runner.
type Options struct {
	Workers    int
	Comment    string
	PolicyName string
	DryRun     bool

	// Journal records outcomes and enables resuming. Nil disables both.
	Journal store.Journal
	Metrics *metrics.Metrics
	IDs     IDGenerator
	Now     func() time.Time
	Logger  *slog.Logger
}

// Runner executes revert runs. A Runner may be reused for several runs but
// not concurrently.
type Runner struct {
	engine   *reconcile.Engine
	uploader Uploader
	opts     Options
	logger   *slog.Logger
}

// New creates a Runner.
func New(engine *reconcile.Engine, uploader Uploader, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.IDs == nil {
		opts.IDs = UUIDv7Generator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PolicyName == "" {
		opts.PolicyName = engine.Policy().Name()
	}
	return &Runner{engine: engine, uploader: uploader, opts: opts, logger: logger}
}

// Metrics returns the collectors the runner reports to.
func (r *Runner) Metrics() *metrics.Metrics {
	return r.opts.Metrics
}

type job struct {
	idx int
	run group.Run
}

type done struct {
	idx     int
	run     group.Run
	result  reconcile.Result
	err     error
	elapsed time.Duration
}

// Run reconciles revs and uploads the corrections. The summary is returned
// even when err is non-nil. err is ctx.Err() after a cancellation, or the
// error that made further uploads impossible.
func (r *Runner) Run(ctx context.Context, revs []*osm.Revision) (*Summary, error) {
	runs := group.Sorted(revs)
	runID := r.opts.IDs.Generate()
	sum := newSummary(runID, r.opts.DryRun)
	log := r.logger.With("run", runID)

	// Writes after a cancellation still have to land.
	writeCtx := context.WithoutCancel(ctx)

	if j := r.opts.Journal; j != nil {
		err := j.StartRun(writeCtx, store.Run{
			ID:        runID,
			StartedAt: r.opts.Now(),
			Comment:   r.opts.Comment,
			Policy:    r.opts.PolicyName,
			DryRun:    r.opts.DryRun,
		})
		if err != nil {
			return sum, fmt.Errorf("start run: %w", err)
		}
	}
	log.Info("run started", "entities", len(runs), "workers", r.opts.Workers, "dry_run", r.opts.DryRun)

	feedCtx, stopFeeding := context.WithCancel(ctx)
	defer stopFeeding()

	jobs := make(chan job)
	results := make(chan done, r.opts.Workers)

	go func() {
		defer close(jobs)
		for i, run := range runs {
			select {
			case <-feedCtx.Done():
				return
			case jobs <- job{idx: i, run: run}:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jb := range jobs {
				start := time.Now()
				res, err := r.engine.Reconcile(writeCtx, jb.run.Known, nil)
				results <- done{idx: jb.idx, run: jb.run, result: res, err: err, elapsed: time.Since(start)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single writer: results are applied strictly in input order.
	var fatal error
	pending := make(map[int]done)
	next := 0
	for d := range results {
		pending[d.idx] = d
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if fatal != nil {
				continue
			}
			if err := r.write(writeCtx, log, runID, cur, sum); err != nil {
				fatal = err
				stopFeeding()
			}
		}
	}

	if err := r.uploader.Finish(writeCtx); err != nil {
		log.Error("finish changesets", "error", err)
		if fatal == nil {
			fatal = fmt.Errorf("finish changesets: %w", err)
		}
	}
	sum.Changesets = r.uploader.Used()
	r.opts.Metrics.AddCredited(len(sum.Credited))

	if j := r.opts.Journal; j != nil {
		if err := j.FinishRun(writeCtx, runID, r.opts.Now()); err != nil {
			log.Error("finish run", "error", err)
		}
	}

	if fatal != nil {
		return sum, fatal
	}
	if err := ctx.Err(); err != nil {
		sum.Interrupted = true
		log.Warn("run interrupted", "written", next, "entities", len(runs))
		return sum, err
	}
	log.Info("run finished", "corrected", sum.Corrected, "credited", len(sum.Credited), "manual", sum.Manual)
	return sum, nil
}

// write applies one reconciliation result. It returns an error only when the
// run cannot continue.
func (r *Runner) write(ctx context.Context, log *slog.Logger, runID string, d done, sum *Summary) error {
	sum.Entities++
	r.opts.Metrics.ObserveReconcile(d.elapsed)

	key := d.run.Key
	latest := d.run.Known[len(d.run.Known)-1].Version
	outcome := store.Outcome{RunID: runID, Seq: d.idx + 1, Key: key, Version: latest}
	elog := log.With("kind", key.Kind.String(), "id", key.ID)

	switch {
	case d.err != nil:
		elog.Error("reconcile failed", "error", d.err)
		outcome.Action = store.ActionFailed
		sum.Failed++

	case d.result.Manual != nil:
		n := d.result.Manual
		elog.Warn("manual review needed", "version", n.Version, "reason", n.Reason)
		outcome.Action = store.ActionManual
		outcome.Version = n.Version
		sum.Manual++
		sum.ManualReviews = append(sum.ManualReviews, n.String())
		if j := r.opts.Journal; j != nil {
			err := j.RecordManual(ctx, store.ManualReview{RunID: runID, Key: key, Version: n.Version, Reason: n.Reason})
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
		}

	case !d.result.IsCorrected():
		outcome.Action = store.ActionNone
		sum.NoAction++

	default:
		action, err := r.upload(ctx, elog, d.result, &outcome)
		outcome.Action = action
		switch action {
		case store.ActionCorrected:
			sum.Corrected++
			sum.credit(d.result.Credited)
		case store.ActionSkipped:
			sum.Skipped++
		case store.ActionFailed:
			sum.Failed++
		}
		if err != nil {
			r.record(ctx, elog, outcome)
			return err
		}
	}

	r.opts.Metrics.ObserveOutcome(outcome.Action)
	if err := r.record(ctx, elog, outcome); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// upload hands a correction to the uploader unless the journal shows the
// identical correction was uploaded before. The returned error is set only
// for failures that end the run.
func (r *Runner) upload(ctx context.Context, log *slog.Logger, res reconcile.Result, outcome *store.Outcome) (string, error) {
	rev := res.Revision
	outcome.Version = rev.Version
	outcome.Changesets = res.Credited

	hash, err := canonical.CorrectionHash(rev)
	if err != nil {
		log.Error("hash correction", "error", err)
		return store.ActionFailed, nil
	}
	outcome.ContentHash = hash

	if j := r.opts.Journal; j != nil && !r.opts.DryRun {
		seen, err := j.Uploaded(ctx, rev.Key(), rev.Version, hash)
		if err != nil {
			log.Warn("resume lookup failed", "error", err)
		}
		if seen {
			log.Info("correction already uploaded", "version", rev.Version)
			return store.ActionSkipped, nil
		}
	}

	before := r.uploader.OpenChangeset()
	err = r.uploader.Submit(ctx, rev, res.Credited)
	if open := r.uploader.OpenChangeset(); open != 0 && open != before {
		r.opts.Metrics.ChangesetOpened()
	}
	r.opts.Metrics.ObserveUpload(err == nil)
	if err != nil {
		log.Error("upload failed", "version", rev.Version, "error", err)
		if isFatal(err) {
			return store.ActionFailed, err
		}
		return store.ActionFailed, nil
	}
	outcome.Uploaded = !r.opts.DryRun
	return store.ActionCorrected, nil
}

func (r *Runner) record(ctx context.Context, log *slog.Logger, o store.Outcome) error {
	j := r.opts.Journal
	if j == nil {
		return nil
	}
	if err := j.RecordOutcome(ctx, o); err != nil {
		log.Error("record outcome", "error", err)
		return err
	}
	return nil
}

// isFatal reports errors after which no upload can succeed.
func isFatal(err error) bool {
	return errors.Is(err, dispatch.ErrCreateChangeset) ||
		errors.Is(err, dispatch.ErrChangesetNotOpen) ||
		errors.Is(err, osmapi.ErrUnauthorized)
}
