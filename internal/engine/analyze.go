package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/eresion/internal/community"
	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/motif"
	"github.com/roach88/eresion/internal/rhythm"
	"github.com/roach88/eresion/internal/stability"
	"github.com/roach88/eresion/internal/window"
)

// task is one message on the analytical queue: a closed window to analyze,
// or a promoted motif to persist.
type task struct {
	gen   int64
	snap  *window.Snapshot
	view  *graph.View
	motif *ir.Motif
	done  chan struct{}
}

// pinned tasks are never shed or superseded.
func (t *task) pinned() bool {
	return t.motif != nil || t.snap.Scale() == ir.ScaleSession
}

// analysis holds the isolated outputs of the analyzers for one snapshot.
// Nothing is shared until apply folds it in.
type analysis struct {
	rhythm      *rhythm.Result
	mined       *motif.Result
	communities *community.Result
}

// feedback carries analytical results that must be applied to the live
// graph by the reactive path.
type feedback struct {
	mu         sync.Mutex
	tempo      *ir.Tempo
	alignments []rhythm.Alignment
	promotions []stability.PromotionRequest
}

func (f *feedback) rhythm(res *rhythm.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tempo := res.Tempo
	f.tempo = &tempo
	f.alignments = append(f.alignments, res.Alignments...)
}

func (f *feedback) promote(reqs []stability.PromotionRequest) {
	if len(reqs) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promotions = append(f.promotions, reqs...)
}

func (f *feedback) take() (*ir.Tempo, []rhythm.Alignment, []stability.PromotionRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tempo, al, reqs := f.tempo, f.alignments, f.promotions
	f.tempo, f.alignments, f.promotions = nil, nil, nil
	return tempo, al, reqs
}

// inflight tracks the cancel func of the analysis currently running, so a
// newer window can abandon it.
type inflight struct {
	mu     sync.Mutex
	gen    int64
	cancel context.CancelFunc
}

func (f *inflight) begin(gen int64, cancel context.CancelFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen, f.cancel = gen, cancel
}

func (f *inflight) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen, f.cancel = 0, nil
}

// supersede cancels the running analysis if it is older than gen.
func (f *inflight) supersede(gen int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil && f.gen < gen {
		f.cancel()
	}
}

// handoff is the window consumer of every scale. Micro windows stay on the
// reactive path; the rest are queued for analysis unless the degradation
// level excludes their scale.
// CRITICAL: reactive path only.
func (e *Engine) handoff(snap *window.Snapshot) {
	scale := snap.Scale()
	windowsClosed.WithLabelValues(scale.String()).Inc()
	e.counters.windows.Add(1)
	if scale == ir.ScaleSession {
		e.session.dropped = snap.Dropped
	}

	if !e.Level().Allows(scale) {
		if scale != ir.ScaleMicro {
			e.counters.skipped.Add(1)
		}
		return
	}

	t := &task{gen: e.gens.Next(), snap: snap}
	if scale == ir.ScaleMacro || scale == ir.ScaleSession {
		t.view = e.graph.View(snap.Window.End)
		e.view.Store(t.view)
	}
	if scale == ir.ScaleSession {
		t.done = make(chan struct{})
		e.sessionDone = t.done
	}
	e.dispatchTask(t)
}

// dispatchTask runs t inline in synchronous mode and queues it otherwise.
// A full queue sheds its oldest unpinned snapshot, which supersedes every
// analysis older than it.
func (e *Engine) dispatchTask(t *task) {
	if e.cfg.Synchronous {
		e.run(e.ctx, t)
		return
	}

	shed, ok := e.tasks.Enqueue(t)
	if !ok {
		if t.done != nil {
			close(t.done)
		}
		return
	}
	for _, old := range shed {
		e.counters.shed.Add(1)
		snapshotsShed.Inc()
		if old.gen > e.superseded.Load() {
			e.superseded.Store(old.gen)
		}
		e.inflight.supersede(old.gen)
		e.log.Debug("snapshot shed",
			"scale", old.snap.Scale(),
			"generation", old.gen,
			"window_end", old.snap.Window.End)
	}
}

// dispatch is the analytical loop. It consumes the task queue in FIFO
// order until the queue is closed and drained.
func (e *Engine) dispatch() {
	defer close(e.dispatched)
	for {
		if t, ok := e.tasks.TryDequeue(); ok {
			e.run(e.ctx, t)
			continue
		}
		if e.tasks.Drained() {
			return
		}
		<-e.tasks.Wait()
	}
}

func (e *Engine) run(ctx context.Context, t *task) {
	if t.done != nil {
		defer close(t.done)
	}
	if t.motif != nil {
		e.persistMotif(ctx, *t.motif)
		return
	}
	e.analyze(ctx, t)
}

// stale reports whether a newer window superseded t.
func (e *Engine) stale(t *task) bool {
	return !t.pinned() && t.gen <= e.superseded.Load()
}

// analyze runs the analyzers for one snapshot and applies their results.
// A failure drops this window's contribution only.
func (e *Engine) analyze(ctx context.Context, t *task) {
	snap := t.snap
	scale := snap.Scale()
	if e.stale(t) {
		e.discard(t)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !t.pinned() {
		e.inflight.begin(t.gen, cancel)
		defer e.inflight.end()
	}

	ctx, span := tracer.Start(ctx, "engine.analyze", trace.WithAttributes(
		attribute.String("scale", scale.String()),
		attribute.Int64("generation", t.gen),
		attribute.String("session", snap.Session),
		attribute.Int("events", len(snap.Events)),
	))
	defer span.End()
	logger := loggerWithTrace(ctx, e.log)

	start := time.Now()
	res, err := e.runAnalyzers(ctx, t)
	analysisDuration.WithLabelValues(scale.String()).Observe(time.Since(start).Seconds())

	if e.stale(t) {
		span.SetAttributes(attribute.Bool("discarded", true))
		e.discard(t)
		return
	}
	if err == nil {
		err = e.apply(ctx, t, res)
	}
	if err != nil {
		stage := "unknown"
		var re *RuntimeError
		if errors.As(err, &re) {
			stage = re.Stage
		}
		analysisFailures.WithLabelValues(stage).Inc()
		e.counters.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("window analysis dropped",
			"scale", scale,
			"window_start", snap.Window.Start,
			"window_end", snap.Window.End,
			"error", err)
		return
	}
	e.counters.analyzed.Add(1)
}

func (e *Engine) discard(t *task) {
	e.counters.discarded.Add(1)
	resultsDiscarded.Inc()
	e.log.Debug("analysis superseded",
		"scale", t.snap.Scale(),
		"generation", t.gen)
}

// runAnalyzers runs the analyzers of a snapshot's scale concurrently.
// Each analyzer owns its component, so they share nothing while running.
func (e *Engine) runAnalyzers(ctx context.Context, t *task) (*analysis, error) {
	snap := t.snap
	var out analysis
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	mine := guard("mine", snap.Session, func() error {
		res, err := e.miner.Mine(gctx, snap)
		out.mined = res
		return err
	})
	cluster := guard("community", snap.Session, func() error {
		res, err := e.detector.Run(gctx, t.view)
		out.communities = res
		return err
	})

	switch snap.Scale() {
	case ir.ScaleMeso:
		g.Go(guard("rhythm", snap.Session, func() error {
			res := e.rhythm.Observe(snap)
			out.rhythm = &res
			return nil
		}))
		g.Go(mine)
	case ir.ScaleMacro:
		g.Go(mine)
		g.Go(cluster)
	case ir.ScaleSession:
		g.Go(cluster)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// guard turns an analyzer error or panic into an isolated analysis error.
func guard(stage, session string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewAnalysisError(stage, session, fmt.Errorf("panic: %v", r))
			}
		}()
		if err := fn(); err != nil {
			return NewAnalysisError(stage, session, err)
		}
		return nil
	}
}

// apply folds analyzer outputs into the registry and the published state
// in FIFO order, then runs the scorer. Runs on the dispatcher (or inline
// in synchronous mode), never concurrently with itself.
func (e *Engine) apply(ctx context.Context, t *task, res *analysis) error {
	snap := t.snap
	var (
		transitions []stability.Transition
		requests    []stability.PromotionRequest
		errs        []error
	)

	if res.rhythm != nil {
		e.feedback.rhythm(res.rhythm)
	}
	if res.mined != nil {
		report := e.registry.Apply(res.mined)
		tr, req, err := e.scorer.Evaluate(report.Touched, snap.Window, snap.Session)
		transitions = append(transitions, tr...)
		requests = append(requests, req...)
		if err != nil {
			errs = append(errs, NewAnalysisError("score", snap.Session, err))
		}
	}
	if res.communities != nil {
		cs := res.communities.Communities
		e.communities.Store(&cs)
	}
	if snap.Scale() == ir.ScaleSession {
		tr, req, err := e.scorer.CloseSession(ctx, snap)
		transitions = append(transitions, tr...)
		requests = append(requests, req...)
		if err != nil {
			errs = append(errs, NewAnalysisError("close_session", snap.Session, err))
		}
		e.rhythm.Reset()
	}

	for _, tr := range transitions {
		e.publish(tr)
	}
	e.feedback.promote(requests)
	return errors.Join(errs...)
}
