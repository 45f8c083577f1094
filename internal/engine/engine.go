package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/eresion/internal/community"
	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/motif"
	"github.com/roach88/eresion/internal/rhythm"
	"github.com/roach88/eresion/internal/stability"
	"github.com/roach88/eresion/internal/store"
	"github.com/roach88/eresion/internal/window"
)

// Engine turns a stream of events into motifs.
//
// The reactive path folds each event into the live graph and the window
// manager. Closed windows are handed to the analytical path, which mines,
// scores and clusters them off the ingest path and reports back through
// published state and subscriber callbacks.
//
// CRITICAL: the reactive path is single-writer. Submit, StartSession,
// EndSession and LoadSnapshot must be called from one goroutine, directly
// or through Enqueue and Run.
//
// Thread-safety model:
//   - Enqueue(), Subscribe() and every pull API: safe from any goroutine
//   - SaveSnapshot(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	cfg   Config
	store store.SnapshotStore
	ids   IDGenerator
	now   func() time.Time
	log   *slog.Logger

	// Reactive path.
	graph       *graph.Graph
	updater     *graph.Updater
	windows     *window.Manager
	ladder      *ladder
	session     sessionState
	last        time.Duration
	seen        bool
	lastDecay   time.Duration
	tempo       ir.Tempo
	sessionDone chan struct{}

	// Analytical path.
	rhythm     *rhythm.Detector
	miner      *motif.Miner
	registry   *motif.Registry
	scorer     *stability.Scorer
	detector   *community.Detector
	tasks      *fifo[*task]
	gens       *Clock
	superseded atomic.Int64
	inflight   inflight
	feedback   feedback
	dispatched chan struct{}

	// Published state, double buffered through atomic pointer swaps.
	view        atomic.Pointer[graph.View]
	frame       atomic.Pointer[ir.Frame]
	communities atomic.Pointer[[]ir.Community]
	level       atomic.Int32

	// promoMu serializes promotions into the core tier with persistence.
	promoMu sync.Mutex

	subs     subscribers
	counters counters

	input  *fifo[ir.Event]
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

type sessionState struct {
	id      string
	active  bool
	started time.Time
	events  int64
	dropped int
}

type counters struct {
	events      atomic.Int64
	rejected    atomic.Int64
	windows     atomic.Int64
	analyzed    atomic.Int64
	skipped     atomic.Int64
	shed        atomic.Int64
	discarded   atomic.Int64
	failed      atomic.Int64
	transitions atomic.Int64
	promotions  atomic.Int64
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithStore enables persistence of snapshots, promoted motifs and sessions.
func WithStore(s store.SnapshotStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithIDGenerator sets the generator of session ids.
//
// Default: UUIDv7Generator.
// Use NewFixedGenerator for deterministic tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNow sets the wall clock used for session records and snapshot
// headers. Stream time always comes from event timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an engine. Unless cfg.Synchronous is set, New starts the
// analytical dispatcher; Close stops it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &RuntimeError{Code: ErrCodeInvalidConfig, Message: "invalid configuration", Err: err}
	}

	g := graph.New(cfg.Graph)
	reg := motif.NewRegistry(cfg.Motif)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		ids:      UUIDv7Generator{},
		now:      time.Now,
		log:      slog.Default(),
		graph:    g,
		updater:  graph.NewUpdater(g, cfg.Updater),
		windows:  window.NewManager(cfg.window()),
		ladder:   newLadder(cfg.Memory, cfg.Graph.EdgeCeiling),
		rhythm:   rhythm.NewDetector(cfg.Rhythm),
		miner:    motif.NewMiner(cfg.Motif),
		registry: reg,
		scorer:   stability.NewScorer(cfg.Stability, cfg.Motif, reg),
		detector: community.NewDetector(cfg.Community),
		tasks:    newFIFO(cfg.QueueCapacity, (*task).pinned),
		gens:     NewClock(),
		input:    newFIFO[ir.Event](0, nil),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	for _, s := range ir.AllScales {
		e.windows.Register(s, e.handoff)
	}
	e.view.Store(g.View(0))
	e.frame.Store(&ir.Frame{WindowScale: e.windows.Factor()})
	e.communities.Store(&[]ir.Community{})

	if !cfg.Synchronous {
		e.dispatched = make(chan struct{})
		go e.dispatch()
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Submit validates one event and folds it into the live graph and the
// window manager. A rejected event returns *ir.ValidationError and leaves
// the engine untouched; ingestion continues with the next event.
//
// Submit starts a session with a generated id if none is active.
func (e *Engine) Submit(ev ir.Event) error {
	if e.closed.Load() {
		return newRuntimeError(ErrCodeClosed, e.session.id, "engine is closed")
	}
	if err := ev.Validate(); err != nil {
		e.reject("malformed")
		return err
	}
	if e.seen && ev.Timestamp < e.last-e.cfg.OutOfOrderTolerance {
		e.reject("out_of_order")
		return ir.OutOfOrder(ev.Timestamp, e.last, e.cfg.OutOfOrderTolerance)
	}
	if !e.session.active {
		if _, err := e.StartSession(""); err != nil {
			return err
		}
	}

	frame := *e.frame.Load()
	touches := e.updater.Apply(ev, frame)
	e.windows.Insert(ev, touches)

	if !e.seen || ev.Timestamp > e.last {
		e.last = ev.Timestamp
	}
	e.seen = true
	e.session.events++
	e.counters.events.Add(1)
	eventsTotal.WithLabelValues("accepted").Inc()

	e.maybeDecay(e.last)
	e.drain()
	e.refreshFrame()
	return nil
}

func (e *Engine) reject(reason string) {
	e.counters.rejected.Add(1)
	eventsTotal.WithLabelValues(reason).Inc()
}

// Enqueue submits an event for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev ir.Event) bool {
	_, ok := e.input.Enqueue(ev)
	return ok
}

// Run starts the single-writer ingest loop over enqueued events.
// Blocks until ctx is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine, and no other
// goroutine may call Submit while it runs.
//
// Rejected events are logged and skipped.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting", "synchronous", e.cfg.Synchronous)

	for {
		ev, ok := e.input.TryDequeue()
		if ok {
			if err := e.Submit(ev); err != nil {
				e.log.Debug("event rejected",
					"type", ev.Type(),
					"timestamp", ev.Timestamp,
					"error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			e.input.Close()
			return ctx.Err()

		case <-e.input.Wait():
			// The signal channel closes with the queue, so a closed and
			// drained queue ends the loop.
			if e.input.Drained() {
				e.log.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the ingest queue, which will cause Run() to return once the
// queued events are processed.
func (e *Engine) Stop() {
	e.input.Close()
}

// Close stops ingestion, lets the dispatcher finish queued analysis, and
// releases the engine. The store is owned by the caller and left open.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.input.Close()
	e.tasks.Close()
	if e.dispatched != nil {
		<-e.dispatched
	}
	e.cancel()
	return nil
}

// StartSession begins a session. An empty id is replaced by a generated
// one; the session id is returned. Stream time restarts with the session:
// the first event of a session is never out of order.
func (e *Engine) StartSession(id string) (string, error) {
	if e.session.active {
		return "", newRuntimeError(ErrCodeSessionActive, e.session.id, "end the active session first")
	}
	if id == "" {
		id = e.ids.Generate()
	}
	e.session = sessionState{id: id, active: true, started: e.now().UTC()}
	e.seen = false
	e.last = 0
	e.lastDecay = 0
	e.windows.StartSession(id, 0)
	e.refreshFrame()

	e.log.Info("session started", "session", id)
	return id, nil
}

// EndSession closes the active session: every open window is flushed and
// analyzed, pending promotions are applied, and when a store is configured
// the session record and a snapshot are persisted.
//
// A persistence failure is returned after retries, but the in-memory
// state stays authoritative and the engine keeps running.
func (e *Engine) EndSession(ctx context.Context) (store.SessionRecord, error) {
	if !e.session.active {
		return store.SessionRecord{}, newRuntimeError(ErrCodeNoSession, "", "no active session")
	}
	id := e.session.id

	e.sessionDone = nil
	e.windows.Flush()
	if done := e.sessionDone; done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return store.SessionRecord{}, ctx.Err()
		}
	}
	e.drain()
	e.updater.Reset()
	e.view.Store(e.graph.View(e.last))

	rec := store.SessionRecord{
		ID:      id,
		Started: e.session.started,
		Ended:   e.now().UTC(),
		Events:  e.session.events,
		Dropped: e.session.dropped,
		Motifs:  len(e.registry.Motifs()),
	}
	e.session = sessionState{}
	e.refreshFrame()

	e.log.Info("session ended",
		"session", id,
		"events", rec.Events,
		"motifs", rec.Motifs,
		"stable", len(e.registry.Motifs(ir.StateStable)),
		"promoted", len(e.registry.Motifs(ir.StatePromoted)))

	if e.store == nil {
		return rec, nil
	}
	var errs []error
	err := store.Retry(ctx, e.cfg.SnapshotRetries, func(ctx context.Context) error {
		return e.store.RecordSession(ctx, rec)
	})
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := e.SaveSnapshot(ctx); err != nil {
		errs = append(errs, err)
	}
	return rec, errors.Join(errs...)
}

// maybeDecay runs a decay tick once DecayInterval of stream time has
// passed since the last one.
func (e *Engine) maybeDecay(t time.Duration) {
	elapsed := t - e.lastDecay
	if elapsed < e.cfg.DecayInterval {
		return
	}
	e.lastDecay = t
	e.decay(elapsed, t)
}

// decay ages the graph, prunes it under the policy of the current
// degradation level, publishes a fresh view and reassesses the level.
func (e *Engine) decay(elapsed, at time.Duration) graph.PruneReport {
	e.graph.DecayTick(elapsed)
	rep := e.graph.Prune(e.ladder.policy(e.graph.Config().PrunePolicy()))

	v := e.graph.View(at)
	e.view.Store(v)
	st := v.Stats()
	graphSize.WithLabelValues("nodes", "all").Set(float64(st.Nodes))
	graphSize.WithLabelValues("edges", "session").Set(float64(st.SessionEdges))
	graphSize.WithLabelValues("edges", "core").Set(float64(st.CoreEdges))

	if rep.Removed() > 0 {
		e.log.Debug("graph pruned",
			"removed", rep.Removed(),
			"below_floor", rep.BelowFloor,
			"over_degree", rep.OverDegree,
			"compressed", rep.Compressed,
			"evicted", rep.Evicted,
			"edges", rep.EdgesAfter)
	}

	prev := Level(e.level.Load())
	if level, changed := e.ladder.assess(st); changed {
		e.level.Store(int32(level))
		degradationLevel.Set(float64(level))
		e.log.Warn("degradation level changed",
			"from", prev,
			"to", level,
			"nodes", st.Nodes,
			"edges", st.Edges,
			"session_bytes", st.SessionBytes,
			"core_bytes", st.CoreBytes)
	}
	return rep
}

// drain applies what the analytical path handed back: the smoothed tempo,
// edge alignments and promotion requests.
// CRITICAL: reactive path only.
func (e *Engine) drain() {
	tempo, alignments, requests := e.feedback.take()
	if tempo != nil {
		e.tempo = *tempo
	}
	for _, a := range alignments {
		e.graph.SetAlignment(a.From, a.To, a.Kind, a.Score)
	}
	for _, req := range requests {
		tr, ok := e.promote(req)
		if !ok {
			continue
		}
		e.publish(tr)
		m := tr.Motif
		e.dispatchTask(&task{gen: e.gens.Next(), motif: &m})
	}
}

// refreshFrame publishes a new frame when the tempo, window adaptation or
// session changed.
func (e *Engine) refreshFrame() {
	f := ir.Frame{
		Tempo:       e.tempo,
		WindowScale: e.windows.Factor(),
		Session:     e.session.id,
		Generation:  e.graph.Generation(),
	}
	if cur := e.frame.Load(); cur != nil && *cur == f {
		return
	}
	e.frame.Store(&f)
	e.windows.SetFrame(f)
}

// Tempo returns the current smoothed tempo.
func (e *Engine) Tempo() ir.Tempo {
	return e.frame.Load().Tempo
}

// Frame returns the current published context.
func (e *Engine) Frame() ir.Frame {
	return *e.frame.Load()
}

// View returns the last published graph view.
func (e *Engine) View() *graph.View {
	return e.view.Load()
}

// Level returns the current degradation level.
func (e *Engine) Level() Level {
	return Level(e.level.Load())
}

// CurrentStableMotifs returns the stable and promoted motifs.
func (e *Engine) CurrentStableMotifs() []ir.Motif {
	return e.registry.Motifs(ir.StateStable, ir.StatePromoted)
}

// Motifs returns every candidate motif, or those in the given states.
func (e *Engine) Motifs(states ...ir.MotifState) []ir.Motif {
	return e.registry.Motifs(states...)
}

// CurrentCommunities returns the communities of the last detector run.
func (e *Engine) CurrentCommunities() []ir.Community {
	return *e.communities.Load()
}

// PredictNext ranks the likely successors of an event type in the last
// published view.
func (e *Engine) PredictNext(eventType string, k int) []graph.Prediction {
	return e.view.Load().PredictNext(eventType, k)
}

// TopPatterns returns the k strongest relations of the last published view.
func (e *Engine) TopPatterns(k int) []graph.Pattern {
	return e.view.Load().TopEdges(k)
}

// Stats summarizes engine activity.
type Stats struct {
	Session     string      `json:"session"`
	Events      int64       `json:"events"`
	Rejected    int64       `json:"rejected"`
	Windows     int64       `json:"windows"`
	Analyzed    int64       `json:"analyzed"`
	Skipped     int64       `json:"skipped"`
	Shed        int64       `json:"shed"`
	Discarded   int64       `json:"discarded"`
	Failed      int64       `json:"failed"`
	Transitions int64       `json:"transitions"`
	Promotions  int64       `json:"promotions"`
	QueueDepth  int         `json:"queue_depth"`
	Level       string      `json:"level"`
	Graph       graph.Stats `json:"graph"`
	Motifs      int         `json:"motifs"`
	Stable      int         `json:"stable"`
	Promoted    int         `json:"promoted"`
	Communities int         `json:"communities"`
	Tempo       ir.Tempo    `json:"tempo"`
}

// Stats returns a point-in-time summary. Safe from any goroutine.
func (e *Engine) Stats() Stats {
	frame := e.frame.Load()
	return Stats{
		Session:     frame.Session,
		Events:      e.counters.events.Load(),
		Rejected:    e.counters.rejected.Load(),
		Windows:     e.counters.windows.Load(),
		Analyzed:    e.counters.analyzed.Load(),
		Skipped:     e.counters.skipped.Load(),
		Shed:        e.counters.shed.Load(),
		Discarded:   e.counters.discarded.Load(),
		Failed:      e.counters.failed.Load(),
		Transitions: e.counters.transitions.Load(),
		Promotions:  e.counters.promotions.Load(),
		QueueDepth:  e.tasks.Len(),
		Level:       e.Level().String(),
		Graph:       e.view.Load().Stats(),
		Motifs:      len(e.registry.Motifs()),
		Stable:      len(e.registry.Motifs(ir.StateStable)),
		Promoted:    len(e.registry.Motifs(ir.StatePromoted)),
		Communities: len(*e.communities.Load()),
		Tempo:       frame.Tempo,
	}
}
