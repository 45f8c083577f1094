package engine

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
	"github.com/roach88/eresion/internal/window"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// dodgeAttack returns reps of dodge, attack, dodge one second apart.
func dodgeAttack(reps int) []ir.Event {
	var events []ir.Event
	for i := 0; i < reps; i++ {
		base := i * 1000
		events = append(events,
			ir.NewEvent(ms(base), "game", "dodge", 0.8, nil),
			ir.NewEvent(ms(base+120), "game", "attack", 1, nil),
			ir.NewEvent(ms(base+240), "game", "dodge", 0.8, nil))
	}
	return events
}

func syncConfig() Config {
	cfg := DefaultConfig()
	cfg.Synchronous = true
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithNow(func() time.Time { return testNow })}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func runSession(t *testing.T, e *Engine, id string, events []ir.Event) store.SessionRecord {
	t.Helper()
	_, err := e.StartSession(id)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, e.Submit(ev))
	}
	rec, err := e.EndSession(context.Background())
	require.NoError(t, err)
	return rec
}

func findMotif(motifs []ir.Motif, labels ...string) (ir.Motif, bool) {
	for _, m := range motifs {
		if slices.Equal(m.Labels, labels) {
			return m, true
		}
	}
	return ir.Motif{}, false
}

// recorder collects motif events; safe for the dispatcher goroutine.
type recorder struct {
	mu     sync.Mutex
	events []ir.MotifEvent
}

func (r *recorder) record(ev ir.MotifEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states(id string) []ir.MotifState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ir.MotifState
	for _, ev := range r.events {
		if ev.MotifID == id {
			out = append(out, ev.State)
		}
	}
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 0
	cfg.Stability.MaxPValue = 2

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidConfig))
	assert.Contains(t, err.Error(), "queue_capacity")
	assert.Contains(t, err.Error(), "max_p_value")
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		event   ir.Event
		wantErr error
	}{
		{"accepted", ir.NewEvent(ms(600), "game", "jump", 1, nil), nil},
		{"within tolerance", ir.NewEvent(ms(470), "game", "jump", 1, nil), nil},
		{"beyond tolerance", ir.NewEvent(ms(400), "game", "jump", 1, nil), ir.ErrOutOfOrder},
		{"missing name", ir.NewEvent(ms(600), "game", "", 1, nil), ir.ErrMalformed},
		{"intensity out of range", ir.NewEvent(ms(600), "game", "jump", 1.5, nil), ir.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, syncConfig())
			require.NoError(t, e.Submit(ir.NewEvent(ms(500), "game", "dodge", 1, nil)))

			err := e.Submit(tt.event)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				assert.Equal(t, int64(2), e.Stats().Events)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int64(1), e.Stats().Events, "rejected events leave the engine untouched")
			assert.Equal(t, int64(1), e.Stats().Rejected)
		})
	}
}

func TestSubmit_AutoStartsSession(t *testing.T) {
	e := newTestEngine(t, syncConfig(), WithIDGenerator(NewFixedGenerator("auto-1")))
	require.NoError(t, e.Submit(ir.NewEvent(0, "game", "dodge", 1, nil)))
	assert.Equal(t, "auto-1", e.Frame().Session)
	assert.Equal(t, "auto-1", e.Stats().Session)
}

func TestSession_Errors(t *testing.T) {
	e := newTestEngine(t, syncConfig())

	_, err := e.EndSession(context.Background())
	assert.True(t, HasCode(err, ErrCodeNoSession))

	_, err = e.StartSession("s1")
	require.NoError(t, err)
	_, err = e.StartSession("s2")
	assert.True(t, HasCode(err, ErrCodeSessionActive))

	_, err = e.SaveSnapshot(context.Background())
	assert.True(t, HasCode(err, ErrCodeNoStore))
}

func TestSession_StreamTimeRestarts(t *testing.T) {
	e := newTestEngine(t, syncConfig())
	rec := runSession(t, e, "s1", dodgeAttack(5))
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, int64(15), rec.Events)
	assert.Equal(t, testNow, rec.Started)

	_, err := e.StartSession("s2")
	require.NoError(t, err)
	assert.NoError(t, e.Submit(ir.NewEvent(0, "game", "dodge", 1, nil)),
		"the first event of a session is never out of order")
}

// Scenario C: dodge, attack, dodge repeated across four sessions becomes
// stable by the end of the third and promoted in the fourth.
func TestEngine_DodgeAttackStableThenPromoted(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "eresion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := newTestEngine(t, syncConfig(), WithStore(st))
	var rec recorder
	e.Subscribe(rec.record)

	reps := []int{13, 13, 12, 12}
	for i, id := range []string{"s1", "s2", "s3"} {
		runSession(t, e, id, dodgeAttack(reps[i]))
	}
	m, ok := findMotif(e.CurrentStableMotifs(), "game/attack", "game/dodge", "game/dodge")
	require.True(t, ok, "motif stable after three sessions")
	assert.Equal(t, ir.StateStable, m.State)
	assert.Equal(t, "s3", m.StableSession)
	assert.Zero(t, e.View().Stats().CoreEdges, "nothing promoted yet")

	runSession(t, e, "s4", dodgeAttack(reps[3]))
	m, ok = findMotif(e.Motifs(ir.StatePromoted), "game/attack", "game/dodge", "game/dodge")
	require.True(t, ok, "motif promoted in the fourth session")
	assert.Equal(t, []ir.MotifState{ir.StateReinforced, ir.StateStable, ir.StatePromoted}, rec.states(m.ID))
	assert.Len(t, e.Motifs(ir.StatePromoted), 1, "longer variants of the combo are near-duplicates")
	assert.Equal(t, int64(1), e.Stats().Promotions)
	assert.Positive(t, e.View().Stats().CoreEdges)

	ctx := context.Background()
	stored, err := st.ListMotifs(ctx, ir.StatePromoted)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, m.ID, stored[0].ID)

	sessions, err := st.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 4)

	// A fresh engine over the same store resumes the identity at half weight.
	persisted, err := st.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, persisted.CoreGraph.Edges)

	e2 := newTestEngine(t, syncConfig(), WithStore(st))
	restored, err := e2.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(persisted.Motifs), restored)

	_, coreEdges := e2.View().Core()
	require.Len(t, coreEdges, len(persisted.CoreGraph.Edges))
	for i, ce := range coreEdges {
		assert.InDelta(t, persisted.CoreGraph.Edges[i].Weight*0.5, ce.Weight, 1e-9)
	}
	_, ok = findMotif(e2.CurrentStableMotifs(), "game/attack", "game/dodge", "game/dodge")
	assert.True(t, ok)
}

// Scenario B: uniformly random event types never become stable.
func TestEngine_RandomStreamPromotesNothing(t *testing.T) {
	names := []string{"dodge", "attack", "jump", "block", "idle"}
	for _, seed := range []int64{9, 12} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			e := newTestEngine(t, syncConfig())
			rng := rand.New(rand.NewSource(seed))
			for s := 1; s <= 5; s++ {
				var events []ir.Event
				at := 0
				for i := 0; i < 200; i++ {
					at += 40 + rng.Intn(400)
					events = append(events, ir.NewEvent(ms(at), "game", names[rng.Intn(len(names))], 1, nil))
				}
				runSession(t, e, fmt.Sprintf("r%d", s), events)
			}
			assert.Empty(t, e.Motifs(ir.StateStable, ir.StatePromoted))
			assert.Zero(t, e.Stats().Promotions)
			assert.Zero(t, e.View().Stats().CoreEdges)
		})
	}
}

func TestEngine_AsynchronousMatchesSynchronous(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 1 << 14
	e := newTestEngine(t, cfg)
	var rec recorder
	unsubscribe := e.Subscribe(rec.record)
	defer unsubscribe()

	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		runSession(t, e, id, dodgeAttack([]int{13, 13, 12, 12}[i]))
	}
	m, ok := findMotif(e.Motifs(ir.StatePromoted), "game/attack", "game/dodge", "game/dodge")
	require.True(t, ok)
	assert.Equal(t, []ir.MotifState{ir.StateReinforced, ir.StateStable, ir.StatePromoted}, rec.states(m.ID))
	assert.Zero(t, e.Stats().Shed)
	require.NoError(t, e.Close())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	e := newTestEngine(t, syncConfig())
	var first, second recorder
	unsubscribe := e.Subscribe(first.record)
	e.Subscribe(func(ir.MotifEvent) { panic("subscriber bug") })
	e.Subscribe(second.record)

	runSession(t, e, "s1", dodgeAttack(13))
	runSession(t, e, "s2", dodgeAttack(13))
	require.NotEmpty(t, first.events)
	assert.Equal(t, first.events, second.events, "a panicking subscriber does not stop delivery")

	unsubscribe()
	unsubscribe()
	n := len(first.events)
	runSession(t, e, "s3", dodgeAttack(12))
	assert.Len(t, first.events, n)
	assert.Greater(t, len(second.events), n)
}

// Scenario A at the engine level: the published tempo follows a clean
// 480ms alternating pattern.
func TestEngine_TempoFromAlternatingPattern(t *testing.T) {
	e := newTestEngine(t, syncConfig())
	_, err := e.StartSession("beat")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Submit(ir.NewEvent(ms(i*480), "music", "a", 1, nil)))
		require.NoError(t, e.Submit(ir.NewEvent(ms(i*480+50), "music", "b", 1, nil)))
	}
	tempo := e.Tempo()
	require.True(t, tempo.Known())
	assert.InDelta(t, float64(ms(480)), float64(tempo.Period), float64(ms(20)))
	assert.Equal(t, tempo, e.Stats().Tempo)
}

func TestEngine_PredictNext(t *testing.T) {
	e := newTestEngine(t, syncConfig())
	_, err := e.StartSession("s1")
	require.NoError(t, err)
	for _, ev := range dodgeAttack(8) {
		require.NoError(t, e.Submit(ev))
	}

	preds := e.PredictNext("game/attack", 3)
	require.NotEmpty(t, preds)
	assert.Equal(t, "game/dodge", preds[0].Key)
	assert.NotEmpty(t, e.TopPatterns(5))
}

// Scenario D: synthetic high-density traffic beyond the edge ceiling is
// pruned below it within one decay tick, and core entries survive.
func TestEngine_EdgeCeilingPrunedWithinOneTick(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	core := []graph.CoreEdge{
		{EdgeRef: graph.EdgeRef{From: "core/a", To: "core/b", Kind: ir.Succession}, Weight: 0.8, Count: 40},
		{EdgeRef: graph.EdgeRef{From: "core/b", To: "core/c", Kind: ir.Succession}, Weight: 0.6, Count: 30},
	}
	_, err = st.SaveSnapshot(ctx, &store.Snapshot{CoreGraph: store.CoreGraph{
		Nodes: []graph.CoreNode{{Key: "core/a", Count: 40}, {Key: "core/b", Count: 70}, {Key: "core/c", Count: 30}},
		Edges: core,
	}})
	require.NoError(t, err)

	cfg := syncConfig()
	cfg.Graph.EdgeCeiling = 200
	e := newTestEngine(t, cfg, WithStore(st))
	_, err = e.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, e.graph.CoreEdgeCount())

	_, err = e.StartSession("flood")
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 250; i++ {
		ev := ir.NewEvent(ms(i*4), "flood", fmt.Sprintf("t%02d", rng.Intn(60)), 1, nil)
		require.NoError(t, e.Submit(ev))
	}
	require.Greater(t, e.graph.EdgeCount(), cfg.Graph.EdgeCeiling, "traffic exceeds the ceiling before the tick")

	require.NoError(t, e.Submit(ir.NewEvent(ms(1000), "flood", "t00", 1, nil)))
	assert.LessOrEqual(t, e.graph.EdgeCount(), cfg.Graph.EdgeCeiling)
	assert.Equal(t, 2, e.graph.CoreEdgeCount(), "core edges are never pruned")

	_, edges := e.View().Core()
	require.Len(t, edges, 2)
	assert.Equal(t, core[0].EdgeRef, edges[0].EdgeRef)
	assert.Equal(t, core[1].EdgeRef, edges[1].EdgeRef)
}

func TestEngine_DegradesInsteadOfFailing(t *testing.T) {
	cfg := syncConfig()
	cfg.Memory.MaxNodes = 5
	e := newTestEngine(t, cfg)

	_, err := e.StartSession("busy")
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		ev := ir.NewEvent(ms(i*10), "busy", fmt.Sprintf("k%d", i%20), 1, nil)
		require.NoError(t, e.Submit(ev), "overload never rejects events")
	}
	assert.Equal(t, LevelReactiveOnly, e.Level())
	assert.Equal(t, "reactive_only", e.Stats().Level)
	assert.Positive(t, e.Stats().Skipped)

	_, err = e.EndSession(context.Background())
	assert.NoError(t, err)
}

func TestEngine_ShedsOldestAndSupersedes(t *testing.T) {
	cfg := syncConfig()
	cfg.QueueCapacity = 2
	e := newTestEngine(t, cfg)
	// Queue without a dispatcher so nothing is consumed.
	e.cfg.Synchronous = false

	snap := func(scale ir.Scale) *window.Snapshot {
		return &window.Snapshot{Window: ir.Window{Scale: scale}}
	}
	t1 := &task{gen: 1, snap: snap(ir.ScaleMeso)}
	session := &task{gen: 2, snap: snap(ir.ScaleSession)}
	t3 := &task{gen: 3, snap: snap(ir.ScaleMacro)}
	t4 := &task{gen: 4, snap: snap(ir.ScaleMeso)}

	e.dispatchTask(t1)
	e.dispatchTask(session)
	e.dispatchTask(t3)
	e.dispatchTask(t4)

	assert.Equal(t, int64(2), e.Stats().Shed)
	assert.Equal(t, 2, e.Stats().QueueDepth)
	assert.True(t, e.stale(t1))
	assert.True(t, e.stale(t3))
	assert.False(t, e.stale(t4))
	assert.False(t, e.stale(session), "session windows are never superseded")

	e.analyze(context.Background(), t1)
	assert.Equal(t, int64(1), e.Stats().Discarded)
	assert.Zero(t, e.Stats().Analyzed)
}

func TestEngine_AnalysisFailureIsolated(t *testing.T) {
	e := newTestEngine(t, syncConfig())
	_, err := e.StartSession("s1")
	require.NoError(t, err)

	// A macro task without a view makes community detection panic.
	e.analyze(context.Background(), &task{gen: 1, snap: &window.Snapshot{Window: ir.Window{Scale: ir.ScaleMacro}}})
	assert.Equal(t, int64(1), e.Stats().Failed)

	assert.NoError(t, e.Submit(ir.NewEvent(0, "game", "dodge", 1, nil)), "the reactive path is unaffected")
}

func TestGuard_RecoversPanic(t *testing.T) {
	err := guard("mine", "s1", func() error { panic("boom") })()
	require.Error(t, err)
	assert.True(t, IsAnalysisError(err))
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Contains(t, err.Error(), "stage=mine")

	assert.NoError(t, guard("mine", "s1", func() error { return nil })())
}

func TestEngine_RunLoop(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	events := dodgeAttack(10)
	for _, ev := range events {
		require.True(t, e.Enqueue(ev))
	}
	e.Enqueue(ir.NewEvent(0, "game", "", 1, nil))
	e.Stop()
	assert.False(t, e.Enqueue(events[0]), "stopped engine refuses events")

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, int64(len(events)), e.Stats().Events)
	assert.Equal(t, int64(1), e.Stats().Rejected)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_ClosedRejectsWork(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	err := e.Submit(ir.NewEvent(0, "game", "dodge", 1, nil))
	assert.True(t, HasCode(err, ErrCodeClosed))
}
