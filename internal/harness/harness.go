package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/eresion/internal/config"
	"github.com/roach88/eresion/internal/engine"
	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
	"github.com/roach88/eresion/internal/testutil"
)

// Harness runs one scenario against a synchronous engine backed by an
// in-memory store.
type Harness struct {
	engine *engine.Engine
	store  store.SnapshotStore
	logger *slog.Logger

	mu     sync.Mutex
	result *Result
	active string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory Badger store. Analysis runs
// synchronously and wall time comes from a deterministic clock, so the
// same scenario always produces the same result.
//
// Execution flow:
// 1. Build the engine configuration
// 2. Seed and load the core graph, if any
// 3. Feed each session, checking its expectations after it ends
// 4. Evaluate the final assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := engineConfig(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenBadgerInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewDeterministicClock(time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(cfg,
		engine.WithStore(st),
		engine.WithNow(clock.Now),
		engine.WithLogger(logger),
		engine.WithIDGenerator(engine.NewFixedGenerator(sessionIDs(scenario)...)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{
		engine: eng,
		store:  st,
		logger: logger,
		result: NewResult(),
	}
	eng.Subscribe(h.record)

	if len(scenario.Core) > 0 {
		if err := h.seedCore(ctx, scenario.Core); err != nil {
			return nil, fmt.Errorf("failed to seed core graph: %w", err)
		}
	}

	for _, sess := range scenario.Sessions {
		if err := h.runSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("session %s: %w", sess.ID, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func engineConfig(scenario *Scenario) (engine.Config, error) {
	fc := config.Default()
	if scenario.Config != "" {
		var err error
		if fc, err = config.Load(scenario.Config); err != nil {
			return engine.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg, err := fc.EngineConfig()
	if err != nil {
		return engine.Config{}, err
	}
	cfg.Synchronous = true
	return cfg, nil
}

func sessionIDs(s *Scenario) []string {
	ids := make([]string, len(s.Sessions))
	for i, sess := range s.Sessions {
		ids[i] = sess.ID
	}
	return ids
}

// seedCore persists a snapshot holding the given core edges and loads it,
// as a restarted engine would.
func (h *Harness) seedCore(ctx context.Context, edges []CoreEdge) error {
	snap := &store.Snapshot{}
	counts := make(map[string]int64)
	for _, ce := range edges {
		kind, err := ir.ParseRelationKind(ce.Kind)
		if err != nil {
			return err
		}
		snap.CoreGraph.Edges = append(snap.CoreGraph.Edges, graph.CoreEdge{
			EdgeRef: graph.EdgeRef{From: ce.From, To: ce.To, Kind: kind},
			Weight:  ce.Weight,
			Count:   1,
		})
		counts[ce.From]++
		counts[ce.To]++
	}
	for _, ce := range snap.CoreGraph.Edges {
		for _, key := range []string{ce.From, ce.To} {
			if n, ok := counts[key]; ok {
				snap.CoreGraph.Nodes = append(snap.CoreGraph.Nodes, graph.CoreNode{Key: key, Count: n})
				delete(counts, key)
			}
		}
	}

	if _, err := h.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	_, err := h.engine.LoadSnapshot(ctx)
	return err
}

func (h *Harness) runSession(ctx context.Context, sess Session) error {
	// The fixed id generator hands out scenario ids in order.
	id, err := h.engine.StartSession("")
	if err != nil {
		return err
	}
	if id != sess.ID {
		return fmt.Errorf("started session %q, want %q", id, sess.ID)
	}
	h.setActive(id)

	events := sess.Stream()
	for i, ev := range events {
		if err := h.engine.Submit(ev); err != nil {
			return fmt.Errorf("event %d (%s at %s): %w", i, ev.Type(), ev.Timestamp, err)
		}
	}

	rec, err := h.engine.EndSession(ctx)
	if err != nil {
		return err
	}
	h.result.Sessions = append(h.result.Sessions, rec)
	h.result.Stream = append(h.result.Stream, SessionStream{Session: id, Events: events})
	h.logger.Debug("scenario session complete",
		"session", id,
		"events", rec.Events,
		"motifs", rec.Motifs)

	for _, msg := range EvaluateAssertions(ctx, h, sess.Expect) {
		h.result.AddError(fmt.Sprintf("after session %s: %s", id, msg))
	}
	return nil
}

func (h *Harness) setActive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = id
}

// record is the engine subscriber. Labels are resolved from the pull API,
// which is safe to call from a callback.
func (h *Harness) record(ev ir.MotifEvent) {
	var labels []string
	for _, m := range h.engine.Motifs() {
		if m.ID == ev.MotifID {
			labels = m.Labels
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Session:   h.active,
		MotifID:   ev.MotifID,
		Labels:    labels,
		State:     ev.State,
		Stability: ev.Stability,
		Window:    ev.TriggeringWindow,
	})
}
