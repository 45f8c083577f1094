package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
)

// SaveSnapshot persists the core tier of the last published view and every
// candidate motif, retrying transient failures with backoff. Returns the
// snapshot sequence number.
//
// Safe from any goroutine. Holds the promotion lock for the duration, so
// no promotion is half-applied in the snapshot.
func (e *Engine) SaveSnapshot(ctx context.Context) (int64, error) {
	if e.store == nil {
		return 0, newRuntimeError(ErrCodeNoStore, "", "no snapshot store configured")
	}

	ctx, span := tracer.Start(ctx, "engine.SaveSnapshot")
	defer span.End()
	logger := loggerWithTrace(ctx, e.log)

	e.promoMu.Lock()
	defer e.promoMu.Unlock()

	nodes, edges := e.view.Load().Core()
	snap := &store.Snapshot{
		Header:    store.Header{Timestamp: e.now().UTC()},
		CoreGraph: store.CoreGraph{Nodes: nodes, Edges: edges},
		Motifs:    e.registry.Motifs(),
	}

	var seq int64
	err := store.Retry(ctx, e.cfg.SnapshotRetries, func(ctx context.Context) error {
		var err error
		seq, err = e.store.SaveSnapshot(ctx, snap)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("snapshot not saved, in-memory state remains authoritative",
			"error", err)
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	for _, m := range snap.Motifs {
		if !m.State.Established() {
			continue
		}
		if err := e.upsertMotif(ctx, m); err != nil {
			logger.Warn("motif not persisted", "motif", shortID(m.ID), "error", err)
		}
	}

	span.SetAttributes(
		attribute.Int64("snapshot.seq", seq),
		attribute.Int("snapshot.core_nodes", len(nodes)),
		attribute.Int("snapshot.core_edges", len(edges)),
		attribute.Int("snapshot.motifs", len(snap.Motifs)),
	)
	logger.Info("snapshot saved",
		"seq", seq,
		"core_nodes", len(nodes),
		"core_edges", len(edges),
		"motifs", len(snap.Motifs))
	return seq, nil
}

// LoadSnapshot merges the latest persisted snapshot into the engine: the
// core graph at CoreMergeFactor of its persisted weight, and the motifs as
// candidates. Returns the number of motifs restored; errors.Is(err,
// store.ErrNoSnapshot) when nothing was saved yet.
// CRITICAL: reactive path only.
func (e *Engine) LoadSnapshot(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, newRuntimeError(ErrCodeNoStore, "", "no snapshot store configured")
	}

	ctx, span := tracer.Start(ctx, "engine.LoadSnapshot")
	defer span.End()
	logger := loggerWithTrace(ctx, e.log)

	var snap *store.Snapshot
	err := store.Retry(ctx, e.cfg.SnapshotRetries, func(ctx context.Context) error {
		var err error
		snap, err = e.store.LatestSnapshot(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("load snapshot: %w", err)
	}

	e.promoMu.Lock()
	e.graph.MergeCore(snap.CoreGraph.Nodes, snap.CoreGraph.Edges, e.cfg.CoreMergeFactor)
	restored := e.registry.Restore(snap.Motifs)
	e.view.Store(e.graph.View(e.last))
	e.promoMu.Unlock()

	span.SetAttributes(
		attribute.Int("snapshot.core_edges", len(snap.CoreGraph.Edges)),
		attribute.Int("snapshot.motifs_restored", restored),
	)
	logger.Info("snapshot loaded",
		"timestamp", snap.Header.Timestamp,
		"engine_version", snap.Header.EngineVersion,
		"core_nodes", len(snap.CoreGraph.Nodes),
		"core_edges", len(snap.CoreGraph.Edges),
		"motifs_restored", restored)
	return restored, nil
}

// persistMotif writes a promoted motif through the promotion coordinator.
// A failure is logged; the motif is written again with the next snapshot.
func (e *Engine) persistMotif(ctx context.Context, m ir.Motif) {
	if e.store == nil {
		return
	}
	ctx, span := tracer.Start(ctx, "engine.persistMotif")
	defer span.End()

	e.promoMu.Lock()
	defer e.promoMu.Unlock()
	if err := e.upsertMotif(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		loggerWithTrace(ctx, e.log).Warn("promoted motif not persisted",
			"motif", shortID(m.ID),
			"error", err)
	}
}

// upsertMotif retries one motif write. Caller holds promoMu.
func (e *Engine) upsertMotif(ctx context.Context, m ir.Motif) error {
	return store.Retry(ctx, e.cfg.SnapshotRetries, func(ctx context.Context) error {
		return e.store.UpsertMotif(ctx, m)
	})
}
