// Package engine wires the eresion components into a running pattern
// engine.
//
// ARCHITECTURE:
//
// Reactive path (one goroutine, per event):
// 1. Submit validates the event (Malformed, OutOfOrder beyond tolerance)
// 2. graph.Updater strengthens co-occurrence, succession and causal edges
// 3. window.Manager closes every window the event passes
// 4. Every DecayInterval of stream time the graph decays and is pruned,
//    a fresh view is published and the degradation ladder is reassessed
// 5. Feedback from the analytical path (tempo, alignments, promotions) is
//    applied to the live graph
//
// Analytical path (dispatcher goroutine, per closed window):
// 1. Closed meso, macro and session windows are queued on a bounded queue
//    that sheds the oldest snapshot instead of blocking ingestion
// 2. Rhythm, mining and community detection run concurrently on an
//    errgroup; results are applied in FIFO order and scored
// 3. Every task carries a generation; a result superseded by a shed
//    window is discarded on arrival
//
// The live graph is written only by the reactive path. The analytical path
// reads immutable graph.View copies published through atomic pointers, and
// writes only the motif registry, under optimistic version checks.
//
// CRITICAL PATTERNS:
//
// Promotion coordinator: moving a motif into the core tier and writing
// persistence share one mutex, so a snapshot never holds half a promotion.
//
// Degradation: resource pressure never fails ingestion. The ladder
// prunes harder, then drops macro, meso and finally all analysis.
package engine
