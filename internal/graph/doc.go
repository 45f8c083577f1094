// Package graph implements the live multi-scale event relationship graph.
//
// Nodes and edges live in arenas addressed by stable integer handles;
// edges store handle pairs, never pointers. The graph is split into a
// session tier (fast decay, never persisted) and a core tier (slow decay,
// persisted). An edge lives in exactly one tier at a time.
//
// Thread-safety model:
//   - Graph is mutated only by the reactive path (single writer)
//   - View is an immutable deep copy handed to the analytical path and
//     pull APIs; it is safe for concurrent readers
package graph
