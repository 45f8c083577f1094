// Package motif mines small recurring subgraphs from closed window
// snapshots and keeps their running statistics in a versioned registry.
//
// Mining never touches the live graph. For each meso or macro snapshot the
// miner builds an instance graph over the window's events, enumerates the
// connected subgraphs of 3 to 5 instances anchored on the window's final
// hop, and reduces each to a canonical shape whose hash is the motif
// signature. Isomorphic subgraphs share a signature regardless of the order
// their instances were observed in.
//
// The registry only creates motifs (as candidates) and accumulates
// statistics; state transitions belong to the stability scorer, which
// writes through version-checked updates.
package motif
