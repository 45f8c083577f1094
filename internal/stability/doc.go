// Package stability scores motifs and drives their state machine.
//
//	stability = consistency * persistence * session_recurrence * significance * recency
//
// consistency is one minus the normalized variance of per-window strength,
// persistence the share of relevant epochs with an occurrence,
// session_recurrence a step function of distinct sessions, significance
// the outcome of a permutation test and recency a per-idle-session decay.
//
// The Scorer is the only writer of motif state. Every write is a
// version-checked registry update, so a result computed against an
// outdated entry is retried or dropped, never applied blindly.
package stability
