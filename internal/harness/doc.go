// Package harness runs engine scenarios described in YAML.
//
// A scenario feeds synthetic sessions into a synchronous engine backed by
// an in-memory store and checks the resulting tempo, graph and motif
// states. The acceptance scenarios live in testdata/scenarios.
//
// # Scenario Format
//
//	name: dodge_attack_promotion
//	description: "A repeated combo becomes stable, then promoted"
//	config: ceiling.cue           # optional CUE config, relative to this file
//	core:                         # optional persisted core edges
//	  - {from: core/a, to: core/b, kind: succession, weight: 0.8}
//	sessions:
//	  - id: s1
//	    events:                   # explicit events
//	      - {at: 0ms, type: music/a}
//	    repeat:                   # a pattern repeated every period
//	      count: 13
//	      period: 1s
//	      pattern:
//	        - {at: 0ms, type: game/dodge, intensity: 0.8}
//	    random:                   # seeded uniform noise
//	      {count: 500, types: 40, domain: noise, spacing: 20ms, seed: 1}
//	    expect:                   # checked after the session ends
//	      - {type: motif_state, labels: [...], state: stable}
//	assertions:                   # checked after the last session
//	  - {type: edge_count_max, max: 200}
//
// # Assertion Types
//
//   - tempo: the smoothed period is within tolerance of period
//   - alignment: the from→to succession edge has |alignment| >= min
//   - motif_state: the motif with the given labels is in state
//   - motif_count: exactly count motifs are in state
//   - transitions: the motif went through states, in order
//   - edge_count_max: at most max live edges
//   - core_edge_count: exactly count core edges
//   - sessions_recorded: the store holds count session records
//   - predict_next: to is the most likely successor of from
//
// # Deterministic Testing
//
// Session ids come from the scenario, wall time from a deterministic
// clock, and random streams from their seed, so a scenario always feeds
// the same stream. RunWithGolden compares that stream against
// testdata/golden/<name>.golden.
package harness
