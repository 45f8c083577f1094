package ir

import (
	"maps"
	"slices"
	"time"
)

// Window is a bounded interval of stream time at one scale.
// Session windows have Hop == 0 and close only at session end.
type Window struct {
	Scale Scale         `json:"scale"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Hop   time.Duration `json:"hop"`
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

// Contains reports whether ts lies in [Start, End).
func (w Window) Contains(ts time.Duration) bool {
	return ts >= w.Start && ts < w.End
}

// AnchorStart returns the start of the window's final hop. Every instant is
// in the final hop of exactly one window per sliding scale, so analyzers
// attribute occurrences to the window whose final hop holds their last event.
func (w Window) AnchorStart() time.Duration {
	if w.Hop <= 0 || w.Hop > w.Duration() {
		return w.Start
	}
	return w.End - w.Hop
}

// MotifEdge is one typed relation between two members of a motif,
// addressed by index into Motif.Labels.
type MotifEdge struct {
	From int          `json:"from"`
	To   int          `json:"to"`
	Kind RelationKind `json:"kind"`
}

// Motif is a small recurring subgraph signature plus its statistics.
// ID is the canonical signature; isomorphic subgraphs share it.
type Motif struct {
	ID            string             `json:"id"`
	Labels        []string           `json:"labels"`
	Edges         []MotifEdge        `json:"edges"`
	Scale         Scale              `json:"scale"`
	Centroid      map[string]float64 `json:"centroid,omitempty"`
	Variance      float64            `json:"variance"`
	Prevalence    float64            `json:"prevalence"`
	Persistence   float64            `json:"persistence"`
	Consistency   float64            `json:"consistency"`
	Stability     float64            `json:"stability"`
	SessionCount  int                `json:"session_count"`
	PValue        float64            `json:"p_value"`
	State         MotifState         `json:"state"`
	Occurrences   int                `json:"occurrences"`
	Windows       int                `json:"windows"`
	FirstSeen     time.Duration      `json:"first_seen"`
	LastSeen      time.Duration      `json:"last_seen"`
	StableSession string             `json:"stable_session,omitempty"`
	Version       uint64             `json:"version"`
}

// Clone returns a deep copy of the motif.
func (m Motif) Clone() Motif {
	m.Labels = slices.Clone(m.Labels)
	m.Edges = slices.Clone(m.Edges)
	m.Centroid = maps.Clone(m.Centroid)
	return m
}

// Community is a cluster of event types from the live session graph.
type Community struct {
	ID                int      `json:"id"`
	Members           []string `json:"members"`
	InternalDensity   float64  `json:"internal_density"`
	ExternalDensity   float64  `json:"external_density"`
	StabilityOverTime float64  `json:"stability_over_time"`
	Archetype         bool     `json:"archetype"`
}

// MotifEvent is delivered to subscribers whenever a motif changes state.
type MotifEvent struct {
	MotifID          string             `json:"motif_id"`
	State            MotifState         `json:"state"`
	Centroid         map[string]float64 `json:"centroid,omitempty"`
	Stability        float64            `json:"stability"`
	TriggeringWindow Window             `json:"triggering_window"`
}

// Tempo is the smoothed dominant period of the event stream.
type Tempo struct {
	Period     time.Duration `json:"period"`
	BPM        float64       `json:"bpm"`
	Confidence float64       `json:"confidence"`
	Transition bool          `json:"transition"`
}

// Known reports whether a period has been detected yet.
func (t Tempo) Known() bool {
	return t.Period > 0
}

// BPMFromPeriod converts a period into beats per minute.
func BPMFromPeriod(p time.Duration) float64 {
	if p <= 0 {
		return 0
	}
	return float64(time.Minute) / float64(p)
}

// PeriodFromBPM converts beats per minute into a period.
func PeriodFromBPM(bpm float64) time.Duration {
	if bpm <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / bpm)
}

// Frame is the immutable context handed to every component call in place of
// ambient global state: the current tempo, window adaptation and session.
// A new Frame is published on every change; holders never see it mutate.
type Frame struct {
	Tempo       Tempo   `json:"tempo"`
	WindowScale float64 `json:"window_scale"`
	Session     string  `json:"session"`
	Generation  uint64  `json:"generation"`
}
