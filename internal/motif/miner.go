package motif

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/window"
)

// ErrUnsupportedScale is returned when mining a scale other than meso or macro.
var ErrUnsupportedScale = errors.New("motif: scale is not mined")

// Occurrence is one anchored subgraph found in a window.
type Occurrence struct {
	Signature string             `json:"signature"`
	Shape     Shape              `json:"shape"`
	Start     time.Duration      `json:"start"`
	End       time.Duration      `json:"end"`
	Strength  float64            `json:"strength"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// Result is the isolated output of mining one snapshot. Nothing is shared
// with the registry until the dispatcher applies it.
type Result struct {
	Scale       ir.Scale       `json:"scale"`
	Window      ir.Window      `json:"window"`
	Session     string         `json:"session"`
	SnapshotID  uint64         `json:"snapshot_id"`
	Occurrences []Occurrence   `json:"occurrences"`
	LabelCounts map[string]int `json:"label_counts"`
	// AnchorLabels are the labels present in the window's final hop.
	AnchorLabels []string `json:"anchor_labels"`
	// Truncated counts anchors whose enumeration hit MaxPerAnchor.
	Truncated int `json:"truncated,omitempty"`
}

// Miner enumerates motifs in closed windows. It holds no mutable state and
// is safe for concurrent use.
type Miner struct {
	cfg Config
}

// NewMiner creates a miner.
func NewMiner(cfg Config) *Miner {
	return &Miner{cfg: cfg}
}

// Config returns the miner configuration.
func (m *Miner) Config() Config {
	return m.cfg
}

// Mine enumerates the subgraphs anchored in the snapshot's final hop.
// It stops early when ctx is cancelled.
func (m *Miner) Mine(ctx context.Context, snap *window.Snapshot) (*Result, error) {
	scale := snap.Scale()
	lower, upper, ok := m.cfg.spanLimits(scale)
	if !ok {
		return nil, fmt.Errorf("mine %s window: %w", scale, ErrUnsupportedScale)
	}

	labels, ts := Labels(snap.Events)
	res := &Result{
		Scale:       scale,
		Window:      snap.Window,
		Session:     snap.Session,
		SnapshotID:  snap.ID,
		LabelCounts: make(map[string]int),
	}
	for i, l := range labels {
		res.LabelCounts[l]++
		if snap.InAnchor(ts[i]) && !slices.Contains(res.AnchorLabels, l) {
			res.AnchorLabels = append(res.AnchorLabels, l)
		}
	}
	slices.Sort(res.AnchorLabels)

	g := buildInstances(labels, ts, upper, m.cfg.CoOccurrenceTolerance)
	opts := enumOpts{
		minSize: m.cfg.MinSize,
		maxSize: m.cfg.MaxSize,
		span:    upper,
		limit:   m.cfg.MaxPerAnchor,
	}
	var emitErr error
	for a := range labels {
		if !snap.InAnchor(ts[a]) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		truncated := g.enumerate(a, opts, func(sub []int) {
			if emitErr != nil {
				return
			}
			shape, span := g.shape(sub)
			if span <= lower {
				return
			}
			sig, err := shape.Signature(scale)
			if err != nil {
				emitErr = err
				return
			}
			res.Occurrences = append(res.Occurrences, occurrence(snap.Events, sub, sig, shape))
		})
		if emitErr != nil {
			return nil, fmt.Errorf("mine %s window %d: %w", scale, snap.ID, emitErr)
		}
		if truncated {
			res.Truncated++
		}
	}
	return res, nil
}

func occurrence(events []ir.Event, sub []int, sig string, shape Shape) Occurrence {
	o := Occurrence{
		Signature: sig,
		Shape:     shape,
		Start:     events[slices.Min(sub)].Timestamp,
		End:       events[slices.Max(sub)].Timestamp,
		Features:  make(map[string]float64),
	}
	for _, i := range sub {
		ev := events[i]
		o.Strength += ev.Intensity
		for k, v := range ev.Features {
			o.Features[k] += v
		}
	}
	n := float64(len(sub))
	o.Strength /= n
	for k := range o.Features {
		o.Features[k] /= n
	}
	o.Features["intensity"] = o.Strength
	o.Features["span"] = (o.End - o.Start).Seconds()
	return o
}

// Labels splits events into their event-type labels and timestamps.
func Labels(events []ir.Event) ([]string, []time.Duration) {
	labels := make([]string, len(events))
	ts := make([]time.Duration, len(events))
	for i, ev := range events {
		labels[i] = ev.Type()
		ts[i] = ev.Timestamp
	}
	return labels, ts
}

// CountOccurrences counts the instances of shape at scale in a labeled
// event sequence, anchoring on every instance. The permutation test calls
// it on shuffled labels, so it only explores label-compatible subgraphs.
func CountOccurrences(labels []string, ts []time.Duration, shape Shape, scale ir.Scale, cfg Config) int {
	lower, upper, ok := cfg.spanLimits(scale)
	k := len(shape.Labels)
	if !ok || k == 0 {
		return 0
	}
	need := make(map[string]int, k)
	for _, l := range shape.Labels {
		need[l]++
	}

	g := buildInstances(labels, ts, upper, cfg.CoOccurrenceTolerance)
	have := make(map[string]int, k)
	fits := func(sub []int, w int) bool {
		clear(have)
		have[labels[w]]++
		for _, v := range sub {
			have[labels[v]]++
		}
		for l, n := range have {
			if n > need[l] {
				return false
			}
		}
		return true
	}
	opts := enumOpts{minSize: k, maxSize: k, span: upper, fits: fits}

	count := 0
	for a, l := range labels {
		if need[l] == 0 {
			continue
		}
		g.enumerate(a, opts, func(sub []int) {
			if len(sub) != k {
				return
			}
			s, span := g.shape(sub)
			if span > lower && s.Equal(shape) {
				count++
			}
		})
	}
	return count
}
