package graph

import (
	"math"
	"slices"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// UpdaterConfig tunes the reactive co-occurrence and succession updater.
type UpdaterConfig struct {
	// CoOccurrenceTolerance is the largest gap treated as simultaneous.
	CoOccurrenceTolerance time.Duration

	// SuccessionHorizon is the largest gap that still forms a relation.
	SuccessionHorizon time.Duration

	// Tau is the time constant of the gap penalty exp(-gap/tau).
	Tau time.Duration

	// CausalWeight and CausalVolatility gate derived causal edges: a
	// succession edge at least this strong and at most this volatile
	// also reinforces a causal edge.
	CausalWeight     float64
	CausalVolatility float64

	// ExpectWeight is the successor weight that creates an expectation;
	// an expectation that expires unmet reinforces an inhibition edge.
	ExpectWeight float64

	// MaxRecent bounds the number of event types tracked for pairing.
	MaxRecent int
}

// DefaultUpdaterConfig returns the default updater configuration.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		CoOccurrenceTolerance: 20 * time.Millisecond,
		SuccessionHorizon:     2 * time.Second,
		Tau:                   time.Second,
		CausalWeight:          0.6,
		CausalVolatility:      0.2,
		ExpectWeight:          0.5,
		MaxRecent:             64,
	}
}

// Touch records one edge reinforcement for the window manager.
type Touch struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Kind   ir.RelationKind `json:"kind"`
	Gap    time.Duration   `json:"gap"`
	Weight float64         `json:"weight"`
	At     time.Duration   `json:"at"`
}

type recent struct {
	key       string
	at        time.Duration
	intensity float64
}

type expectation struct {
	from, to string
	strength float64
	deadline time.Duration
}

// Updater performs the per-event graph mutation of the reactive path.
// It links each event to the most recent prior occurrence of every other
// event type inside the succession horizon.
//
// CRITICAL: not safe for concurrent use; owned by the reactive path.
type Updater struct {
	g   *Graph
	cfg UpdaterConfig

	// recents is ordered by last occurrence, oldest first.
	recents []recent
	// expects holds at most one pending expectation per predecessor key.
	expects []expectation
}

// NewUpdater creates an updater over g.
func NewUpdater(g *Graph, cfg UpdaterConfig) *Updater {
	return &Updater{g: g, cfg: cfg}
}

// Graph returns the graph the updater mutates.
func (u *Updater) Graph() *Graph {
	return u.g
}

// Apply mutates the graph for one accepted event and returns the edge
// touches it produced, in deterministic order.
func (u *Updater) Apply(ev ir.Event, frame ir.Frame) []Touch {
	t := ev.Timestamp
	key := ev.Type()
	id := u.g.GetOrCreateNode(key)
	u.g.Observe(id, t, ev.Intensity, frame.Session)

	touches := u.settleExpectations(key, t)

	keep := u.recents[:0]
	for _, r := range u.recents {
		gap := t - r.at
		if gap < 0 {
			gap = 0
		}
		if gap > u.cfg.SuccessionHorizon {
			continue
		}
		keep = append(keep, r)

		kind := ir.Succession
		if gap <= u.cfg.CoOccurrenceTolerance {
			if r.key == key {
				continue
			}
			kind = ir.CoOccurrence
		}
		obs := (r.intensity + ev.Intensity) / 2 * u.gapPenalty(gap)
		from := u.g.GetOrCreateNode(r.key)
		eid := u.g.Strengthen(from, id, kind, obs, gap, t)
		if eid == NoEdge {
			continue
		}
		u.g.TagPhase(eid, frame.Tempo.Period)
		touches = append(touches, u.touch(eid, gap, t))

		if kind != ir.Succession {
			continue
		}
		e := u.g.edges[eid]
		if e.Weight >= u.cfg.CausalWeight && e.Volatility <= u.cfg.CausalVolatility {
			cid := u.g.Strengthen(from, id, ir.Causal, obs, gap, t)
			if cid != NoEdge {
				touches = append(touches, u.touch(cid, gap, t))
			}
		}
	}
	u.recents = keep

	u.expect(key, id, t)
	u.remember(key, t, ev.Intensity)
	return touches
}

func (u *Updater) touch(id EdgeID, gap, at time.Duration) Touch {
	e := u.g.edges[id]
	ref := u.g.Ref(id)
	return Touch{From: ref.From, To: ref.To, Kind: ref.Kind, Gap: gap, Weight: e.Weight, At: at}
}

func (u *Updater) gapPenalty(gap time.Duration) float64 {
	if u.cfg.Tau <= 0 {
		return 1
	}
	return math.Exp(-float64(gap) / float64(u.cfg.Tau))
}

// settleExpectations resolves pending expectations at time t. A fulfilled
// expectation weakens the pair's inhibition edge; an expired one
// strengthens it.
func (u *Updater) settleExpectations(key string, t time.Duration) []Touch {
	var touches []Touch
	keep := u.expects[:0]
	for _, x := range u.expects {
		switch {
		case x.to == key && t <= x.deadline:
			from, ok1 := u.g.Lookup(x.from)
			to, ok2 := u.g.Lookup(x.to)
			if ok1 && ok2 {
				u.g.Weaken(from, to, ir.Inhibition)
			}
		case t > x.deadline:
			from := u.g.GetOrCreateNode(x.from)
			to := u.g.GetOrCreateNode(x.to)
			gap := t - x.deadline
			if eid := u.g.Strengthen(from, to, ir.Inhibition, x.strength, gap, t); eid != NoEdge {
				touches = append(touches, u.touch(eid, gap, t))
			}
		default:
			keep = append(keep, x)
		}
	}
	u.expects = keep
	return touches
}

// expect registers the strongest successor of key as an expectation.
func (u *Updater) expect(key string, id NodeID, t time.Duration) {
	best, ok := u.g.BestSuccessor(id)
	if !ok || best.Weight < u.cfg.ExpectWeight || best.To == best.From {
		return
	}
	window := 2 * best.Gap
	if window <= 0 || window > u.cfg.SuccessionHorizon {
		window = u.cfg.SuccessionHorizon
	}
	x := expectation{
		from:     key,
		to:       u.g.nodes[best.To].Key,
		strength: best.Weight,
		deadline: t + window,
	}
	for i := range u.expects {
		if u.expects[i].from == key {
			u.expects[i] = x
			return
		}
	}
	u.expects = append(u.expects, x)
}

// remember moves key to the most recent position.
func (u *Updater) remember(key string, t time.Duration, intensity float64) {
	u.recents = slices.DeleteFunc(u.recents, func(r recent) bool { return r.key == key })
	u.recents = append(u.recents, recent{key: key, at: t, intensity: intensity})
	if over := len(u.recents) - u.cfg.MaxRecent; u.cfg.MaxRecent > 0 && over > 0 {
		u.recents = slices.Delete(u.recents, 0, over)
	}
}

// Reset forgets pairing state, used at session boundaries so relations do
// not span sessions.
func (u *Updater) Reset() {
	u.recents = u.recents[:0]
	u.expects = u.expects[:0]
}
