package graph

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// Approximate in-memory footprint per entity, used by the degradation ladder.
const (
	nodeBytes = 160
	edgeBytes = 136
)

// View is an immutable deep copy of the live graph. It is published through
// an atomic pointer swap, so readers always see a consistent graph without
// locking the reactive path.
type View struct {
	At         time.Duration
	Generation uint64

	nodes        []Node
	edges        []Edge
	byKey        map[string]int
	observations int64
}

// View captures the current graph. Handles in the view are re-based to
// indexes into Nodes(); edges refer to those indexes.
func (g *Graph) View(at time.Duration) *View {
	v := &View{
		At:           at,
		Generation:   g.generation,
		byKey:        make(map[string]int, g.liveNodes),
		observations: g.observations,
	}
	remap := make([]NodeID, len(g.nodes))
	for id, n := range g.nodes {
		remap[id] = NoNode
		if !n.live || n.Alias != NoNode {
			continue
		}
		idx := len(v.nodes)
		remap[id] = NodeID(idx)
		n.ID = NodeID(idx)
		n.Members = slices.Clone(n.Members)
		v.nodes = append(v.nodes, n)
		v.byKey[n.Key] = idx
	}
	for _, e := range g.edges {
		if !e.live || remap[e.From] == NoNode || remap[e.To] == NoNode {
			continue
		}
		e.ID = EdgeID(len(v.edges))
		e.From, e.To = remap[e.From], remap[e.To]
		v.edges = append(v.edges, e)
	}
	return v
}

// Nodes returns the view's nodes. Callers must not modify the slice.
func (v *View) Nodes() []Node { return v.nodes }

// Edges returns the view's edges. Callers must not modify the slice.
func (v *View) Edges() []Edge { return v.edges }

// Key returns the event-type key of a node in the view.
func (v *View) Key(id NodeID) string { return v.nodes[id].Key }

// NodeByKey finds a node in the view.
func (v *View) NodeByKey(key string) (Node, bool) {
	idx, ok := v.byKey[key]
	if !ok {
		return Node{}, false
	}
	return v.nodes[idx], true
}

// EstimateBytes approximates memory held by each tier.
func (v *View) EstimateBytes() (session, core int64) {
	for _, n := range v.nodes {
		if n.Tier == ir.TierCore {
			core += nodeBytes + int64(len(n.Key))
		} else {
			session += nodeBytes + int64(len(n.Key))
		}
	}
	for _, e := range v.edges {
		if e.Tier == ir.TierCore {
			core += edgeBytes
		} else {
			session += edgeBytes
		}
	}
	return session, core
}

// Stats summarizes the graph.
type Stats struct {
	Nodes         int     `json:"nodes"`
	Edges         int     `json:"edges"`
	SessionEdges  int     `json:"session_edges"`
	CoreEdges     int     `json:"core_edges"`
	StrongEdges   int     `json:"strong_edges"`
	Supernodes    int     `json:"supernodes"`
	AverageWeight float64 `json:"average_edge_weight"`
	Observations  int64   `json:"observations"`
	SessionBytes  int64   `json:"session_bytes"`
	CoreBytes     int64   `json:"core_bytes"`
}

// Stats computes summary statistics for the view.
func (v *View) Stats() Stats {
	s := Stats{Nodes: len(v.nodes), Edges: len(v.edges), Observations: v.observations}
	total := 0.0
	for _, e := range v.edges {
		total += e.Weight
		if e.Tier == ir.TierCore {
			s.CoreEdges++
		} else {
			s.SessionEdges++
		}
		if e.Weight > 0.5 {
			s.StrongEdges++
		}
	}
	for _, n := range v.nodes {
		if len(n.Members) > 0 {
			s.Supernodes++
		}
	}
	if len(v.edges) > 0 {
		s.AverageWeight = total / float64(len(v.edges))
	}
	s.SessionBytes, s.CoreBytes = v.EstimateBytes()
	return s
}

// Pattern is one relation reported by TopEdges.
type Pattern struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      ir.RelationKind `json:"kind"`
	Weight    float64         `json:"weight"`
	Alignment float64         `json:"alignment"`
	PMI       float64         `json:"pmi"`
	Tier      ir.Tier         `json:"tier"`
}

// TopEdges returns the k strongest relations, strongest first.
func (v *View) TopEdges(k int) []Pattern {
	idx := make([]int, len(v.edges))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		ea, eb := v.edges[a], v.edges[b]
		if c := cmp.Compare(eb.Weight, ea.Weight); c != 0 {
			return c
		}
		return strings.Compare(v.nodes[ea.From].Key+v.nodes[ea.To].Key, v.nodes[eb.From].Key+v.nodes[eb.To].Key)
	})
	if k > 0 && len(idx) > k {
		idx = idx[:k]
	}
	out := make([]Pattern, 0, len(idx))
	for _, i := range idx {
		e := v.edges[i]
		from, to := v.nodes[e.From].Key, v.nodes[e.To].Key
		out = append(out, Pattern{
			From:      from,
			To:        to,
			Kind:      e.Kind,
			Weight:    e.Weight,
			Alignment: e.Alignment,
			PMI:       v.PMI(from, to),
			Tier:      e.Tier,
		})
	}
	return out
}

// jointCount sums succession and co-occurrence observations between a and b.
func (v *View) jointCount(a, b NodeID) int64 {
	var joint int64
	for _, e := range v.edges {
		if e.Kind != ir.Succession && e.Kind != ir.CoOccurrence {
			continue
		}
		if (e.From == a && e.To == b) || (e.From == b && e.To == a) {
			joint += e.Count
		}
	}
	return joint
}

func (v *View) totalCount() int64 {
	var total int64
	for _, n := range v.nodes {
		total += n.Count
	}
	return total
}

// PMI returns log2(P(a,b) / (P(a)P(b))) over observation counts, or 0 when
// either type is unknown or never related.
func (v *View) PMI(a, b string) float64 {
	na, ok := v.NodeByKey(a)
	if !ok {
		return 0
	}
	nb, ok := v.NodeByKey(b)
	if !ok {
		return 0
	}
	total := v.totalCount()
	joint := v.jointCount(na.ID, nb.ID)
	if total == 0 || na.Count == 0 || nb.Count == 0 || joint == 0 {
		return 0
	}
	pj := float64(joint) / float64(total)
	pa := float64(na.Count) / float64(total)
	pb := float64(nb.Count) / float64(total)
	return math.Log2(pj / (pa * pb))
}

// ChiSquared returns the one-cell chi-squared statistic of the joint count
// of a and b against its expectation under independence.
func (v *View) ChiSquared(a, b string) float64 {
	na, ok := v.NodeByKey(a)
	if !ok {
		return 0
	}
	nb, ok := v.NodeByKey(b)
	if !ok {
		return 0
	}
	total := v.totalCount()
	if total == 0 {
		return 0
	}
	expected := float64(na.Count) * float64(nb.Count) / float64(total)
	if expected == 0 {
		return 0
	}
	d := float64(v.jointCount(na.ID, nb.ID)) - expected
	return d * d / expected
}

// Prediction is one candidate next event type.
type Prediction struct {
	Key         string  `json:"key"`
	Probability float64 `json:"probability"`
}

// PredictNext ranks likely successors of key by normalized succession and
// causal weight. Inhibition edges subtract from a successor's score.
func (v *View) PredictNext(key string, k int) []Prediction {
	n, ok := v.NodeByKey(key)
	if !ok {
		return nil
	}
	score := make(map[NodeID]float64)
	for _, e := range v.edges {
		if e.From != n.ID {
			continue
		}
		switch e.Kind {
		case ir.Succession, ir.Causal:
			score[e.To] += e.Weight
		case ir.Inhibition:
			score[e.To] -= e.Weight
		}
	}
	total := 0.0
	out := make([]Prediction, 0, len(score))
	for id, s := range score {
		if s <= 0 {
			continue
		}
		total += s
		out = append(out, Prediction{Key: v.nodes[id].Key, Probability: s})
	}
	if total == 0 {
		return nil
	}
	for i := range out {
		out[i].Probability /= total
	}
	slices.SortFunc(out, func(a, b Prediction) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
