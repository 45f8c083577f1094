package graph

import (
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// EdgeRef names an edge by its endpoint keys, independent of arena handles.
type EdgeRef struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Kind ir.RelationKind `json:"kind"`
}

// Ref returns the key-based reference for a live edge.
func (g *Graph) Ref(id EdgeID) EdgeRef {
	e := g.edges[id]
	return EdgeRef{From: g.nodes[e.From].Key, To: g.nodes[e.To].Key, Kind: e.Kind}
}

// Promote moves the referenced edges and their endpoint nodes from the
// session tier to the core tier. The edge is moved, never duplicated.
// Missing edges are skipped. Returns the number of edges moved.
func (g *Graph) Promote(refs []EdgeRef) int {
	moved := 0
	for _, ref := range refs {
		a, ok := g.Lookup(ref.From)
		if !ok {
			continue
		}
		b, ok := g.Lookup(ref.To)
		if !ok {
			continue
		}
		id, ok := g.index[orient(a, b, ref.Kind)]
		if !ok {
			continue
		}
		e := &g.edges[id]
		if e.Tier != ir.TierCore {
			e.Tier = ir.TierCore
			g.coreEdges++
			moved++
		}
		g.nodes[a].Tier = ir.TierCore
		g.nodes[b].Tier = ir.TierCore
	}
	if moved > 0 {
		g.generation++
	}
	return moved
}

// CoreNode is the persisted form of a core-tier node.
type CoreNode struct {
	Key          string        `json:"key"`
	Count        int64         `json:"count"`
	LastSeen     time.Duration `json:"last_seen"`
	IntensitySum float64       `json:"intensity_sum"`
	Sessions     int           `json:"sessions"`
}

// CoreEdge is the persisted form of a core-tier edge.
type CoreEdge struct {
	EdgeRef
	Weight       float64                      `json:"weight"`
	ScaleWeights [ir.NumSlidingScales]float64 `json:"scale_weights"`
	Phase        time.Duration                `json:"phase"`
	Alignment    float64                      `json:"alignment"`
	Count        int64                        `json:"count"`
	Gap          time.Duration                `json:"gap"`
	Interval     time.Duration                `json:"interval"`
	Volatility   float64                      `json:"volatility"`
}

// Core exports the core tier in deterministic order.
func (g *Graph) Core() ([]CoreNode, []CoreEdge) {
	var nodes []CoreNode
	for _, n := range g.nodes {
		if n.live && n.Tier == ir.TierCore {
			nodes = append(nodes, coreNode(n))
		}
	}
	var edges []CoreEdge
	for id, e := range g.edges {
		if e.live && e.Tier == ir.TierCore {
			edges = append(edges, coreEdge(g.Ref(EdgeID(id)), e))
		}
	}
	sortCoreNodes(nodes)
	sortCoreEdges(edges)
	return nodes, edges
}

// Core exports the core tier of the view, in the same order as Graph.Core.
// Snapshots are taken from views so persistence never reads the live graph.
func (v *View) Core() ([]CoreNode, []CoreEdge) {
	var nodes []CoreNode
	for _, n := range v.nodes {
		if n.Tier == ir.TierCore {
			nodes = append(nodes, coreNode(n))
		}
	}
	var edges []CoreEdge
	for _, e := range v.edges {
		if e.Tier == ir.TierCore {
			ref := EdgeRef{From: v.nodes[e.From].Key, To: v.nodes[e.To].Key, Kind: e.Kind}
			edges = append(edges, coreEdge(ref, e))
		}
	}
	sortCoreNodes(nodes)
	sortCoreEdges(edges)
	return nodes, edges
}

func coreNode(n Node) CoreNode {
	return CoreNode{
		Key:          n.Key,
		Count:        n.Count,
		LastSeen:     n.LastSeen,
		IntensitySum: n.IntensitySum,
		Sessions:     n.Sessions,
	}
}

func coreEdge(ref EdgeRef, e Edge) CoreEdge {
	return CoreEdge{
		EdgeRef:      ref,
		Weight:       e.Weight,
		ScaleWeights: e.ScaleWeights,
		Phase:        e.Phase,
		Alignment:    e.Alignment,
		Count:        e.Count,
		Gap:          e.Gap,
		Interval:     e.Interval,
		Volatility:   e.Volatility,
	}
}

// MergeCore loads persisted core entities into the graph at factor times
// their persisted weight, so cross-session identity survives without
// dominating new behavior. Existing edges keep the larger weight.
func (g *Graph) MergeCore(nodes []CoreNode, edges []CoreEdge, factor float64) {
	for _, cn := range nodes {
		id := g.GetOrCreateNode(cn.Key)
		n := &g.nodes[id]
		n.Tier = ir.TierCore
		n.Count += cn.Count
		n.IntensitySum += cn.IntensitySum
		n.Sessions += cn.Sessions
		if cn.LastSeen > n.LastSeen {
			n.LastSeen = cn.LastSeen
		}
	}
	for _, ce := range edges {
		a := g.GetOrCreateNode(ce.From)
		b := g.GetOrCreateNode(ce.To)
		g.nodes[a].Tier = ir.TierCore
		g.nodes[b].Tier = ir.TierCore
		id := g.ensureEdge(a, b, ce.Kind)
		e := &g.edges[id]
		if e.Tier != ir.TierCore {
			e.Tier = ir.TierCore
			g.coreEdges++
		}
		w := clamp01(ce.Weight * factor)
		if w > e.Weight {
			e.Weight = w
		}
		for s := range e.ScaleWeights {
			sw := clamp01(ce.ScaleWeights[s] * factor)
			if sw > e.ScaleWeights[s] {
				e.ScaleWeights[s] = sw
			}
		}
		e.Phase = ce.Phase
		e.Alignment = ce.Alignment
		e.Count += ce.Count
		e.Gap = ce.Gap
		e.Interval = ce.Interval
		e.Volatility = ce.Volatility
		if e.Kind == ir.Succession {
			g.trackSuccessor(e.From, id)
		}
	}
}
