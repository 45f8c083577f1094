package graph

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/eresion/internal/ir"
)

// PrunePolicy controls one pruning pass.
type PrunePolicy struct {
	// Floor removes session edges whose weight is below it.
	Floor float64

	// MaxOutDegree drops the weakest session edges of nodes above it.
	// Zero disables the bound.
	MaxOutDegree int

	// Ceiling is the live edge count above which compression and
	// eviction run. Zero disables both.
	Ceiling int

	// Target is the fraction of Ceiling eviction reduces the graph to.
	Target float64

	// Compress enables collapsing dense, low-variance session clusters
	// into supernodes when the graph is over Ceiling.
	Compress         bool
	CompressMinSize  int
	CompressDensity  float64
	CompressVariance float64
}

// Aggressive returns a stricter policy used while the engine is degraded.
func (p PrunePolicy) Aggressive() PrunePolicy {
	p.Floor = max(p.Floor*4, 0.05)
	if p.MaxOutDegree > 4 {
		p.MaxOutDegree = p.MaxOutDegree * 3 / 4
	}
	p.Target = min(p.Target, 0.7)
	return p
}

// PruneReport summarizes one pruning pass.
type PruneReport struct {
	EdgesBefore  int      `json:"edges_before"`
	EdgesAfter   int      `json:"edges_after"`
	BelowFloor   int      `json:"below_floor"`
	OverDegree   int      `json:"over_degree"`
	Compressed   int      `json:"compressed"`
	Evicted      int      `json:"evicted"`
	NodesRemoved int      `json:"nodes_removed"`
	Supernodes   []string `json:"supernodes,omitempty"`
}

// Removed returns the total number of edges removed.
func (r PruneReport) Removed() int {
	return r.EdgesBefore - r.EdgesAfter
}

// Prune removes weak session edges, enforces the out-degree bound, and when
// the graph is over its ceiling compresses dense clusters and evicts the
// weakest session edges until it is below the ceiling. Core-tier edges and
// nodes are never removed.
func (g *Graph) Prune(p PrunePolicy) PruneReport {
	r := PruneReport{EdgesBefore: g.liveEdges}

	for id := range g.edges {
		e := &g.edges[id]
		if e.live && e.Tier == ir.TierSession && e.Weight < p.Floor {
			g.removeEdge(EdgeID(id))
			r.BelowFloor++
		}
	}

	if p.MaxOutDegree > 0 {
		r.OverDegree = g.enforceOutDegree(p.MaxOutDegree)
	}

	if p.Ceiling > 0 && g.liveEdges > p.Ceiling {
		if p.Compress {
			removed, supers := g.compress(p)
			r.Compressed = removed
			r.Supernodes = supers
		}
		if g.liveEdges > p.Ceiling {
			r.Evicted = g.evict(evictTarget(p))
		}
	}

	r.NodesRemoved = g.sweepNodes(p.Floor)
	r.EdgesAfter = g.liveEdges
	return r
}

func evictTarget(p PrunePolicy) int {
	target := int(float64(p.Ceiling) * p.Target)
	if target >= p.Ceiling {
		target = p.Ceiling - 1
	}
	return max(target, 0)
}

// enforceOutDegree drops the weakest excess session edges per node.
// Co-occurrence edges count toward both endpoints.
func (g *Graph) enforceOutDegree(limit int) int {
	out := make(map[NodeID][]EdgeID)
	for id, e := range g.edges {
		if !e.live {
			continue
		}
		out[e.From] = append(out[e.From], EdgeID(id))
		if !e.Kind.Directed() && e.To != e.From {
			out[e.To] = append(out[e.To], EdgeID(id))
		}
	}
	nodes := make([]NodeID, 0, len(out))
	for n := range out {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)

	removed := 0
	for _, n := range nodes {
		ids := slices.DeleteFunc(out[n], func(id EdgeID) bool { return !g.edges[id].live })
		excess := len(ids) - limit
		if excess <= 0 {
			continue
		}
		g.sortWeakestFirst(ids)
		for _, id := range ids {
			if excess == 0 {
				break
			}
			if g.edges[id].Tier == ir.TierCore {
				continue
			}
			g.removeEdge(id)
			removed++
			excess--
		}
	}
	return removed
}

// evict removes the weakest session edges until at most target remain.
func (g *Graph) evict(target int) int {
	var ids []EdgeID
	for id, e := range g.edges {
		if e.live && e.Tier == ir.TierSession {
			ids = append(ids, EdgeID(id))
		}
	}
	g.sortWeakestFirst(ids)
	removed := 0
	for _, id := range ids {
		if g.liveEdges <= target {
			break
		}
		g.removeEdge(id)
		removed++
	}
	return removed
}

// sortWeakestFirst orders by weight, then oldest observation, then handle.
func (g *Graph) sortWeakestFirst(ids []EdgeID) {
	slices.SortFunc(ids, func(a, b EdgeID) int {
		ea, eb := &g.edges[a], &g.edges[b]
		if c := cmp.Compare(ea.Weight, eb.Weight); c != 0 {
			return c
		}
		if c := cmp.Compare(ea.LastSeen, eb.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}

// sweepNodes removes session nodes with no incident edges whose activation
// has decayed below the floor.
func (g *Graph) sweepNodes(floor float64) int {
	degree := make([]int, len(g.nodes))
	for _, e := range g.edges {
		if e.live {
			degree[e.From]++
			degree[e.To]++
		}
	}
	removed := 0
	for id := range g.nodes {
		n := &g.nodes[id]
		if !n.live || n.Tier == ir.TierCore || n.Alias != NoNode || len(n.Members) > 0 {
			continue
		}
		if degree[id] == 0 && n.Activation < floor {
			g.removeNode(NodeID(id))
			removed++
		}
	}
	return removed
}

// compress collapses dense, low-variance clusters of session nodes into
// supernodes. Internal edges disappear; external edges are re-pointed at
// the supernode, keeping the strongest weight when they merge.
func (g *Graph) compress(p PrunePolicy) (int, []string) {
	adj := make(map[NodeID]map[NodeID]float64)
	link := func(a, b NodeID, w float64) {
		if adj[a] == nil {
			adj[a] = make(map[NodeID]float64)
		}
		if w > adj[a][b] {
			adj[a][b] = w
		}
	}
	for _, e := range g.edges {
		if !e.live || e.Tier == ir.TierCore || e.From == e.To {
			continue
		}
		if !g.compressible(e.From) || !g.compressible(e.To) {
			continue
		}
		link(e.From, e.To, e.Weight)
		link(e.To, e.From, e.Weight)
	}

	seeds := make([]NodeID, 0, len(adj))
	for n := range adj {
		seeds = append(seeds, n)
	}
	slices.SortFunc(seeds, func(a, b NodeID) int {
		if c := cmp.Compare(len(adj[b]), len(adj[a])); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	minSize := max(p.CompressMinSize, 3)
	used := make(map[NodeID]bool)
	before := g.liveEdges
	var supers []string
	for _, seed := range seeds {
		if used[seed] {
			continue
		}
		cluster := []NodeID{seed}
		neighbors := make([]NodeID, 0, len(adj[seed]))
		for n := range adj[seed] {
			if !used[n] {
				neighbors = append(neighbors, n)
			}
		}
		slices.SortFunc(neighbors, func(a, b NodeID) int {
			if c := cmp.Compare(adj[seed][b], adj[seed][a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		if len(neighbors) > 7 {
			neighbors = neighbors[:7]
		}
		cluster = append(cluster, neighbors...)
		if len(cluster) < minSize {
			continue
		}
		density, variance := clusterShape(adj, cluster)
		if density < p.CompressDensity || variance > p.CompressVariance {
			continue
		}
		supers = append(supers, g.collapse(cluster))
		for _, m := range cluster {
			used[m] = true
		}
	}
	return before - g.liveEdges, supers
}

func (g *Graph) compressible(id NodeID) bool {
	n := g.nodes[id]
	return n.live && n.Tier == ir.TierSession && n.Alias == NoNode && len(n.Members) == 0
}

// clusterShape returns the fraction of connected member pairs and the
// variance of the connecting weights.
func clusterShape(adj map[NodeID]map[NodeID]float64, cluster []NodeID) (float64, float64) {
	var weights []float64
	for i := 0; i < len(cluster); i++ {
		for j := i + 1; j < len(cluster); j++ {
			if w, ok := adj[cluster[i]][cluster[j]]; ok {
				weights = append(weights, w)
			}
		}
	}
	pairs := len(cluster) * (len(cluster) - 1) / 2
	if pairs == 0 || len(weights) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, w := range weights {
		mean += w
	}
	mean /= float64(len(weights))
	variance := 0.0
	for _, w := range weights {
		variance += (w - mean) * (w - mean)
	}
	variance /= float64(len(weights))
	return float64(len(weights)) / float64(pairs), variance
}

func (g *Graph) collapse(cluster []NodeID) string {
	keys := make([]string, len(cluster))
	member := make(map[NodeID]bool, len(cluster))
	for i, id := range cluster {
		keys[i] = g.nodes[id].Key
		member[id] = true
	}
	slices.Sort(keys)
	superKey := "super:" + strings.Join(keys, "+")
	super := g.GetOrCreateNode(superKey)
	sn := &g.nodes[super]
	sn.Members = keys

	var touched []EdgeID
	for id, e := range g.edges {
		if e.live && (member[e.From] || member[e.To]) {
			touched = append(touched, EdgeID(id))
		}
	}

	for _, id := range touched {
		e := g.edges[id]
		g.removeEdge(id)
		if member[e.From] && member[e.To] {
			continue
		}
		from, to := e.From, e.To
		if member[from] {
			from = super
		}
		if member[to] {
			to = super
		}
		nid := g.ensureEdge(from, to, e.Kind)
		ne := &g.edges[nid]
		if ne.Count == 0 {
			k := orient(from, to, e.Kind)
			*ne = e
			ne.ID, ne.From, ne.To = nid, k.from, k.to
			ne.live = true
			if ne.Tier == ir.TierCore {
				g.coreEdges++
			}
			continue
		}
		ne.Weight = max(ne.Weight, e.Weight)
		for s := range ne.ScaleWeights {
			ne.ScaleWeights[s] = max(ne.ScaleWeights[s], e.ScaleWeights[s])
		}
		ne.Count += e.Count
		ne.LastSeen = max(ne.LastSeen, e.LastSeen)
	}

	for _, id := range cluster {
		m := &g.nodes[id]
		sn = &g.nodes[super]
		sn.Count += m.Count
		sn.IntensitySum += m.IntensitySum
		sn.LastSeen = max(sn.LastSeen, m.LastSeen)
		sn.Activation = max(sn.Activation, m.Activation)
		sn.Sessions = max(sn.Sessions, m.Sessions)
		m.Alias = super
		m.bestSucc = NoEdge
	}
	return superKey
}

func sortCoreNodes(nodes []CoreNode) {
	slices.SortFunc(nodes, func(a, b CoreNode) int { return strings.Compare(a.Key, b.Key) })
}

func sortCoreEdges(edges []CoreEdge) {
	slices.SortFunc(edges, func(a, b CoreEdge) int { return compareRefs(a.EdgeRef, b.EdgeRef) })
}

func compareRefs(a, b EdgeRef) int {
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := strings.Compare(a.To, b.To); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}
