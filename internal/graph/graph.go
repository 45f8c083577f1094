package graph

import (
	"math"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// NodeID is a stable handle into the node arena.
type NodeID int32

// EdgeID is a stable handle into the edge arena.
type EdgeID int32

// Sentinel handles.
const (
	NoNode NodeID = -1
	NoEdge EdgeID = -1
)

// Node represents one event-type identity.
type Node struct {
	ID           NodeID        `json:"id"`
	Key          string        `json:"key"`
	Count        int64         `json:"count"`
	LastSeen     time.Duration `json:"last_seen"`
	Activation   float64       `json:"activation"`
	IntensitySum float64       `json:"intensity_sum"`
	Sessions     int           `json:"sessions"`
	Tier         ir.Tier       `json:"tier"`

	// Alias is the supernode this key was compressed into, or NoNode.
	Alias NodeID `json:"alias"`

	// Members lists the compressed keys of a supernode.
	Members []string `json:"members,omitempty"`

	lastSession string
	bestSucc    EdgeID
	live        bool
}

// AvgIntensity returns the mean intensity of observations of this node.
func (n Node) AvgIntensity() float64 {
	if n.Count == 0 {
		return 0
	}
	return n.IntensitySum / float64(n.Count)
}

// Edge is a relation between two nodes.
type Edge struct {
	ID           EdgeID                       `json:"id"`
	From         NodeID                       `json:"from"`
	To           NodeID                       `json:"to"`
	Kind         ir.RelationKind              `json:"kind"`
	Weight       float64                      `json:"weight"`
	ScaleWeights [ir.NumSlidingScales]float64 `json:"scale_weights"`
	Phase        time.Duration                `json:"phase"`
	Alignment    float64                      `json:"alignment"`
	Count        int64                        `json:"count"`
	LastSeen     time.Duration                `json:"last_seen"`
	Gap          time.Duration                `json:"gap"`
	Interval     time.Duration                `json:"interval"`
	Volatility   float64                      `json:"volatility"`
	Tier         ir.Tier                      `json:"tier"`

	live bool
}

type edgeKey struct {
	from, to NodeID
	kind     ir.RelationKind
}

// Graph is the live session + core graph.
// CRITICAL: not safe for concurrent use; only the reactive path mutates it.
type Graph struct {
	cfg Config

	nodes     []Node
	freeNodes []NodeID
	byKey     map[string]NodeID

	edges     []Edge
	freeEdges []EdgeID
	index     map[edgeKey]EdgeID

	liveNodes    int
	liveEdges    int
	coreEdges    int
	observations int64
	generation   uint64
}

// New creates an empty graph.
func New(cfg Config) *Graph {
	return &Graph{
		cfg:   cfg,
		byKey: make(map[string]NodeID),
		index: make(map[edgeKey]EdgeID),
	}
}

// Config returns the graph configuration.
func (g *Graph) Config() Config {
	return g.cfg
}

// GetOrCreateNode returns the node for an event type, creating it lazily.
// Keys compressed into a supernode resolve to the supernode.
func (g *Graph) GetOrCreateNode(key string) NodeID {
	if id, ok := g.byKey[key]; ok {
		return g.resolve(id)
	}
	var id NodeID
	if n := len(g.freeNodes); n > 0 {
		id = g.freeNodes[n-1]
		g.freeNodes = g.freeNodes[:n-1]
	} else {
		id = NodeID(len(g.nodes))
		g.nodes = append(g.nodes, Node{})
	}
	g.nodes[id] = Node{ID: id, Key: key, Alias: NoNode, bestSucc: NoEdge, live: true}
	g.byKey[key] = id
	g.liveNodes++
	g.generation++
	return id
}

// Lookup returns the resolved node for a key without creating it.
func (g *Graph) Lookup(key string) (NodeID, bool) {
	id, ok := g.byKey[key]
	if !ok {
		return NoNode, false
	}
	return g.resolve(id), true
}

func (g *Graph) resolve(id NodeID) NodeID {
	for g.nodes[id].Alias != NoNode {
		id = g.nodes[id].Alias
	}
	return id
}

// Node returns a copy of the node with the given handle.
func (g *Graph) Node(id NodeID) (Node, bool) {
	if id < 0 || int(id) >= len(g.nodes) || !g.nodes[id].live {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Edge returns a copy of the edge with the given handle.
func (g *Graph) Edge(id EdgeID) (Edge, bool) {
	if id < 0 || int(id) >= len(g.edges) || !g.edges[id].live {
		return Edge{}, false
	}
	return g.edges[id], true
}

// EdgeBetween returns the edge of the given kind between two nodes.
func (g *Graph) EdgeBetween(a, b NodeID, kind ir.RelationKind) (EdgeID, bool) {
	id, ok := g.index[orient(a, b, kind)]
	return id, ok
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return g.liveNodes }

// EdgeCount returns the number of live edges across both tiers.
func (g *Graph) EdgeCount() int { return g.liveEdges }

// CoreEdgeCount returns the number of live core-tier edges.
func (g *Graph) CoreEdgeCount() int { return g.coreEdges }

// Generation increases on every structural change.
func (g *Graph) Generation() uint64 { return g.generation }

// Observe records one occurrence of a node's event type.
func (g *Graph) Observe(id NodeID, at time.Duration, intensity float64, session string) {
	n := &g.nodes[id]
	n.Count++
	n.LastSeen = at
	n.IntensitySum += intensity
	n.Activation = clamp01(n.Activation + intensity*(1-n.Activation))
	if session != "" && session != n.lastSession {
		n.lastSession = session
		n.Sessions++
	}
	g.observations++
}

// Strengthen applies one observation to the edge of the given kind between
// a and b, creating it on first observation. The weight moves toward obs by
// the kind's EMA rate and always stays within [0,1]. Each scale weight moves
// toward obs scaled by that scale's relevance for the gap.
//
// Returns NoEdge when both handles resolve to the same supernode.
func (g *Graph) Strengthen(a, b NodeID, kind ir.RelationKind, obs float64, gap, at time.Duration) EdgeID {
	a, b = g.resolve(a), g.resolve(b)
	if a == b && len(g.nodes[a].Members) > 0 {
		return NoEdge
	}
	obs = clamp01(obs)

	id := g.ensureEdge(a, b, kind)
	e := &g.edges[id]
	alpha := g.cfg.Alpha[kind]

	e.Volatility = (1-alpha)*e.Volatility + alpha*math.Abs(obs-e.Weight)
	e.Weight = clamp01((1-alpha)*e.Weight + alpha*obs)
	for s := range e.ScaleWeights {
		rel := g.relevance(ir.Scale(s), gap)
		e.ScaleWeights[s] = clamp01((1-alpha)*e.ScaleWeights[s] + alpha*obs*rel)
	}

	if e.Count > 0 && at > e.LastSeen {
		e.Interval = emaDuration(e.Interval, at-e.LastSeen, alpha)
	}
	e.Gap = emaDuration(e.Gap, gap, alpha)
	e.Count++
	e.LastSeen = at

	if kind == ir.Succession {
		g.trackSuccessor(e.From, id)
	}
	return id
}

// Weaken moves an existing edge toward zero by one EMA step.
// It never creates an edge.
func (g *Graph) Weaken(a, b NodeID, kind ir.RelationKind) {
	id, ok := g.index[orient(g.resolve(a), g.resolve(b), kind)]
	if !ok {
		return
	}
	e := &g.edges[id]
	alpha := g.cfg.Alpha[kind]
	e.Volatility = (1-alpha)*e.Volatility + alpha*e.Weight
	e.Weight = clamp01((1 - alpha) * e.Weight)
}

// TagPhase stores the edge's phase offset relative to period and folds
// cos(2*pi*phase/period) into its running alignment score.
func (g *Graph) TagPhase(id EdgeID, period time.Duration) {
	if period <= 0 || id == NoEdge {
		return
	}
	e := &g.edges[id]
	interval := e.Interval
	if interval <= 0 {
		interval = e.Gap
	}
	e.Phase = interval % period
	score := math.Cos(2 * math.Pi * float64(e.Phase) / float64(period))
	if e.Count <= 1 {
		e.Alignment = score
		return
	}
	alpha := g.cfg.Alpha[e.Kind]
	e.Alignment = (1-alpha)*e.Alignment + alpha*score
}

// SetAlignment overwrites an edge's alignment with an analyzer's estimate.
func (g *Graph) SetAlignment(from, to string, kind ir.RelationKind, alignment float64) bool {
	a, ok := g.Lookup(from)
	if !ok {
		return false
	}
	b, ok := g.Lookup(to)
	if !ok {
		return false
	}
	id, ok := g.index[orient(a, b, kind)]
	if !ok {
		return false
	}
	g.edges[id].Alignment = math.Max(-1, math.Min(1, alignment))
	return true
}

// BestSuccessor returns the strongest succession edge leaving a node.
func (g *Graph) BestSuccessor(id NodeID) (Edge, bool) {
	eid := g.nodes[g.resolve(id)].bestSucc
	if eid == NoEdge || !g.edges[eid].live {
		return Edge{}, false
	}
	return g.edges[eid], true
}

func (g *Graph) trackSuccessor(from NodeID, id EdgeID) {
	n := &g.nodes[from]
	cur := n.bestSucc
	if cur == NoEdge || !g.edges[cur].live || cur == id || g.edges[id].Weight > g.edges[cur].Weight {
		n.bestSucc = id
	}
}

func (g *Graph) ensureEdge(a, b NodeID, kind ir.RelationKind) EdgeID {
	key := orient(a, b, kind)
	if id, ok := g.index[key]; ok {
		return id
	}
	var id EdgeID
	if n := len(g.freeEdges); n > 0 {
		id = g.freeEdges[n-1]
		g.freeEdges = g.freeEdges[:n-1]
	} else {
		id = EdgeID(len(g.edges))
		g.edges = append(g.edges, Edge{})
	}
	g.edges[id] = Edge{ID: id, From: key.from, To: key.to, Kind: kind, live: true}
	g.index[key] = id
	g.liveEdges++
	g.generation++
	return id
}

func (g *Graph) removeEdge(id EdgeID) {
	e := &g.edges[id]
	if !e.live {
		return
	}
	delete(g.index, edgeKey{e.From, e.To, e.Kind})
	if e.Tier == ir.TierCore {
		g.coreEdges--
	}
	if g.nodes[e.From].bestSucc == id {
		g.nodes[e.From].bestSucc = NoEdge
	}
	*e = Edge{ID: id}
	g.freeEdges = append(g.freeEdges, id)
	g.liveEdges--
	g.generation++
}

func (g *Graph) removeNode(id NodeID) {
	n := &g.nodes[id]
	if !n.live {
		return
	}
	delete(g.byKey, n.Key)
	*n = Node{ID: id, Alias: NoNode, bestSucc: NoEdge}
	g.freeNodes = append(g.freeNodes, id)
	g.liveNodes--
	g.generation++
}

// relevance is a log-gaussian bump around the scale's center gap, so short
// gaps weight micro most and long gaps weight macro most.
func (g *Graph) relevance(s ir.Scale, gap time.Duration) float64 {
	if gap < time.Millisecond {
		gap = time.Millisecond
	}
	center := g.cfg.ScaleCenters[s]
	if center <= 0 {
		return 0
	}
	d := math.Log(float64(gap) / float64(center))
	spread := g.cfg.ScaleSpread
	if spread <= 0 {
		spread = 1
	}
	return math.Exp(-(d * d) / (2 * spread * spread))
}

// orient normalizes undirected co-occurrence edges so the lower handle is first.
func orient(a, b NodeID, kind ir.RelationKind) edgeKey {
	if !kind.Directed() && b < a {
		a, b = b, a
	}
	return edgeKey{from: a, to: b, kind: kind}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func emaDuration(old, obs time.Duration, alpha float64) time.Duration {
	if old <= 0 {
		return obs
	}
	return time.Duration((1-alpha)*float64(old) + alpha*float64(obs))
}
