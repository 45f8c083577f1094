package graph

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eresion/internal/ir"
)

func TestGetOrCreateNode_Lazy(t *testing.T) {
	g := New(DefaultConfig())

	a := g.GetOrCreateNode("combat/dodge")
	b := g.GetOrCreateNode("combat/attack")
	again := g.GetOrCreateNode("combat/dodge")

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, g.NodeCount())

	_, ok := g.Lookup("combat/block")
	assert.False(t, ok, "lookup must not create nodes")
}

func TestStrengthen_EMA(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")

	id := g.Strengthen(a, b, ir.Succession, 1.0, 100*time.Millisecond, time.Second)
	e, ok := g.Edge(id)
	require.True(t, ok)
	assert.InDelta(t, 0.1, e.Weight, 1e-12)

	g.Strengthen(a, b, ir.Succession, 1.0, 100*time.Millisecond, 2*time.Second)
	e, _ = g.Edge(id)
	assert.InDelta(t, 0.19, e.Weight, 1e-12)
	assert.Equal(t, int64(2), e.Count)
	assert.Equal(t, time.Second, e.Interval)
}

func TestStrengthen_CoOccurrenceUndirected(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")

	id1 := g.Strengthen(b, a, ir.CoOccurrence, 1, 0, 0)
	id2 := g.Strengthen(a, b, ir.CoOccurrence, 1, 0, time.Millisecond)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, g.EdgeCount())

	s1 := g.Strengthen(a, b, ir.Succession, 1, 0, 0)
	s2 := g.Strengthen(b, a, ir.Succession, 1, 0, 0)
	assert.NotEqual(t, s1, s2, "succession edges are directed")
}

func TestStrengthen_ScaleWeightsFollowGap(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")
	c := g.GetOrCreateNode("c")

	short := g.Strengthen(a, b, ir.Succession, 1, 40*time.Millisecond, 0)
	long := g.Strengthen(a, c, ir.Succession, 1, 4*time.Second, 0)

	es, _ := g.Edge(short)
	el, _ := g.Edge(long)
	assert.Greater(t, es.ScaleWeights[ir.ScaleMicro], es.ScaleWeights[ir.ScaleMacro])
	assert.Greater(t, el.ScaleWeights[ir.ScaleMacro], el.ScaleWeights[ir.ScaleMicro])
}

func TestWeightBound_Property(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	keys := []string{"a", "b", "c", "d"}

	for i := 0; i < 5000; i++ {
		a := g.GetOrCreateNode(keys[rng.Intn(len(keys))])
		b := g.GetOrCreateNode(keys[rng.Intn(len(keys))])
		kind := ir.AllRelationKinds[rng.Intn(ir.NumRelationKinds)]
		obs := rng.Float64()*4 - 1.5 // deliberately out of range
		switch rng.Intn(3) {
		case 0:
			g.DecayTick(time.Duration(rng.Intn(2000)) * time.Millisecond)
		default:
			g.Strengthen(a, b, kind, obs, time.Duration(rng.Intn(3000))*time.Millisecond, time.Duration(i)*time.Millisecond)
		}
		for _, e := range g.View(0).Edges() {
			require.GreaterOrEqual(t, e.Weight, 0.0)
			require.LessOrEqual(t, e.Weight, 1.0)
			for _, sw := range e.ScaleWeights {
				require.GreaterOrEqual(t, sw, 0.0)
				require.LessOrEqual(t, sw, 1.0)
			}
		}
	}
}

func TestDecayTick_Monotonic(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")
	id := g.Strengthen(a, b, ir.Succession, 1, 0, 0)

	prev, _ := g.Edge(id)
	for i := 0; i < 50; i++ {
		g.DecayTick(100 * time.Millisecond)
		cur, _ := g.Edge(id)
		assert.Less(t, cur.Weight, prev.Weight, "tick %d", i)
		prev = cur
	}
}

func TestDecayTick_TwoSpeed(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")
	c := g.GetOrCreateNode("c")
	session := g.Strengthen(a, b, ir.Succession, 1, 0, 0)
	core := g.Strengthen(a, c, ir.Succession, 1, 0, 0)
	require.Equal(t, 1, g.Promote([]EdgeRef{{From: "a", To: "c", Kind: ir.Succession}}))

	g.DecayTick(10 * time.Second)

	es, _ := g.Edge(session)
	ec, _ := g.Edge(core)
	assert.InDelta(t, 0.1*0.36787944, es.Weight, 1e-6, "exp(-0.1*10)")
	assert.Greater(t, ec.Weight, 0.0999)
	assert.Less(t, ec.Weight, 0.1)
}

func TestDecayTick_ZeroElapsedIsNoop(t *testing.T) {
	g := New(DefaultConfig())
	id := g.Strengthen(g.GetOrCreateNode("a"), g.GetOrCreateNode("b"), ir.Succession, 1, 0, 0)
	before, _ := g.Edge(id)
	g.DecayTick(0)
	after, _ := g.Edge(id)
	assert.Equal(t, before.Weight, after.Weight)
}

func TestPrune_Floor(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")
	c := g.GetOrCreateNode("c")
	g.Strengthen(a, b, ir.Succession, 0.05, 0, 0) // weight 0.005
	g.Strengthen(a, c, ir.Succession, 1, 0, 0)    // weight 0.1

	r := g.Prune(PrunePolicy{Floor: 0.01})
	assert.Equal(t, 1, r.BelowFloor)
	assert.Equal(t, 1, g.EdgeCount())
	_, ok := g.EdgeBetween(a, c, ir.Succession)
	assert.True(t, ok)
}

func TestPrune_MaxOutDegree(t *testing.T) {
	g := New(DefaultConfig())
	hub := g.GetOrCreateNode("hub")
	for i := 0; i < 6; i++ {
		n := g.GetOrCreateNode(fmt.Sprintf("n%d", i))
		g.Strengthen(hub, n, ir.Succession, float64(i+1)/6, 0, 0)
	}

	r := g.Prune(PrunePolicy{MaxOutDegree: 4})
	assert.Equal(t, 2, r.OverDegree)
	assert.Equal(t, 4, g.EdgeCount())

	weakest, _ := g.Lookup("n0")
	_, ok := g.EdgeBetween(hub, weakest, ir.Succession)
	assert.False(t, ok, "weakest edge dropped first")
}

func TestPrune_CeilingPreservesCore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EdgeCeiling = 40
	g := New(cfg)

	var core []EdgeRef
	for i := 0; i < 5; i++ {
		from, to := fmt.Sprintf("core%d", i), fmt.Sprintf("core%d", i+1)
		g.Strengthen(g.GetOrCreateNode(from), g.GetOrCreateNode(to), ir.Succession, 0.02, 0, 0)
		core = append(core, EdgeRef{From: from, To: to, Kind: ir.Succession})
	}
	require.Equal(t, 5, g.Promote(core))

	for i := 0; i < 20; i++ {
		for j := 0; j < 4; j++ {
			a := g.GetOrCreateNode(fmt.Sprintf("s%d", i))
			b := g.GetOrCreateNode(fmt.Sprintf("s%d", (i+j+1)%20))
			g.Strengthen(a, b, ir.Succession, 0.5+float64(j)/10, 0, time.Duration(i)*time.Millisecond)
		}
	}
	require.Greater(t, g.EdgeCount(), cfg.EdgeCeiling)

	r := g.Prune(cfg.PrunePolicy())
	assert.Less(t, g.EdgeCount(), cfg.EdgeCeiling)
	assert.Equal(t, g.EdgeCount(), r.EdgesAfter)
	assert.Equal(t, 5, g.CoreEdgeCount())

	nodes, edges := g.Core()
	assert.Len(t, nodes, 6)
	assert.Len(t, edges, 5)
}

func TestPrune_CompressesDenseCluster(t *testing.T) {
	g := New(DefaultConfig())
	members := []string{"m0", "m1", "m2", "m3"}
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			a := g.GetOrCreateNode(members[i])
			b := g.GetOrCreateNode(members[j])
			g.Strengthen(a, b, ir.CoOccurrence, 1, 0, 0)
		}
	}
	outside := g.GetOrCreateNode("x")
	g.Strengthen(g.GetOrCreateNode("m0"), outside, ir.Succession, 1, 0, 0)
	require.Equal(t, 7, g.EdgeCount())

	r := g.Prune(PrunePolicy{Ceiling: 5, Target: 0.9, Compress: true, CompressMinSize: 3, CompressDensity: 0.8, CompressVariance: 0.05})
	require.Len(t, r.Supernodes, 1)
	assert.Equal(t, "super:m0+m1+m2+m3", r.Supernodes[0])
	assert.Equal(t, 1, g.EdgeCount(), "only the re-pointed external edge remains")

	super, ok := g.Lookup("m2")
	require.True(t, ok)
	n, _ := g.Node(super)
	assert.Equal(t, members, n.Members)
	_, ok = g.EdgeBetween(super, outside, ir.Succession)
	assert.True(t, ok)
}

func TestPrune_SweepsIdleNodes(t *testing.T) {
	g := New(DefaultConfig())
	id := g.GetOrCreateNode("idle")
	g.Observe(id, 0, 0.001, "s1")
	r := g.Prune(PrunePolicy{Floor: 0.01})
	assert.Equal(t, 1, r.NodesRemoved)
	assert.Equal(t, 0, g.NodeCount())

	again := g.GetOrCreateNode("idle")
	assert.Equal(t, id, again, "freed handles are reused")
}

func TestPromote_MovesNotDuplicates(t *testing.T) {
	g := New(DefaultConfig())
	g.Strengthen(g.GetOrCreateNode("a"), g.GetOrCreateNode("b"), ir.Succession, 1, 0, 0)

	ref := EdgeRef{From: "a", To: "b", Kind: ir.Succession}
	assert.Equal(t, 1, g.Promote([]EdgeRef{ref}))
	assert.Equal(t, 0, g.Promote([]EdgeRef{ref}), "already core")
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, 1, g.CoreEdgeCount())
	assert.Equal(t, 0, g.Promote([]EdgeRef{{From: "a", To: "zz", Kind: ir.Succession}}))
}

func TestView_CoreMatchesGraph(t *testing.T) {
	g := New(DefaultConfig())
	a, b, c := g.GetOrCreateNode("a"), g.GetOrCreateNode("b"), g.GetOrCreateNode("c")
	g.Strengthen(a, b, ir.Succession, 1, 0, 0)
	g.Strengthen(b, c, ir.CoOccurrence, 0.5, 0, 0)
	g.Promote([]EdgeRef{{From: "a", To: "b", Kind: ir.Succession}})

	gn, ge := g.Core()
	vn, ve := g.View(0).Core()
	assert.Equal(t, gn, vn)
	assert.Equal(t, ge, ve)
	require.Len(t, ve, 1)
	assert.Equal(t, "a", ve[0].From)
}

func TestMergeCore_ReducedWeight(t *testing.T) {
	src := New(DefaultConfig())
	id := src.Strengthen(src.GetOrCreateNode("a"), src.GetOrCreateNode("b"), ir.Succession, 1, 0, 0)
	for i := 0; i < 20; i++ {
		src.Strengthen(src.GetOrCreateNode("a"), src.GetOrCreateNode("b"), ir.Succession, 1, 0, time.Duration(i)*time.Second)
	}
	src.Promote([]EdgeRef{src.Ref(id)})
	nodes, edges := src.Core()
	require.Len(t, edges, 1)

	dst := New(DefaultConfig())
	dst.MergeCore(nodes, edges, 0.5)

	a, _ := dst.Lookup("a")
	b, _ := dst.Lookup("b")
	eid, ok := dst.EdgeBetween(a, b, ir.Succession)
	require.True(t, ok)
	e, _ := dst.Edge(eid)
	assert.InDelta(t, edges[0].Weight*0.5, e.Weight, 1e-12)
	assert.Equal(t, ir.TierCore, e.Tier)
	assert.Equal(t, 1, dst.CoreEdgeCount())
}

func TestTagPhase_Alignment(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")

	id := g.Strengthen(a, b, ir.Succession, 1, 50*time.Millisecond, 50*time.Millisecond)
	g.TagPhase(id, 480*time.Millisecond)
	e, _ := g.Edge(id)
	assert.Equal(t, 50*time.Millisecond, e.Phase, "single observation uses the pair gap")

	g.Strengthen(a, b, ir.Succession, 1, 50*time.Millisecond, 530*time.Millisecond)
	g.TagPhase(id, 480*time.Millisecond)
	e, _ = g.Edge(id)
	assert.Equal(t, time.Duration(0), e.Phase, "recurrence interval equals the period")
}

func TestView_IsImmutableCopy(t *testing.T) {
	g := New(DefaultConfig())
	id := g.Strengthen(g.GetOrCreateNode("a"), g.GetOrCreateNode("b"), ir.Succession, 1, 0, 0)
	v := g.View(time.Second)

	g.Strengthen(g.GetOrCreateNode("a"), g.GetOrCreateNode("b"), ir.Succession, 1, 0, time.Second)
	g.Strengthen(g.GetOrCreateNode("c"), g.GetOrCreateNode("d"), ir.Succession, 1, 0, time.Second)

	require.Len(t, v.Edges(), 1)
	live, _ := g.Edge(id)
	assert.NotEqual(t, live.Weight, v.Edges()[0].Weight)
	assert.Equal(t, 2, len(v.Nodes()))
}

func TestView_Statistics(t *testing.T) {
	g := New(DefaultConfig())
	a := g.GetOrCreateNode("a")
	b := g.GetOrCreateNode("b")
	c := g.GetOrCreateNode("c")
	for i := 0; i < 10; i++ {
		g.Observe(a, 0, 1, "s")
		g.Observe(b, 0, 1, "s")
		g.Strengthen(a, b, ir.Succession, 1, 0, time.Duration(i)*time.Second)
	}
	g.Observe(c, 0, 1, "s")
	g.Strengthen(a, c, ir.Succession, 0.2, 0, 0)

	v := g.View(0)
	assert.Greater(t, v.PMI("a", "b"), 0.0)
	assert.Greater(t, v.ChiSquared("a", "b"), 0.0)
	assert.Zero(t, v.PMI("a", "missing"))

	preds := v.PredictNext("a", 2)
	require.Len(t, preds, 2)
	assert.Equal(t, "b", preds[0].Key)
	assert.InDelta(t, 1.0, preds[0].Probability+preds[1].Probability, 1e-9)

	top := v.TopEdges(1)
	require.Len(t, top, 1)
	assert.Equal(t, "a", top[0].From)
	assert.Equal(t, "b", top[0].To)

	stats := v.Stats()
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, 2, stats.SessionEdges)
	assert.Greater(t, stats.SessionBytes, int64(0))
}
