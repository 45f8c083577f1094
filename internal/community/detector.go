package community

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
)

// Result is the outcome of one detection run.
type Result struct {
	Run         int            `json:"run"`
	Communities []ir.Community `json:"communities"`
	Modularity  float64        `json:"modularity"`
	Moves       int            `json:"moves"`
	Splits      int            `json:"splits"`
	Merges      int            `json:"merges"`
}

// Archetypes returns the communities reported as behavioral archetypes.
func (r *Result) Archetypes() []ir.Community {
	var out []ir.Community
	for _, c := range r.Communities {
		if c.Archetype {
			out = append(out, c)
		}
	}
	return out
}

type track struct {
	members   []string
	stability float64
	streak    int
}

// Detector keeps community membership across runs.
// CRITICAL: not safe for concurrent use; runs are serialized by the
// analytical dispatcher.
type Detector struct {
	cfg    Config
	labels map[string]int
	tracks map[int]*track
	nextID int
	runs   int
}

// NewDetector creates a detector with no prior membership.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:    cfg,
		labels: make(map[string]int),
		tracks: make(map[int]*track),
	}
}

// Runs returns the number of completed runs.
func (d *Detector) Runs() int { return d.runs }

// snapshot is the undirected decayed graph of one run.
type snapshot struct {
	keys  []string
	adj   []map[int]float64
	k     []float64
	total float64 // twice the summed edge weight
	label []int
}

func (d *Detector) build(v *graph.View) *snapshot {
	nodes := v.Nodes()
	s := &snapshot{}
	index := make(map[graph.NodeID]int)
	weights := make(map[[2]int]float64)
	for _, e := range v.Edges() {
		if e.Kind == ir.Inhibition || e.From == e.To {
			continue
		}
		age := max((v.At - e.LastSeen).Seconds(), 0)
		w := e.Weight * math.Exp(-d.cfg.Lambda*age)
		if w < d.cfg.MinWeight {
			continue
		}
		a, b := nodeIndex(s, index, nodes, e.From), nodeIndex(s, index, nodes, e.To)
		if a > b {
			a, b = b, a
		}
		weights[[2]int{a, b}] += w
	}
	s.adj = make([]map[int]float64, len(s.keys))
	s.k = make([]float64, len(s.keys))
	for i := range s.adj {
		s.adj[i] = make(map[int]float64)
	}
	for p, w := range weights {
		s.adj[p[0]][p[1]] = w
		s.adj[p[1]][p[0]] = w
		s.k[p[0]] += w
		s.k[p[1]] += w
		s.total += 2 * w
	}
	return s
}

func nodeIndex(s *snapshot, index map[graph.NodeID]int, nodes []graph.Node, id graph.NodeID) int {
	if i, ok := index[id]; ok {
		return i
	}
	i := len(s.keys)
	index[id] = i
	s.keys = append(s.keys, nodes[id].Key)
	return i
}

// Run re-evaluates communities over v.
func (d *Detector) Run(ctx context.Context, v *graph.View) (*Result, error) {
	s := d.build(v)
	d.runs++
	res := &Result{Run: d.runs}

	order := make([]int, len(s.keys))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return cmp.Compare(s.keys[a], s.keys[b]) })

	s.label = make([]int, len(s.keys))
	active := make([]bool, len(s.keys))
	for _, i := range order {
		key := s.keys[i]
		l, ok := d.labels[key]
		if !ok {
			l = d.nextID
			d.nextID++
			active[i] = true
		}
		s.label[i] = l
		if n, ok := v.NodeByKey(key); ok && (d.cfg.ActiveWindow <= 0 || v.At-n.LastSeen <= d.cfg.ActiveWindow) {
			active[i] = true
		}
	}

	tot := make(map[int]float64)
	for i, l := range s.label {
		tot[l] += s.k[i]
	}
	for pass := 0; pass < max(d.cfg.MaxPasses, 1); pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		moved := 0
		for _, i := range order {
			if active[i] && d.move(s, tot, i) {
				moved++
			}
		}
		res.Moves += moved
		if moved == 0 {
			break
		}
	}

	if d.cfg.RefineEvery > 0 && d.runs%d.cfg.RefineEvery == 0 {
		res.Splits = d.split(s)
		res.Merges = d.merge(s)
	}

	present := make(map[string]bool, len(s.keys))
	for i, key := range s.keys {
		d.labels[key] = s.label[i]
		present[key] = true
	}
	for key := range d.labels {
		if !present[key] {
			delete(d.labels, key)
		}
	}
	res.Communities = d.report(s)
	res.Modularity = modularity(s)
	slog.Debug("communities updated",
		"run", res.Run,
		"communities", len(res.Communities),
		"moves", res.Moves,
		"splits", res.Splits,
		"merges", res.Merges,
		"modularity", res.Modularity)
	return res, nil
}

// move places node i in the neighboring community with the best modularity
// gain, staying put unless another is strictly better.
func (d *Detector) move(s *snapshot, tot map[int]float64, i int) bool {
	if s.k[i] == 0 || s.total == 0 {
		return false
	}
	cur := s.label[i]
	tot[cur] -= s.k[i]

	in := make(map[int]float64)
	for j, w := range s.adj[i] {
		in[s.label[j]] += w
	}
	gain := func(l int) float64 { return in[l] - s.k[i]*tot[l]/s.total }

	best, bestGain := cur, gain(cur)
	candidates := make([]int, 0, len(in))
	for l := range in {
		candidates = append(candidates, l)
	}
	slices.Sort(candidates)
	for _, l := range candidates {
		if g := gain(l); g > bestGain+1e-12 {
			best, bestGain = l, g
		}
	}
	tot[best] += s.k[i]
	s.label[i] = best
	return best != cur
}

func groups(s *snapshot) (map[int][]int, []int) {
	g := make(map[int][]int)
	for i, l := range s.label {
		g[l] = append(g[l], i)
	}
	ids := make([]int, 0, len(g))
	for l := range g {
		ids = append(ids, l)
	}
	slices.Sort(ids)
	return g, ids
}

// split cuts sparse communities along their minimum cut. The larger side
// keeps the community.
func (d *Detector) split(s *snapshot) int {
	g, ids := groups(s)
	splits := 0
	for _, l := range ids {
		members := g[l]
		if len(members) < d.cfg.SplitMinSize || connectedDensity(s, members) >= d.cfg.SplitDensity {
			continue
		}
		w := make([][]float64, len(members))
		for a := range members {
			w[a] = make([]float64, len(members))
			for b := range members {
				w[a][b] = s.adj[members[a]][members[b]]
			}
		}
		_, side := minCut(w)
		n := 0
		for _, in := range side {
			if in {
				n++
			}
		}
		if n == 0 || n == len(members) {
			continue
		}
		moveSide := n <= len(members)-n
		id := d.nextID
		d.nextID++
		for a, m := range members {
			if side[a] == moveSide {
				s.label[m] = id
			}
		}
		splits++
	}
	return splits
}

// merge folds undersized communities into the neighbor they share the most
// weight with. Isolated undersized communities are left alone.
func (d *Detector) merge(s *snapshot) int {
	merges := 0
	g, ids := groups(s)
	for _, l := range ids {
		members := g[l]
		if len(members) == 0 || len(members) >= d.cfg.MinSize {
			continue
		}
		link := make(map[int]float64)
		for _, m := range members {
			for j, w := range s.adj[m] {
				if s.label[j] != l {
					link[s.label[j]] += w
				}
			}
		}
		target, best := -1, 0.0
		for other, w := range link {
			if w > best || (w == best && target >= 0 && other < target) {
				target, best = other, w
			}
		}
		if target < 0 {
			continue
		}
		for _, m := range members {
			s.label[m] = target
		}
		g[target] = append(g[target], members...)
		g[l] = nil
		merges++
	}
	return merges
}

func (d *Detector) report(s *snapshot) []ir.Community {
	g, ids := groups(s)
	seen := make(map[int]bool, len(ids))
	out := make([]ir.Community, 0, len(ids))
	for _, l := range ids {
		members := g[l]
		if len(members) == 1 && s.k[members[0]] == 0 {
			continue
		}
		keys := make([]string, len(members))
		for i, m := range members {
			keys[i] = s.keys[m]
		}
		slices.Sort(keys)

		t, ok := d.tracks[l]
		if !ok {
			t = &track{}
			d.tracks[l] = t
		} else {
			j := jaccard(t.members, keys)
			t.stability = d.cfg.Smoothing*j + (1-d.cfg.Smoothing)*t.stability
			if j >= d.cfg.StableJaccard {
				t.streak++
			} else {
				t.streak = 0
			}
		}
		t.members = keys
		seen[l] = true

		out = append(out, ir.Community{
			ID:                l,
			Members:           keys,
			InternalDensity:   connectedDensity(s, members),
			ExternalDensity:   externalDensity(s, members),
			StabilityOverTime: t.stability,
			Archetype:         d.cfg.ArchetypeRuns > 0 && t.streak >= d.cfg.ArchetypeRuns,
		})
	}
	for l := range d.tracks {
		if !seen[l] {
			delete(d.tracks, l)
		}
	}
	return out
}

// connectedDensity is the share of member pairs joined by an edge.
func connectedDensity(s *snapshot, members []int) float64 {
	n := len(members)
	if n < 2 {
		return 0
	}
	in := make(map[int]bool, n)
	for _, m := range members {
		in[m] = true
	}
	links := 0
	for _, m := range members {
		for j := range s.adj[m] {
			if in[j] && j > m {
				links++
			}
		}
	}
	return float64(links) / float64(n*(n-1)/2)
}

// externalDensity is the share of member to non-member pairs joined by an
// edge.
func externalDensity(s *snapshot, members []int) float64 {
	outside := len(s.keys) - len(members)
	if outside <= 0 || len(members) == 0 {
		return 0
	}
	in := make(map[int]bool, len(members))
	for _, m := range members {
		in[m] = true
	}
	links := 0
	for _, m := range members {
		for j := range s.adj[m] {
			if !in[j] {
				links++
			}
		}
	}
	return float64(links) / float64(len(members)*outside)
}

func modularity(s *snapshot) float64 {
	if s.total == 0 {
		return 0
	}
	in := make(map[int]float64)
	tot := make(map[int]float64)
	for i, l := range s.label {
		tot[l] += s.k[i]
		for j, w := range s.adj[i] {
			if s.label[j] == l {
				in[l] += w
			}
		}
	}
	q := 0.0
	for l, t := range tot {
		q += in[l]/s.total - (t/s.total)*(t/s.total)
	}
	return q
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for _, k := range a {
		if _, ok := slices.BinarySearch(b, k); ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
