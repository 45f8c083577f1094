package motif

import (
	"slices"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

type pair struct{ a, b int }

// instances is the graph of event instances inside one window. Each
// instance is linked from the most recent prior instance of every label
// within span, as the reactive updater links event types.
type instances struct {
	labels []string
	ts     []time.Duration
	adj    [][]int
	links  map[pair]ir.RelationKind
}

func buildInstances(labels []string, ts []time.Duration, span, coTol time.Duration) *instances {
	n := len(labels)
	g := &instances{
		labels: labels,
		ts:     ts,
		adj:    make([][]int, n),
		links:  make(map[pair]ir.RelationKind),
	}
	last := make(map[string]int)
	for j := 0; j < n; j++ {
		for label, i := range last {
			gap := ts[j] - ts[i]
			if gap > span {
				delete(last, label)
				continue
			}
			kind := ir.Succession
			if gap <= coTol {
				if label == labels[j] {
					continue
				}
				kind = ir.CoOccurrence
			}
			g.links[pair{i, j}] = kind
			g.adj[i] = append(g.adj[i], j)
			g.adj[j] = append(g.adj[j], i)
		}
		last[labels[j]] = j
	}
	for i := range g.adj {
		slices.Sort(g.adj[i])
	}
	return g
}

func (g *instances) adjacent(u int, sub []int) bool {
	for _, v := range sub {
		a, b := min(u, v), max(u, v)
		if _, ok := g.links[pair{a, b}]; ok {
			return true
		}
	}
	return false
}

type enumOpts struct {
	minSize int
	maxSize int
	span    time.Duration
	limit   int
	// fits, when set, prunes extensions; it must reject every superset of
	// a rejected set.
	fits func(sub []int, w int) bool
}

// enumerate lists every connected set of instances that contains anchor a,
// whose other members precede a within span, using the ESU algorithm so
// each set is produced exactly once. emit must copy sub to retain it.
// It reports whether the limit cut enumeration short.
func (g *instances) enumerate(a int, o enumOpts, emit func(sub []int)) bool {
	allowed := func(v int) bool {
		return v < a && g.ts[a]-g.ts[v] <= o.span
	}
	if o.fits != nil && !o.fits(nil, a) {
		return false
	}

	count := 0
	var extend func(sub, ext []int) bool
	extend = func(sub, ext []int) bool {
		if len(sub) >= o.minSize {
			emit(sub)
			count++
			if o.limit > 0 && count >= o.limit {
				return false
			}
		}
		if len(sub) == o.maxSize {
			return true
		}
		for len(ext) > 0 {
			w := ext[len(ext)-1]
			ext = ext[:len(ext)-1]
			if o.fits != nil && !o.fits(sub, w) {
				continue
			}
			next := slices.Clone(ext)
			for _, u := range g.adj[w] {
				if !allowed(u) || slices.Contains(sub, u) || g.adjacent(u, sub) || slices.Contains(next, u) {
					continue
				}
				next = append(next, u)
			}
			if !extend(append(slices.Clone(sub), w), next) {
				return false
			}
		}
		return true
	}

	var ext []int
	for _, u := range g.adj[a] {
		if allowed(u) {
			ext = append(ext, u)
		}
	}
	return !extend([]int{a}, ext)
}

// shape returns the canonical shape of a set of instances, and its span.
func (g *instances) shape(sub []int) (Shape, time.Duration) {
	members := slices.Clone(sub)
	slices.Sort(members)
	labels := make([]string, len(members))
	for p, i := range members {
		labels[p] = g.labels[i]
	}
	var edges []ir.MotifEdge
	for p := range members {
		for q := p + 1; q < len(members); q++ {
			if kind, ok := g.links[pair{members[p], members[q]}]; ok {
				edges = append(edges, ir.MotifEdge{From: p, To: q, Kind: kind})
			}
		}
	}
	span := g.ts[members[len(members)-1]] - g.ts[members[0]]
	return Canonicalize(labels, edges), span
}
