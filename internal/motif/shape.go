package motif

import (
	"cmp"
	"slices"

	"github.com/roach88/eresion/internal/ir"
)

// Shape is a motif structure in canonical form: Labels sorted, member
// positions chosen to minimize the adjacency encoding, Edges sorted.
type Shape struct {
	Labels []string       `json:"labels"`
	Edges  []ir.MotifEdge `json:"edges"`
}

// Equal reports whether two canonical shapes are identical.
func (s Shape) Equal(o Shape) bool {
	return slices.Equal(s.Labels, o.Labels) && slices.Equal(s.Edges, o.Edges)
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	return Shape{Labels: slices.Clone(s.Labels), Edges: slices.Clone(s.Edges)}
}

// Signature hashes the shape together with its scale.
func (s Shape) Signature(scale ir.Scale) (string, error) {
	edges := make(ir.List, len(s.Edges))
	for i, e := range s.Edges {
		edges[i] = ir.List{ir.Int(e.From), ir.Int(e.To), ir.Str(e.Kind.String())}
	}
	return ir.MotifSignature(ir.Object{
		"scale":  ir.Str(scale.String()),
		"labels": ir.Strs(s.Labels),
		"edges":  edges,
	})
}

// EdgeKeys returns the labeled edges of the shape, used for near-duplicate
// detection. Undirected edges list their labels in sorted order.
func (s Shape) EdgeKeys() []string {
	keys := make([]string, 0, len(s.Edges))
	for _, e := range s.Edges {
		from, to := s.Labels[e.From], s.Labels[e.To]
		if !e.Kind.Directed() && to < from {
			from, to = to, from
		}
		keys = append(keys, from+">"+to+":"+e.Kind.String())
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// adjacency code for an ordered pair: 0 for none, 1+kind otherwise.
type adjacency [][]uint8

func newAdjacency(n int, edges []ir.MotifEdge) adjacency {
	adj := make(adjacency, n)
	for i := range adj {
		adj[i] = make([]uint8, n)
	}
	for _, e := range edges {
		adj[e.From][e.To] = 1 + uint8(e.Kind)
		if !e.Kind.Directed() {
			adj[e.To][e.From] = 1 + uint8(e.Kind)
		}
	}
	return adj
}

// Canonicalize reduces a labeled subgraph to its canonical shape. Member
// positions follow the sorted label order; among orderings consistent with
// it, the one with the smallest adjacency encoding wins. Edge indexes refer
// to positions in labels.
func Canonicalize(labels []string, edges []ir.MotifEdge) Shape {
	n := len(labels)
	adj := newAdjacency(n, edges)

	sorted := slices.Clone(labels)
	slices.Sort(sorted)

	var best []uint8
	var bestPerm []int
	perm := make([]int, 0, n)
	used := make([]bool, n)
	enc := make([]uint8, 0, n*n)

	var walk func()
	walk = func() {
		k := len(perm)
		if k == n {
			enc = enc[:0]
			for a := 0; a < n; a++ {
				for b := 0; b < n; b++ {
					if a != b {
						enc = append(enc, adj[perm[a]][perm[b]])
					}
				}
			}
			if best == nil || slices.Compare(enc, best) < 0 {
				best = slices.Clone(enc)
				bestPerm = slices.Clone(perm)
			}
			return
		}
		for i := 0; i < n; i++ {
			if used[i] || labels[i] != sorted[k] {
				continue
			}
			// Identical unused twins yield identical subtrees.
			twin := false
			for j := 0; j < i; j++ {
				if !used[j] && labels[j] == labels[i] && sameRow(adj, i, j) {
					twin = true
					break
				}
			}
			if twin {
				continue
			}
			used[i] = true
			perm = append(perm, i)
			walk()
			perm = perm[:k]
			used[i] = false
		}
	}
	walk()

	pos := make([]int, n)
	for p, orig := range bestPerm {
		pos[orig] = p
	}
	out := Shape{Labels: sorted, Edges: make([]ir.MotifEdge, 0, len(edges))}
	for _, e := range edges {
		from, to := pos[e.From], pos[e.To]
		if !e.Kind.Directed() && from > to {
			from, to = to, from
		}
		out.Edges = append(out.Edges, ir.MotifEdge{From: from, To: to, Kind: e.Kind})
	}
	slices.SortFunc(out.Edges, compareEdges)
	out.Edges = slices.Compact(out.Edges)
	return out
}

// sameRow reports whether i and j relate identically to every vertex and
// to each other, in which case swapping them changes no encoding.
func sameRow(adj adjacency, i, j int) bool {
	if adj[i][j] != adj[j][i] {
		return false
	}
	for v := range adj {
		if v == i || v == j {
			continue
		}
		if adj[i][v] != adj[j][v] || adj[v][i] != adj[v][j] {
			return false
		}
	}
	return true
}

func compareEdges(a, b ir.MotifEdge) int {
	if c := cmp.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := cmp.Compare(a.To, b.To); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}
