package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// pragma returns the value of a SQLite pragma.
func pragma(t *testing.T, s *Store, name string) string {
	t.Helper()
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		t.Fatalf("query %s: %v", name, err)
	}
	return value
}

// hasSchemaObject reports whether a table or index exists.
func hasSchemaObject(t *testing.T, s *Store, kind, name string) bool {
	t.Helper()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

// createTestMotif creates a motif with minimal required fields.
func createTestMotif(id string, state ir.MotifState, version uint64) ir.Motif {
	return ir.Motif{
		ID:        id,
		Labels:    []string{"game/attack", "game/dodge", "game/dodge"},
		Edges:     []ir.MotifEdge{{From: 1, To: 0, Kind: ir.Succession}, {From: 0, To: 2, Kind: ir.Succession}},
		Scale:     ir.ScaleMeso,
		Centroid:  map[string]float64{"span": 0.24, "intensity": 0.87},
		Stability: 0.91,
		State:     state,
		Version:   version,
	}
}

// createTestSnapshot creates a snapshot with one core edge and two motifs.
func createTestSnapshot() *Snapshot {
	return &Snapshot{
		Header: Header{Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		CoreGraph: CoreGraph{
			Nodes: []graph.CoreNode{
				{Key: "game/attack", Count: 40, IntensitySum: 40, Sessions: 3},
				{Key: "game/dodge", Count: 80, IntensitySum: 64, Sessions: 3},
			},
			Edges: []graph.CoreEdge{{
				EdgeRef:      graph.EdgeRef{From: "game/dodge", To: "game/attack", Kind: ir.Succession},
				Weight:       0.82,
				ScaleWeights: [ir.NumSlidingScales]float64{0.4, 0.8, 0.2},
				Count:        40,
				Gap:          120 * time.Millisecond,
			}},
		},
		Motifs: []ir.Motif{
			createTestMotif("aa11", ir.StatePromoted, 7),
			createTestMotif("bb22", ir.StateReinforced, 3),
		},
	}
}
