package community

import "time"

// Config tunes community detection.
type Config struct {
	// Lambda is the per-second decay applied to an edge by its age when it
	// enters the modularity computation.
	Lambda float64

	// ActiveWindow selects the nodes considered for local moves: those
	// observed within it of the view time. Zero considers every node.
	ActiveWindow time.Duration

	// MaxPasses bounds the local-move sweeps per run.
	MaxPasses int

	// RefineEvery runs split and merge checks every that many runs.
	RefineEvery int

	// SplitDensity is the internal density below which a community of at
	// least SplitMinSize members is split by minimum cut.
	SplitDensity float64
	SplitMinSize int

	// MinSize is the size below which a community merges into its most
	// strongly connected neighbor.
	MinSize int

	// StableJaccard is the membership similarity that counts a run as
	// stable; ArchetypeRuns consecutive stable runs make an archetype.
	StableJaccard float64
	ArchetypeRuns int

	// Smoothing is the EMA factor of the reported stability.
	Smoothing float64

	// MinWeight drops decayed edges below it.
	MinWeight float64
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		Lambda:        0.01,
		ActiveWindow:  10 * time.Second,
		MaxPasses:     8,
		RefineEvery:   5,
		SplitDensity:  0.3,
		SplitMinSize:  4,
		MinSize:       2,
		StableJaccard: 0.8,
		ArchetypeRuns: 3,
		Smoothing:     0.5,
		MinWeight:     1e-4,
	}
}
