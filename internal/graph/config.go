package graph

import (
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// Config holds the tunable constants of the graph store.
type Config struct {
	// Alpha is the EMA learning rate per relation kind.
	Alpha [ir.NumRelationKinds]float64

	// SessionLambda is the session-tier decay rate per second.
	SessionLambda float64

	// CoreLambda is the core-tier decay rate per hour.
	CoreLambda float64

	// WeightFloor is the weight below which session edges are pruned.
	WeightFloor float64

	// MaxOutDegree bounds the number of edges leaving a node.
	MaxOutDegree int

	// EdgeCeiling is the live edge count that triggers compression and eviction.
	EdgeCeiling int

	// EvictTarget is the fraction of EdgeCeiling eviction reduces to.
	EvictTarget float64

	// Community compression thresholds.
	CompressMinSize  int
	CompressDensity  float64
	CompressVariance float64

	// ScaleCenters are the gaps each scale weight is most sensitive to.
	ScaleCenters [ir.NumSlidingScales]time.Duration

	// ScaleSpread is the log-space standard deviation of scale relevance.
	ScaleSpread float64
}

// DefaultConfig returns the default graph configuration.
func DefaultConfig() Config {
	return Config{
		Alpha:            [ir.NumRelationKinds]float64{0.1, 0.1, 0.1, 0.1},
		SessionLambda:    0.1,
		CoreLambda:       0.01,
		WeightFloor:      0.01,
		MaxOutDegree:     32,
		EdgeCeiling:      50000,
		EvictTarget:      0.9,
		CompressMinSize:  3,
		CompressDensity:  0.8,
		CompressVariance: 0.05,
		ScaleCenters: [ir.NumSlidingScales]time.Duration{
			50 * time.Millisecond,
			400 * time.Millisecond,
			5 * time.Second,
		},
		ScaleSpread: 1.0,
	}
}

// PrunePolicy returns the policy used for an ordinary decay tick.
func (c Config) PrunePolicy() PrunePolicy {
	return PrunePolicy{
		Floor:            c.WeightFloor,
		MaxOutDegree:     c.MaxOutDegree,
		Ceiling:          c.EdgeCeiling,
		Target:           c.EvictTarget,
		Compress:         true,
		CompressMinSize:  c.CompressMinSize,
		CompressDensity:  c.CompressDensity,
		CompressVariance: c.CompressVariance,
	}
}
