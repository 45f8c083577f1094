package motif

import (
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// Config tunes mining and the registry.
type Config struct {
	// MinSize and MaxSize bound the number of instances per subgraph.
	MinSize int
	MaxSize int

	// CoOccurrenceTolerance is the largest gap linked as co-occurrence.
	CoOccurrenceTolerance time.Duration

	// MesoSpan is the longest meso motif. Macro motifs span more than
	// MesoSpan and at most MacroSpan, so the scales never count the same
	// occurrence twice.
	MesoSpan  time.Duration
	MacroSpan time.Duration

	// MaxPerAnchor bounds the subgraphs enumerated around one anchor.
	MaxPerAnchor int

	// MinSupport is the occurrence count that turns a signature into a
	// candidate motif.
	MinSupport int

	// MaxEntries bounds the registry; the least recently seen
	// non-candidate signatures are evicted first.
	MaxEntries int

	// HorizonWindows evicts non-candidate signatures not seen in this many
	// analyzed windows of their scale.
	HorizonWindows uint64

	// HistoryCap bounds the per-window strength history and OccurrenceCap
	// the retained occurrence timestamps.
	HistoryCap    int
	OccurrenceCap int

	// EpochLength buckets stream time for persistence.
	EpochLength time.Duration
}

// DefaultConfig returns the default mining configuration.
func DefaultConfig() Config {
	return Config{
		MinSize:               3,
		MaxSize:               5,
		CoOccurrenceTolerance: 20 * time.Millisecond,
		MesoSpan:              500 * time.Millisecond,
		MacroSpan:             2 * time.Second,
		MaxPerAnchor:          64,
		MinSupport:            3,
		MaxEntries:            4096,
		HorizonWindows:        600,
		HistoryCap:            32,
		OccurrenceCap:         64,
		EpochLength:           5 * time.Second,
	}
}

// spanLimits returns the exclusive lower and inclusive upper span bound
// of motifs mined at scale.
func (c Config) spanLimits(scale ir.Scale) (lower, upper time.Duration, ok bool) {
	switch scale {
	case ir.ScaleMeso:
		return -1, c.MesoSpan, true
	case ir.ScaleMacro:
		return c.MesoSpan, c.MacroSpan, true
	default:
		return 0, 0, false
	}
}
