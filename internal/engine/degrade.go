package engine

import (
	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
)

// Level is a rung of the degradation ladder. Each level keeps every
// restriction of the levels below it.
type Level int32

const (
	// LevelNormal runs every analysis.
	LevelNormal Level = iota
	// LevelAggressivePrune prunes with the stricter policy.
	LevelAggressivePrune
	// LevelNoMacro stops macro-scale analysis.
	LevelNoMacro
	// LevelNoMeso stops meso-scale analysis.
	LevelNoMeso
	// LevelReactiveOnly stops all analysis, session scoring included.
	LevelReactiveOnly
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelAggressivePrune:
		return "aggressive_prune"
	case LevelNoMacro:
		return "no_macro"
	case LevelNoMeso:
		return "no_meso"
	case LevelReactiveOnly:
		return "reactive_only"
	default:
		return "unknown"
	}
}

// Allows reports whether snapshots of scale are analyzed at this level.
func (l Level) Allows(scale ir.Scale) bool {
	switch scale {
	case ir.ScaleMacro:
		return l < LevelNoMacro
	case ir.ScaleMeso:
		return l < LevelNoMeso
	case ir.ScaleSession:
		return l < LevelReactiveOnly
	default:
		return false
	}
}

// ladder tracks resource pressure and moves one level per assessment:
// up while any ceiling is exceeded, down once every tier is below
// RecoverRatio of its ceiling. The gap between the two thresholds keeps
// the level from flapping.
//
// CRITICAL: owned by the reactive path.
type ladder struct {
	cfg   MemoryConfig
	level Level
}

func newLadder(cfg MemoryConfig, edgeCeiling int) *ladder {
	if cfg.MaxEdges <= 0 {
		cfg.MaxEdges = edgeCeiling
	}
	return &ladder{cfg: cfg}
}

// pressure returns the largest usage-to-ceiling ratio over every tier.
func (l *ladder) pressure(s graph.Stats) float64 {
	p := 0.0
	ratio := func(used, ceiling int64) {
		if ceiling > 0 {
			p = max(p, float64(used)/float64(ceiling))
		}
	}
	ratio(int64(s.Nodes), int64(l.cfg.MaxNodes))
	ratio(int64(s.Edges), int64(l.cfg.MaxEdges))
	ratio(s.SessionBytes, l.cfg.SessionBytes)
	ratio(s.CoreBytes, l.cfg.CoreBytes)
	return p
}

// assess folds the latest graph statistics into the level and reports
// whether it changed.
func (l *ladder) assess(s graph.Stats) (Level, bool) {
	p := l.pressure(s)
	prev := l.level
	switch {
	case p > 1 && l.level < LevelReactiveOnly:
		l.level++
	case p < l.cfg.RecoverRatio && l.level > LevelNormal:
		l.level--
	}
	return l.level, l.level != prev
}

// policy returns the prune policy for the current level.
func (l *ladder) policy(base graph.PrunePolicy) graph.PrunePolicy {
	if l.level >= LevelAggressivePrune {
		return base.Aggressive()
	}
	return base
}
