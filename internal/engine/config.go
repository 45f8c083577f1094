package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/eresion/internal/community"
	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/motif"
	"github.com/roach88/eresion/internal/rhythm"
	"github.com/roach88/eresion/internal/stability"
	"github.com/roach88/eresion/internal/window"
)

// MemoryConfig holds the per-tier ceilings the degradation ladder is
// driven by. Zero disables a ceiling.
type MemoryConfig struct {
	SessionBytes int64
	CoreBytes    int64
	MaxNodes     int

	// MaxEdges defaults to the graph edge ceiling.
	MaxEdges int

	// AnalysisEvents caps the events a session window retains for
	// analysis.
	AnalysisEvents int

	// RecoverRatio is the pressure below which the ladder steps back
	// down one level.
	RecoverRatio float64
}

// Config aggregates the configuration of every component plus the
// runtime knobs of the engine itself.
type Config struct {
	Graph     graph.Config
	Updater   graph.UpdaterConfig
	Window    window.Config
	Rhythm    rhythm.Config
	Motif     motif.Config
	Stability stability.Config
	Community community.Config
	Memory    MemoryConfig

	// QueueCapacity bounds the snapshot queue of the analytical path.
	QueueCapacity int

	// Workers bounds the analyzers run concurrently for one snapshot.
	Workers int

	// OutOfOrderTolerance is how far an event may precede the last
	// accepted one before it is rejected.
	OutOfOrderTolerance time.Duration

	// DecayInterval is the stream time between decay ticks.
	DecayInterval time.Duration

	// CoreMergeFactor scales persisted core weights on load.
	CoreMergeFactor float64

	// Synchronous runs analysis inline on the reactive path, for
	// deterministic tests and batch replay.
	Synchronous bool

	// SnapshotRetries is the attempt count for persistence operations.
	SnapshotRetries int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Graph:     graph.DefaultConfig(),
		Updater:   graph.DefaultUpdaterConfig(),
		Window:    window.DefaultConfig(),
		Rhythm:    rhythm.DefaultConfig(),
		Motif:     motif.DefaultConfig(),
		Stability: stability.DefaultConfig(),
		Community: community.DefaultConfig(),
		Memory: MemoryConfig{
			SessionBytes:   64 << 20,
			CoreBytes:      16 << 20,
			MaxNodes:       10000,
			AnalysisEvents: 4096,
			RecoverRatio:   0.7,
		},
		QueueCapacity:       64,
		Workers:             3,
		OutOfOrderTolerance: 50 * time.Millisecond,
		DecayInterval:       time.Second,
		CoreMergeFactor:     0.5,
		SnapshotRetries:     3,
	}
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	for s, sc := range c.Window.Scales {
		check(sc.Size > 0, "window scale %d: size must be positive", s)
		check(sc.Hop >= 0 && sc.Hop <= sc.Size, "window scale %d: hop must be within [0, size]", s)
	}
	check(c.Window.LowRate < c.Window.HighRate, "window low_rate must be below high_rate")
	for k, a := range c.Graph.Alpha {
		check(a > 0 && a <= 1, "graph alpha[%d] must be within (0, 1]", k)
	}
	check(c.Graph.SessionLambda >= 0, "graph session_lambda must not be negative")
	check(c.Graph.CoreLambda >= 0, "graph core_lambda must not be negative")
	check(c.Graph.WeightFloor >= 0 && c.Graph.WeightFloor < 1, "graph weight_floor must be within [0, 1)")
	check(c.Stability.MaxPValue > 0 && c.Stability.MaxPValue <= 1, "stability max_p_value must be within (0, 1]")
	check(c.Stability.MinSessions >= 1, "stability min_sessions must be at least 1")
	check(c.Stability.MinSignificantSessions >= 1 && c.Stability.MinSignificantSessions <= c.Stability.MinSessions,
		"stability min_significant_sessions must be within [1, min_sessions]")
	check(c.Stability.MinLift >= 0, "stability min_lift must not be negative")
	check(c.Stability.SessionDecay > 0 && c.Stability.SessionDecay <= 1, "stability session_decay must be within (0, 1]")
	check(c.Motif.MinSize >= 2 && c.Motif.MinSize <= c.Motif.MaxSize, "motif sizes must satisfy 2 <= min <= max")
	check(c.QueueCapacity >= 1, "queue_capacity must be at least 1")
	check(c.Workers >= 1, "workers must be at least 1")
	check(c.OutOfOrderTolerance >= 0, "out_of_order_tolerance must not be negative")
	check(c.DecayInterval > 0, "decay_interval must be positive")
	check(c.CoreMergeFactor > 0 && c.CoreMergeFactor <= 1, "core_merge_factor must be within (0, 1]")
	check(c.Memory.RecoverRatio > 0 && c.Memory.RecoverRatio < 1, "memory recover_ratio must be within (0, 1)")
	return errors.Join(errs...)
}

// window returns the window configuration with the analysis workspace cap
// applied.
func (c Config) window() window.Config {
	w := c.Window
	if c.Memory.AnalysisEvents > 0 {
		w.SessionCap = c.Memory.AnalysisEvents
	}
	return w
}
