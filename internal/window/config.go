package window

import (
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// ScaleConfig is the base size and hop of one sliding scale.
type ScaleConfig struct {
	Size time.Duration `json:"size"`
	Hop  time.Duration `json:"hop"`
}

// Config configures the window manager.
type Config struct {
	Scales [ir.NumSlidingScales]ScaleConfig

	// HighRate and LowRate (events per second over the last macro window)
	// drive adaptive sizing of micro and meso windows.
	HighRate float64
	LowRate  float64

	// ShrinkFactor and GrowFactor are applied per macro closure; the
	// cumulative factor stays within [MinFactor, MaxFactor].
	ShrinkFactor float64
	GrowFactor   float64
	MinFactor    float64
	MaxFactor    float64

	// SessionCap bounds the events retained by the session window.
	SessionCap int
}

// DefaultConfig returns the default window configuration.
func DefaultConfig() Config {
	return Config{
		Scales: [ir.NumSlidingScales]ScaleConfig{
			ir.ScaleMicro: {Size: 50 * time.Millisecond, Hop: 10 * time.Millisecond},
			ir.ScaleMeso:  {Size: 500 * time.Millisecond, Hop: 100 * time.Millisecond},
			ir.ScaleMacro: {Size: 10 * time.Second, Hop: 5 * time.Second},
		},
		HighRate:     20,
		LowRate:      2,
		ShrinkFactor: 0.75,
		GrowFactor:   1.25,
		MinFactor:    0.5,
		MaxFactor:    2.0,
		SessionCap:   4096,
	}
}
