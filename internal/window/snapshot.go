package window

import (
	"time"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
)

// Snapshot is the immutable record of one closed window: the events whose
// timestamps fall in the window and the edge touches they produced.
//
// Snapshots are shared between goroutines of the analytical path; nothing
// may modify one after the manager emits it.
type Snapshot struct {
	// ID orders snapshots across all scales in emission order.
	ID uint64 `json:"id"`

	Window ir.Window `json:"window"`

	// Generation counts closed windows of this scale.
	Generation uint64 `json:"generation"`

	Session string        `json:"session"`
	Frame   ir.Frame      `json:"frame"`
	Events  []ir.Event    `json:"events"`
	Touches []graph.Touch `json:"touches"`

	// Dropped is the number of events the session window discarded to stay
	// under its workspace cap. Always zero for sliding windows.
	Dropped int `json:"dropped,omitempty"`
}

// Scale returns the snapshot's scale.
func (s *Snapshot) Scale() ir.Scale {
	return s.Window.Scale
}

// Timestamps returns the ordered event timestamps of the window.
func (s *Snapshot) Timestamps() []time.Duration {
	ts := make([]time.Duration, len(s.Events))
	for i, ev := range s.Events {
		ts[i] = ev.Timestamp
	}
	return ts
}

// InAnchor reports whether ts lies in the window's final hop.
func (s *Snapshot) InAnchor(ts time.Duration) bool {
	return ts >= s.Window.AnchorStart() && ts < s.Window.End
}

// Rate returns the event rate of the window in events per second.
func (s *Snapshot) Rate() float64 {
	d := s.Window.Duration()
	if d <= 0 {
		return 0
	}
	return float64(len(s.Events)) / d.Seconds()
}
