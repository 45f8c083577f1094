package harness

import (
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
)

// TraceEvent is one motif state change observed during a scenario.
type TraceEvent struct {
	Session   string        `json:"session"`
	MotifID   string        `json:"motif_id"`
	Labels    []string      `json:"labels"`
	State     ir.MotifState `json:"state"`
	Stability float64       `json:"stability"`
	Window    ir.Window     `json:"window"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every motif transition in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Sessions contains the record of every completed session.
	Sessions []store.SessionRecord `json:"sessions"`

	// Stream is the expanded input, grouped by session.
	Stream []SessionStream `json:"stream"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// SessionStream is the concrete event sequence fed for one session.
type SessionStream struct {
	Session string     `json:"session"`
	Events  []ir.Event `json:"events"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// transitions returns the states a motif with labels went through.
func (r *Result) transitions(labels []string) []ir.MotifState {
	var out []ir.MotifState
	for _, ev := range r.Trace {
		if equalLabels(ev.Labels, labels) {
			out = append(out, ev.State)
		}
	}
	return out
}
