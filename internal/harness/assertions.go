package harness

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the transitions observed so far to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Motif transitions observed so far
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nMotif transitions:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", i+1, ev.Session, ev.Labels, ev.State)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the harness state and
// returns the failure messages.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i+1, a.Type, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, h *Harness, a Assertion) error {
	switch a.Type {
	case AssertTempo:
		return h.assertTempo(a)
	case AssertAlignment:
		return h.assertAlignment(a)
	case AssertMotifState:
		return h.assertMotifState(a)
	case AssertMotifCount:
		return h.assertMotifCount(a)
	case AssertTransitions:
		return h.assertTransitions(a)
	case AssertEdgeCountMax:
		return h.assertEdgeCountMax(a)
	case AssertCoreEdgeCount:
		return h.assertCoreEdgeCount(a)
	case AssertSessionsRecorded:
		return h.assertSessionsRecorded(ctx, a)
	case AssertPredictNext:
		return h.assertPredictNext(a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func (h *Harness) fail(a Assertion, expected, actual string) error {
	h.mu.Lock()
	trace := slices.Clone(h.result.Trace)
	h.mu.Unlock()
	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
}

func (h *Harness) assertTempo(a Assertion) error {
	tempo := h.engine.Tempo()
	want, tol := time.Duration(a.Period), time.Duration(a.Tolerance)
	diff := tempo.Period - want
	if diff < 0 {
		diff = -diff
	}
	if !tempo.Known() || diff > tol {
		return h.fail(a,
			fmt.Sprintf("period %s ± %s", want, tol),
			fmt.Sprintf("period %s (confidence %.2f)", tempo.Period, tempo.Confidence))
	}
	return nil
}

func (h *Harness) assertAlignment(a Assertion) error {
	v := h.engine.View()
	for _, e := range v.Edges() {
		if e.Kind != ir.Succession || v.Key(e.From) != a.From || v.Key(e.To) != a.To {
			continue
		}
		if math.Abs(e.Alignment) < a.Min {
			return h.fail(a,
				fmt.Sprintf("|alignment| of %s→%s >= %.2f", a.From, a.To, a.Min),
				fmt.Sprintf("%.3f", e.Alignment))
		}
		return nil
	}
	return h.fail(a, fmt.Sprintf("succession edge %s→%s", a.From, a.To), "edge not in graph")
}

func (h *Harness) findMotif(labels []string) (ir.Motif, bool) {
	for _, m := range h.engine.Motifs() {
		if equalLabels(m.Labels, labels) {
			return m, true
		}
	}
	return ir.Motif{}, false
}

func (h *Harness) assertMotifState(a Assertion) error {
	want, _ := ir.ParseMotifState(a.State)
	m, ok := h.findMotif(a.Labels)
	if !ok {
		return h.fail(a, fmt.Sprintf("motif %v in state %s", a.Labels, want), "motif not registered")
	}
	if m.State != want {
		return h.fail(a,
			fmt.Sprintf("motif %v in state %s", a.Labels, want),
			fmt.Sprintf("state %s (stability %.3f, sessions %d, p %.3f)", m.State, m.Stability, m.SessionCount, m.PValue))
	}
	return nil
}

func (h *Harness) assertMotifCount(a Assertion) error {
	state, _ := ir.ParseMotifState(a.State)
	got := len(h.engine.Motifs(state))
	if got != *a.Count {
		return h.fail(a, fmt.Sprintf("%d motifs in state %s", *a.Count, state), fmt.Sprintf("%d", got))
	}
	return nil
}

func (h *Harness) assertTransitions(a Assertion) error {
	want := make([]ir.MotifState, len(a.States))
	for i, s := range a.States {
		want[i], _ = ir.ParseMotifState(s)
	}
	h.mu.Lock()
	got := h.result.transitions(a.Labels)
	h.mu.Unlock()
	if !slices.Equal(got, want) {
		return h.fail(a, fmt.Sprintf("motif %v transitions %v", a.Labels, want), fmt.Sprintf("%v", got))
	}
	return nil
}

func (h *Harness) assertEdgeCountMax(a Assertion) error {
	got := h.engine.View().Stats().Edges
	if got > a.Max {
		return h.fail(a, fmt.Sprintf("at most %d edges", a.Max), fmt.Sprintf("%d edges", got))
	}
	return nil
}

func (h *Harness) assertCoreEdgeCount(a Assertion) error {
	got := h.engine.View().Stats().CoreEdges
	if got != *a.Count {
		return h.fail(a, fmt.Sprintf("%d core edges", *a.Count), fmt.Sprintf("%d core edges", got))
	}
	return nil
}

func (h *Harness) assertSessionsRecorded(ctx context.Context, a Assertion) error {
	sessions, err := h.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) != *a.Count {
		return h.fail(a, fmt.Sprintf("%d session records", *a.Count), fmt.Sprintf("%d", len(sessions)))
	}
	return nil
}

func (h *Harness) assertPredictNext(a Assertion) error {
	preds := h.engine.PredictNext(a.From, 1)
	if len(preds) == 0 || preds[0].Key != a.To {
		return h.fail(a, fmt.Sprintf("%s most likely after %s", a.To, a.From), fmt.Sprintf("%v", preds))
	}
	return nil
}

func equalLabels(a, b []string) bool {
	return slices.Equal(a, b)
}
