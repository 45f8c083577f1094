package testutil

import (
	"cmp"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// Step is one event of a synthetic pattern, relative to the pattern start.
type Step struct {
	Offset    time.Duration
	Type      string // domain/name
	Intensity float64
}

// Event builds the event for step at base.
func (s Step) Event(base time.Duration) ir.Event {
	domain, name, _ := strings.Cut(s.Type, "/")
	return ir.NewEvent(base+s.Offset, domain, name, s.Intensity, nil)
}

// Repeat emits pattern count times, one repetition every period,
// starting at start.
func Repeat(start, period time.Duration, count int, pattern ...Step) []ir.Event {
	events := make([]ir.Event, 0, count*len(pattern))
	for i := 0; i < count; i++ {
		base := start + time.Duration(i)*period
		for _, s := range pattern {
			events = append(events, s.Event(base))
		}
	}
	return events
}

// Random emits count events spaced evenly from start, each of a type drawn
// uniformly from types names "<domain>/t00", "<domain>/t01", ... The
// sequence is a pure function of seed.
func Random(seed int64, domain string, types, count int, start, spacing time.Duration) []ir.Event {
	rng := rand.New(rand.NewSource(seed))
	events := make([]ir.Event, 0, count)
	for i := 0; i < count; i++ {
		at := start + time.Duration(i)*spacing
		events = append(events, ir.NewEvent(at, domain, fmt.Sprintf("t%02d", rng.Intn(types)), 1, nil))
	}
	return events
}

// Merge combines event streams into one ordered by timestamp. Events with
// equal timestamps keep the order of their streams.
func Merge(streams ...[]ir.Event) []ir.Event {
	var out []ir.Event
	for _, s := range streams {
		out = append(out, s...)
	}
	slices.SortStableFunc(out, func(a, b ir.Event) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return out
}
