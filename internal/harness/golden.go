package harness

import (
	"context"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/eresion/internal/ir"
)

// StreamSnapshot is the golden form of a scenario run: the expanded input
// stream and the per-session counts. Timestamps are in milliseconds and
// intensities in thousandths, since canonical JSON carries no floats.
type StreamSnapshot struct {
	ScenarioName string
	Result       *Result
}

func (s *StreamSnapshot) toCanonicalMap() map[string]any {
	var sessions, stream []any
	for _, rec := range s.Result.Sessions {
		sessions = append(sessions, map[string]any{
			"id":      rec.ID,
			"events":  rec.Events,
			"dropped": rec.Dropped,
		})
	}
	for _, ss := range s.Result.Stream {
		for _, ev := range ss.Events {
			stream = append(stream, map[string]any{
				"session":         ss.Session,
				"type":            ev.Type(),
				"at_ms":           ev.Timestamp.Milliseconds(),
				"intensity_milli": int64(math.Round(ev.Intensity * 1000)),
			})
		}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"sessions":      orEmpty(sessions),
		"stream":        orEmpty(stream),
	}
}

func orEmpty(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

// RunWithGolden executes a scenario, fails the test on any assertion
// failure, and compares the fed stream against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := StreamSnapshot{ScenarioName: scenarioName, Result: result}
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
