package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.cue"), []byte("prune: edge_ceiling: 10\n"), 0o644))
	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
config: small.cue
sessions:
  - id: s1
    events:
      - {at: 0ms, type: game/dodge, intensity: 0.5}
      - {at: 1.5s, type: game/attack}
assertions:
  - {type: edge_count_max, max: 10}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(dir, "small.cue"), scenario.Config, "config resolves against the scenario file")
	require.Len(t, scenario.Sessions, 1)
	require.Len(t, scenario.Sessions[0].Events, 2)
	assert.Equal(t, Duration(1500*time.Millisecond), scenario.Sessions[0].Events[1].At)
	require.NotNil(t, scenario.Sessions[0].Events[0].Intensity)
	assert.Equal(t, 0.5, *scenario.Sessions[0].Events[0].Intensity)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: typo
description: "misspelled assertions key"
sessions:
  - id: s1
    events: [{at: 0ms, type: game/dodge}]
assertion:
  - {type: edge_count_max, max: 10}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_BadDuration(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: bad
description: "duration without unit"
sessions:
  - id: s1
    events: [{at: 100, type: game/dodge}]
assertions:
  - {type: edge_count_max, max: 10}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing unit")
}

func TestValidateScenario(t *testing.T) {
	one := 1
	valid := func() Scenario {
		return Scenario{
			Name:        "v",
			Description: "d",
			Sessions:    []Session{{ID: "s1", Events: []EventStep{{Type: "game/dodge"}}}},
			Assertions:  []Assertion{{Type: AssertSessionsRecorded, Count: &one}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Scenario)
		wantErr string
	}{
		{"valid", func(*Scenario) {}, ""},
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"no sessions", func(s *Scenario) { s.Sessions = nil }, "sessions list is required"},
		{"no assertions", func(s *Scenario) { s.Assertions = nil }, "assertions list is required"},
		{"duplicate session", func(s *Scenario) { s.Sessions = append(s.Sessions, s.Sessions[0]) }, "duplicate id"},
		{"empty session", func(s *Scenario) { s.Sessions[0].Events = nil }, "events, repeat or random is required"},
		{"bad event type", func(s *Scenario) { s.Sessions[0].Events[0].Type = "dodge" }, "type must be domain/name"},
		{"bad repeat", func(s *Scenario) { s.Sessions[0].Repeat = &Repeat{Count: 3} }, "count, period and pattern"},
		{"bad random", func(s *Scenario) { s.Sessions[0].Random = &Random{Count: 3, Types: 2} }, "count, types, spacing and domain"},
		{"bad core kind", func(s *Scenario) {
			s.Core = []CoreEdge{{From: "a/x", To: "a/y", Kind: "sideways", Weight: 0.5}}
		}, "core[0]"},
		{"bad core weight", func(s *Scenario) {
			s.Core = []CoreEdge{{From: "a/x", To: "a/y", Kind: "succession", Weight: 2}}
		}, "weight must be within"},
		{"missing config", func(s *Scenario) { s.Config = "/nonexistent/eresion.cue" }, "config file not found"},
		{"unknown assertion", func(s *Scenario) { s.Assertions[0].Type = "vibes" }, "unknown assertion type"},
		{"count required", func(s *Scenario) { s.Assertions[0].Count = nil }, "count is required"},
		{"bad state", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertMotifState, Labels: []string{"a/x"}, State: "famous"}
		}, "assertions[0]"},
		{"tempo needs tolerance", func(s *Scenario) {
			s.Assertions[0] = Assertion{Type: AssertTempo, Period: Duration(time.Second)}
		}, "period and tolerance"},
		{"session expect validated", func(s *Scenario) {
			s.Sessions[0].Expect = []Assertion{{Type: AssertPredictNext, From: "a/x"}}
		}, "sessions[0].expect[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := validateScenario(&s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSession_StreamMergesSources(t *testing.T) {
	half := 0.5
	s := Session{
		ID:     "s1",
		Events: []EventStep{{At: Duration(150 * time.Millisecond), Type: "cue/marker", Intensity: &half}},
		Repeat: &Repeat{
			Count:   2,
			Period:  Duration(100 * time.Millisecond),
			Pattern: []EventStep{{Type: "game/dodge"}, {At: Duration(10 * time.Millisecond), Type: "game/attack"}},
		},
	}

	stream := s.Stream()
	require.Len(t, stream, 5)
	var types []string
	for _, ev := range stream {
		types = append(types, ev.Type())
	}
	assert.Equal(t, []string{"game/dodge", "game/attack", "game/dodge", "game/attack", "cue/marker"}, types)
	assert.Equal(t, 0.5, stream[4].Intensity)
	assert.Equal(t, 1.0, stream[0].Intensity, "intensity defaults to 1")
}
