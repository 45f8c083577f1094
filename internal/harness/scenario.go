package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/testutil"
)

// Scenario is an engine scenario expressed as data: a configuration, an
// optional persisted core graph, a sequence of sessions with synthetic
// event streams, and assertions over the resulting engine state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an optional CUE configuration file.
	// Relative paths resolve against the scenario file location.
	Config string `yaml:"config,omitempty"`

	// Core seeds the store with a snapshot holding these core edges,
	// loaded before the first session.
	Core []CoreEdge `yaml:"core,omitempty"`

	// Sessions are fed in order, each ended before the next starts.
	Sessions []Session `yaml:"sessions"`

	// Assertions validate the final engine state.
	Assertions []Assertion `yaml:"assertions"`
}

// CoreEdge is a persisted core-tier edge to seed.
type CoreEdge struct {
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Kind   string  `yaml:"kind"`
	Weight float64 `yaml:"weight"`
}

// Session is one session of the scenario. Its stream is the merge of the
// explicit events and the generated ones, ordered by timestamp.
type Session struct {
	ID     string      `yaml:"id"`
	Events []EventStep `yaml:"events,omitempty"`
	Repeat *Repeat     `yaml:"repeat,omitempty"`
	Random *Random     `yaml:"random,omitempty"`

	// Expect is checked after the session ended.
	Expect []Assertion `yaml:"expect,omitempty"`
}

// EventStep is one explicit event. Intensity defaults to 1.
type EventStep struct {
	At        Duration `yaml:"at"`
	Type      string   `yaml:"type"`
	Intensity *float64 `yaml:"intensity,omitempty"`
}

// Repeat emits a pattern Count times, one repetition every Period.
type Repeat struct {
	Count   int         `yaml:"count"`
	Period  Duration    `yaml:"period"`
	Start   Duration    `yaml:"start,omitempty"`
	Pattern []EventStep `yaml:"pattern"`
}

// Random emits Count events of Types uniformly drawn types.
type Random struct {
	Count   int      `yaml:"count"`
	Types   int      `yaml:"types"`
	Domain  string   `yaml:"domain"`
	Spacing Duration `yaml:"spacing"`
	Start   Duration `yaml:"start,omitempty"`
	Seed    int64    `yaml:"seed"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses strings such as "480ms" or "1s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Assertion validates engine state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "tempo": the smoothed period is within Tolerance of Period
	// - "alignment": the From→To succession edge has |alignment| >= Min
	// - "motif_state": the motif with Labels is in State
	// - "motif_count": exactly Count motifs are in State
	// - "transitions": the motif with Labels went through States in order
	// - "edge_count_max": at most Max live edges
	// - "core_edge_count": exactly Count core edges
	// - "sessions_recorded": the store holds exactly Count session records
	// - "predict_next": To is the most likely successor of From
	Type string `yaml:"type"`

	Labels    []string `yaml:"labels,omitempty"`
	State     string   `yaml:"state,omitempty"`
	States    []string `yaml:"states,omitempty"`
	Count     *int     `yaml:"count,omitempty"`
	Max       int      `yaml:"max,omitempty"`
	Period    Duration `yaml:"period,omitempty"`
	Tolerance Duration `yaml:"tolerance,omitempty"`
	From      string   `yaml:"from,omitempty"`
	To        string   `yaml:"to,omitempty"`
	Min       float64  `yaml:"min,omitempty"`
}

// Assertion type constants.
const (
	AssertTempo            = "tempo"
	AssertAlignment        = "alignment"
	AssertMotifState       = "motif_state"
	AssertMotifCount       = "motif_count"
	AssertTransitions      = "transitions"
	AssertEdgeCountMax     = "edge_count_max"
	AssertCoreEdgeCount    = "core_edge_count"
	AssertSessionsRecorded = "sessions_recorded"
	AssertPredictNext      = "predict_next"
)

// LoadScenario reads and parses a scenario YAML file. The config path is
// resolved relative to the file. Returns an error if the file doesn't
// exist, is malformed, contains unknown fields (typos), or is missing
// required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sessions) == 0 {
		return fmt.Errorf("sessions list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Config != "" {
		if _, err := os.Stat(s.Config); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.Config)
		}
	}

	for i, ce := range s.Core {
		if ce.From == "" || ce.To == "" {
			return fmt.Errorf("core[%d]: from and to are required", i)
		}
		if _, err := ir.ParseRelationKind(ce.Kind); err != nil {
			return fmt.Errorf("core[%d]: %w", i, err)
		}
		if ce.Weight <= 0 || ce.Weight > 1 {
			return fmt.Errorf("core[%d]: weight must be within (0, 1]", i)
		}
	}

	ids := make(map[string]bool)
	for i, sess := range s.Sessions {
		if sess.ID == "" {
			return fmt.Errorf("sessions[%d]: id is required", i)
		}
		if ids[sess.ID] {
			return fmt.Errorf("sessions[%d]: duplicate id %q", i, sess.ID)
		}
		ids[sess.ID] = true
		if len(sess.Events) == 0 && sess.Repeat == nil && sess.Random == nil {
			return fmt.Errorf("sessions[%d]: events, repeat or random is required", i)
		}
		if err := validateSteps(fmt.Sprintf("sessions[%d].events", i), sess.Events); err != nil {
			return err
		}
		if r := sess.Repeat; r != nil {
			if r.Count < 1 || r.Period <= 0 || len(r.Pattern) == 0 {
				return fmt.Errorf("sessions[%d].repeat: count, period and pattern are required", i)
			}
			if err := validateSteps(fmt.Sprintf("sessions[%d].repeat.pattern", i), r.Pattern); err != nil {
				return err
			}
		}
		if r := sess.Random; r != nil {
			if r.Count < 1 || r.Types < 1 || r.Spacing <= 0 || r.Domain == "" {
				return fmt.Errorf("sessions[%d].random: count, types, spacing and domain are required", i)
			}
		}
		for j, a := range sess.Expect {
			if err := validateAssertion(fmt.Sprintf("sessions[%d].expect[%d]", i, j), &a); err != nil {
				return err
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), &a); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(field string, steps []EventStep) error {
	for i, st := range steps {
		domain, name, ok := strings.Cut(st.Type, "/")
		if !ok || domain == "" || name == "" {
			return fmt.Errorf("%s[%d]: type must be domain/name, got %q", field, i, st.Type)
		}
		if st.At < 0 {
			return fmt.Errorf("%s[%d]: at must not be negative", field, i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(field string, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("%s: type is required", field)
	case AssertTempo:
		if a.Period <= 0 || a.Tolerance <= 0 {
			return fmt.Errorf("%s: period and tolerance are required for tempo", field)
		}
	case AssertAlignment, AssertPredictNext:
		if a.From == "" || a.To == "" {
			return fmt.Errorf("%s: from and to are required for %s", field, a.Type)
		}
	case AssertMotifState:
		if len(a.Labels) == 0 {
			return fmt.Errorf("%s: labels are required for motif_state", field)
		}
		if _, err := ir.ParseMotifState(a.State); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	case AssertMotifCount:
		if a.Count == nil {
			return fmt.Errorf("%s: count is required for motif_count", field)
		}
		if _, err := ir.ParseMotifState(a.State); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	case AssertTransitions:
		if len(a.Labels) == 0 || len(a.States) == 0 {
			return fmt.Errorf("%s: labels and states are required for transitions", field)
		}
		for _, st := range a.States {
			if _, err := ir.ParseMotifState(st); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
		}
	case AssertEdgeCountMax:
		if a.Max < 1 {
			return fmt.Errorf("%s: max is required for edge_count_max", field)
		}
	case AssertCoreEdgeCount, AssertSessionsRecorded:
		if a.Count == nil {
			return fmt.Errorf("%s: count is required for %s", field, a.Type)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", field, a.Type)
	}
	return nil
}

// Stream expands the session's explicit and generated events into one
// ordered stream.
func (s Session) Stream() []ir.Event {
	var streams [][]ir.Event
	if len(s.Events) > 0 {
		streams = append(streams, testutil.Repeat(0, 0, 1, steps(s.Events)...))
	}
	if r := s.Repeat; r != nil {
		streams = append(streams, testutil.Repeat(time.Duration(r.Start), time.Duration(r.Period), r.Count, steps(r.Pattern)...))
	}
	if r := s.Random; r != nil {
		streams = append(streams, testutil.Random(r.Seed, r.Domain, r.Types, r.Count, time.Duration(r.Start), time.Duration(r.Spacing)))
	}
	return testutil.Merge(streams...)
}

func steps(es []EventStep) []testutil.Step {
	out := make([]testutil.Step, len(es))
	for i, e := range es {
		intensity := 1.0
		if e.Intensity != nil {
			intensity = *e.Intensity
		}
		out[i] = testutil.Step{Offset: time.Duration(e.At), Type: e.Type, Intensity: intensity}
	}
	return out
}
