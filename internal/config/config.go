package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/eresion/internal/engine"
	"github.com/roach88/eresion/internal/ir"
)

//go:embed schema.cue
var schemaSource []byte

// Error codes reported by Load.
const (
	ErrCodeNotFound  = "E201" // Config path not found or unreadable
	ErrCodeParse     = "E202" // CUE or JSON syntax error
	ErrCodeSchema    = "E203" // Value violates the #Config schema
	ErrCodeInvalid   = "E204" // Value passes the schema but is unusable
	ErrCodeInstances = "E205" // CUE package could not be loaded
)

// Error is a configuration error with the CUE position when one is known.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Window is the base size and hop of one sliding scale.
type Window struct {
	Size string `json:"size"`
	Hop  string `json:"hop"`
}

// Config is the file form of the engine configuration. Every field has a
// schema default, so a partial file configures only what it names.
type Config struct {
	Windows struct {
		Micro    Window  `json:"micro"`
		Meso     Window  `json:"meso"`
		Macro    Window  `json:"macro"`
		HighRate float64 `json:"high_rate"`
		LowRate  float64 `json:"low_rate"`
	} `json:"windows"`

	Decay struct {
		SessionLambda float64 `json:"session_lambda"`
		CoreLambda    float64 `json:"core_lambda"`
		Interval      string  `json:"interval"`
	} `json:"decay"`

	Alpha struct {
		Succession   float64 `json:"succession"`
		CoOccurrence float64 `json:"co_occurrence"`
		Causal       float64 `json:"causal"`
		Inhibition   float64 `json:"inhibition"`
	} `json:"alpha"`

	Prune struct {
		WeightFloor  float64 `json:"weight_floor"`
		MaxOutDegree int     `json:"max_out_degree"`
		EdgeCeiling  int     `json:"edge_ceiling"`
	} `json:"prune"`

	Stability struct {
		MinStability           float64 `json:"min_stability"`
		MinSessions            int     `json:"min_sessions"`
		MinSignificantSessions int     `json:"min_significant_sessions"`
		MinPrevalence          float64 `json:"min_prevalence"`
		MaxPValue              float64 `json:"max_p_value"`
		Permutations           int     `json:"permutations"`
		MinLift                float64 `json:"min_lift"`
		SessionDecay           float64 `json:"session_decay"`
		DuplicateSimilarity    float64 `json:"duplicate_similarity"`
	} `json:"stability"`

	Memory struct {
		SessionBytes   int64   `json:"session_bytes"`
		CoreBytes      int64   `json:"core_bytes"`
		MaxNodes       int     `json:"max_nodes"`
		MaxEdges       int     `json:"max_edges"`
		AnalysisEvents int     `json:"analysis_events"`
		RecoverRatio   float64 `json:"recover_ratio"`
	} `json:"memory"`

	Engine struct {
		QueueCapacity       int     `json:"queue_capacity"`
		Workers             int     `json:"workers"`
		OutOfOrderTolerance string  `json:"out_of_order_tolerance"`
		CoreMergeFactor     float64 `json:"core_merge_factor"`
		SnapshotRetries     int     `json:"snapshot_retries"`
	} `json:"engine"`

	Store struct {
		Driver string `json:"driver"`
		Path   string `json:"path"`
	} `json:"store"`

	Log struct {
		Level string `json:"level"`
	} `json:"log"`
}

// Default returns the schema defaults.
func Default() *Config {
	ctx := cuecontext.New()
	cfg, err := decode(ctx, ctx.CompileString("{}"))
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	return cfg
}

// Load reads a configuration from path. A file is compiled as CUE, which
// also accepts JSON; a directory is loaded as a CUE package. The value is
// unified with the #Config schema, so unknown fields, out-of-range values
// and type mismatches are reported with their source position.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %v", err)}
	}

	ctx := cuecontext.New()
	var value cue.Value
	if info.IsDir() {
		value, err = loadDir(ctx, path)
		if err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading config: %v", err)}
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
		if err := value.Err(); err != nil {
			return nil, formatCUEError(ErrCodeParse, err)
		}
	}
	return decode(ctx, value)
}

func loadDir(ctx *cue.Context, dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, &Error{Code: ErrCodeInstances, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, &Error{Code: ErrCodeInstances, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(ErrCodeParse, err)
	}
	return value, nil
}

// decode unifies value with the schema and extracts the concrete result.
func decode(ctx *cue.Context, value cue.Value) (*Config, error) {
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(ErrCodeParse, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}
	return &cfg, nil
}

// formatCUEError returns the first CUE error with its position.
func formatCUEError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: code, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}

// EngineConfig converts the file form into an engine configuration. Settings the
// file does not expose keep their engine defaults.
func (c *Config) EngineConfig() (engine.Config, error) {
	ec := engine.DefaultConfig()
	p := durationParser{}

	for i, w := range []Window{c.Windows.Micro, c.Windows.Meso, c.Windows.Macro} {
		name := ir.Scale(i).String()
		ec.Window.Scales[i].Size = p.parse("windows."+name+".size", w.Size)
		ec.Window.Scales[i].Hop = p.parse("windows."+name+".hop", w.Hop)
	}
	ec.Window.HighRate = c.Windows.HighRate
	ec.Window.LowRate = c.Windows.LowRate

	ec.Graph.SessionLambda = c.Decay.SessionLambda
	ec.Graph.CoreLambda = c.Decay.CoreLambda
	ec.DecayInterval = p.parse("decay.interval", c.Decay.Interval)

	ec.Graph.Alpha[ir.Succession] = c.Alpha.Succession
	ec.Graph.Alpha[ir.CoOccurrence] = c.Alpha.CoOccurrence
	ec.Graph.Alpha[ir.Causal] = c.Alpha.Causal
	ec.Graph.Alpha[ir.Inhibition] = c.Alpha.Inhibition

	ec.Graph.WeightFloor = c.Prune.WeightFloor
	ec.Graph.MaxOutDegree = c.Prune.MaxOutDegree
	ec.Graph.EdgeCeiling = c.Prune.EdgeCeiling

	ec.Stability.MinStability = c.Stability.MinStability
	ec.Stability.MinSessions = c.Stability.MinSessions
	ec.Stability.MinSignificantSessions = c.Stability.MinSignificantSessions
	ec.Stability.MinLift = c.Stability.MinLift
	ec.Stability.SessionDecay = c.Stability.SessionDecay
	ec.Stability.MinPrevalence = c.Stability.MinPrevalence
	ec.Stability.MaxPValue = c.Stability.MaxPValue
	ec.Stability.Permutations = c.Stability.Permutations
	ec.Stability.DuplicateSimilarity = c.Stability.DuplicateSimilarity

	ec.Memory.SessionBytes = c.Memory.SessionBytes
	ec.Memory.CoreBytes = c.Memory.CoreBytes
	ec.Memory.MaxNodes = c.Memory.MaxNodes
	ec.Memory.MaxEdges = c.Memory.MaxEdges
	ec.Memory.AnalysisEvents = c.Memory.AnalysisEvents
	ec.Memory.RecoverRatio = c.Memory.RecoverRatio

	ec.QueueCapacity = c.Engine.QueueCapacity
	ec.Workers = c.Engine.Workers
	ec.OutOfOrderTolerance = p.parse("engine.out_of_order_tolerance", c.Engine.OutOfOrderTolerance)
	ec.CoreMergeFactor = c.Engine.CoreMergeFactor
	ec.SnapshotRetries = c.Engine.SnapshotRetries

	if err := errors.Join(p.errs...); err != nil {
		return engine.Config{}, &Error{Code: ErrCodeInvalid, Message: err.Error()}
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, &Error{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return ec, nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type durationParser struct {
	errs []error
}

func (p *durationParser) parse(field, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", field, err))
	}
	return d
}
