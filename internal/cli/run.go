package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/eresion/internal/engine"
	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Session     string
	StorePath   string
	Fresh       bool
	Sync        bool
	MetricsAddr string

	// IDGenerator overrides session id generation (for testing).
	IDGenerator engine.IDGenerator
}

// RunResult is the summary printed when a run ends.
type RunResult struct {
	Session  store.SessionRecord `json:"session"`
	Restored int                 `json:"restored"`
	Lines    int                 `json:"lines"`
	Stats    engine.Stats        `json:"stats"`
}

// eventLine is one line of the JSON-lines input.
type eventLine struct {
	At        string             `json:"at"`
	Type      string             `json:"type"`
	Intensity *float64           `json:"intensity"`
	Features  map[string]float64 `json:"features"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [events.jsonl]",
		Short: "Feed one session of events through the engine",
		Long: `Feed a session of events through the engine and persist what it learned.

Events are read as JSON lines from the given file, or stdin when no file
is named. Each line holds a stream offset, a domain/name type and an
optional intensity (default 1) and feature map:

  {"at": "120ms", "type": "game/attack", "intensity": 0.8}

Blank lines and lines starting with # are skipped. The latest snapshot is
merged in before the session starts; the session record and a new
snapshot are written when input ends or on Ctrl-C.

Examples:
  eresion run session.jsonl
  eresion run --config eresion.cue --session warmup < session.jsonl
  eresion run --metrics-addr :9090 --format json session.jsonl`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (generated when empty)")
	cmd.Flags().StringVar(&opts.StorePath, "store", "", "store path, overriding the configured one")
	cmd.Flags().BoolVar(&opts.Fresh, "fresh", false, "do not merge the latest snapshot before the session")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "analyze windows inline instead of on background workers")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	return cmd
}

func runSession(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	ecfg.Synchronous = opts.Sync
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open events", err)
		}
		defer f.Close()
		in = f
	}

	st, err := openStore(cfg, opts.StorePath, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st, logger)

	engOpts := []engine.Option{engine.WithStore(st), engine.WithLogger(logger)}
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng, err := engine.New(ecfg, engOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	defer eng.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	result := RunResult{}
	if !opts.Fresh {
		n, err := eng.LoadSnapshot(parentCtx)
		switch {
		case errors.Is(err, store.ErrNoSnapshot):
			logger.Info("no snapshot to restore")
		case err != nil:
			return WrapExitError(ExitCommandError, "failed to load snapshot", err)
		default:
			result.Restored = n
			formatter.VerboseLog("Restored %d motif(s) from snapshot", n)
		}
	}

	if opts.MetricsAddr != "" {
		stopMetrics := serveMetrics(opts.MetricsAddr, logger)
		defer stopMetrics()
	}

	id, err := eng.StartSession(opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start session", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, ending session", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The feeder reports before it stops the engine, so when it ends the
	// run its result is already buffered. After a signal it may still be
	// blocked on input and is abandoned.
	fed := make(chan feedResult, 1)
	go func() {
		n, err := feedEvents(ctx, in, eng)
		fed <- feedResult{lines: n, err: err}
		if err != nil {
			cancel()
		}
		eng.Stop()
	}()

	runErr := eng.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	select {
	case fr := <-fed:
		result.Lines = fr.lines
		if runErr == nil {
			runErr = fr.err
		}
	default:
	}

	// The session is closed even after a bad line or a signal so that what
	// was learned is persisted.
	rec, err := eng.EndSession(context.WithoutCancel(ctx))
	if err != nil {
		if rec.ID == "" {
			return WrapExitError(ExitFailure, "failed to end session", err)
		}
		logger.Error("session persisted partially", "session", id, "error", err)
	}
	result.Session = rec
	result.Stats = eng.Stats()

	if runErr != nil {
		var lineErr *lineError
		if errors.As(runErr, &lineErr) {
			_ = formatter.Error(ErrCodeInput, lineErr.Error(), map[string]int{"line": lineErr.Line})
			return WrapExitError(ExitCommandError, "invalid event input", runErr)
		}
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	return formatter.Success(result, formatRunResult(result))
}

type feedResult struct {
	lines int
	err   error
}

type lineError struct {
	Line int
	Err  error
}

func (e *lineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *lineError) Unwrap() error {
	return e.Err
}

// feedEvents enqueues every event line read from r and returns the number
// of lines read.
func feedEvents(ctx context.Context, r io.Reader, eng *engine.Engine) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return line, nil
		}
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ev, err := parseEventLine([]byte(text))
		if err != nil {
			return line, &lineError{Line: line, Err: err}
		}
		if !eng.Enqueue(ev) {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return line, fmt.Errorf("reading events: %w", err)
	}
	return line, nil
}

func parseEventLine(data []byte) (ir.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var l eventLine
	if err := dec.Decode(&l); err != nil {
		return ir.Event{}, fmt.Errorf("decode event: %w", err)
	}
	at, err := time.ParseDuration(l.At)
	if err != nil {
		return ir.Event{}, fmt.Errorf("at: %w", err)
	}
	domain, name, ok := strings.Cut(l.Type, "/")
	if !ok {
		return ir.Event{}, fmt.Errorf("type %q must be domain/name", l.Type)
	}
	intensity := 1.0
	if l.Intensity != nil {
		intensity = *l.Intensity
	}
	return ir.NewEvent(at, domain, name, intensity, l.Features), nil
}

func serveMetrics(addr string, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func formatRunResult(r RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %d events, %d dropped\n", r.Session.ID, r.Session.Events, r.Session.Dropped)
	s := r.Stats
	fmt.Fprintf(&b, "Motifs: %d (%d stable, %d promoted)\n", s.Motifs, s.Stable, s.Promoted)
	fmt.Fprintf(&b, "Graph: %d nodes, %d edges (%d core)\n", s.Graph.Nodes, s.Graph.Edges, s.Graph.CoreEdges)
	if s.Tempo.Known() {
		fmt.Fprintf(&b, "Tempo: %v (%.1f bpm)\n", s.Tempo.Period, s.Tempo.BPM)
	} else {
		b.WriteString("Tempo: unknown\n")
	}
	fmt.Fprintf(&b, "Degradation: %s", s.Level)
	return b.String()
}
