package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	StorePath string
	States    []string
}

// InspectResult is the stored state of an engine.
type InspectResult struct {
	Snapshot  *store.Header         `json:"snapshot,omitempty"`
	CoreNodes int                   `json:"core_nodes"`
	CoreEdges int                   `json:"core_edges"`
	Motifs    []ir.Motif            `json:"motifs"`
	Sessions  []store.SessionRecord `json:"sessions"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the persisted snapshot, motifs and sessions",
		Long: `Show what the configured store holds: the latest snapshot header and
core graph size, the stored motifs, and the recorded sessions.

Examples:
  eresion inspect
  eresion inspect --config eresion.cue --state stable --state promoted
  eresion inspect --store ./eresion.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StorePath, "store", "", "store path, overriding the configured one")
	cmd.Flags().StringSliceVar(&opts.States, "state", nil, "only list motifs in these states")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var states []ir.MotifState
	for _, name := range opts.States {
		s, err := ir.ParseMotifState(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --state", err)
		}
		states = append(states, s)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	st, err := openStore(cfg, opts.StorePath, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st, logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := inspectStore(ctx, st, states)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read store", err)
	}

	if formatter.JSON() {
		return formatter.Success(result, "")
	}
	writeInspectText(cmd.OutOrStdout(), result)
	return nil
}

func inspectStore(ctx context.Context, st store.SnapshotStore, states []ir.MotifState) (*InspectResult, error) {
	result := &InspectResult{}

	snap, err := st.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
	case err != nil:
		return nil, fmt.Errorf("latest snapshot: %w", err)
	default:
		result.Snapshot = &snap.Header
		result.CoreNodes = len(snap.CoreGraph.Nodes)
		result.CoreEdges = len(snap.CoreGraph.Edges)
	}

	if result.Motifs, err = st.ListMotifs(ctx, states...); err != nil {
		return nil, fmt.Errorf("list motifs: %w", err)
	}
	if result.Sessions, err = st.ListSessions(ctx); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return result, nil
}

func writeInspectText(w io.Writer, r *InspectResult) {
	if r.Snapshot == nil {
		fmt.Fprintln(w, "Snapshot: none")
	} else {
		fmt.Fprintf(w, "Snapshot: v%d, engine %s, %s\n",
			r.Snapshot.Version, r.Snapshot.EngineVersion, r.Snapshot.Timestamp.Format("2006-01-02 15:04:05Z07:00"))
		fmt.Fprintf(w, "  Checksum: %s\n", truncateID(r.Snapshot.Checksum))
		fmt.Fprintf(w, "  Core: %d nodes, %d edges\n", r.CoreNodes, r.CoreEdges)
	}

	fmt.Fprintf(w, "\nMotifs: %d\n", len(r.Motifs))
	for _, m := range r.Motifs {
		fmt.Fprintf(w, "  %s %-10s %s\n", truncateID(m.ID), m.State, strings.Join(m.Labels, " -> "))
		fmt.Fprintf(w, "       stability %.2f, %d session(s), p=%.3f\n", m.Stability, m.SessionCount, m.PValue)
	}

	fmt.Fprintf(w, "\nSessions: %d\n", len(r.Sessions))
	for _, s := range r.Sessions {
		fmt.Fprintf(w, "  %s  %d events, %d dropped, %d motifs\n", s.ID, s.Events, s.Dropped, s.Motifs)
	}
}

// truncateID shortens a hash for display.
func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
