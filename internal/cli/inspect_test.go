package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eresion/internal/ir"
	"github.com/roach88/eresion/internal/store"
)

func TestInspect_EmptyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "eresion.db")
	out, err := execute(t, "", "inspect", "--store", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot: none")
	assert.Contains(t, out, "Motifs: 0")
	assert.Contains(t, out, "Sessions: 0")
}

func TestInspectStore_FiltersByState(t *testing.T) {
	st, err := store.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	motifs := []ir.Motif{
		{ID: "aaaaaaaaaaaaaaaa", Labels: []string{"game/dodge", "game/attack"}, State: ir.StatePromoted, Version: 1},
		{ID: "bbbbbbbbbbbbbbbb", Labels: []string{"music/a", "music/b"}, State: ir.StateStable, Version: 1},
		{ID: "cccccccccccccccc", Labels: []string{"noise/t01", "noise/t02"}, State: ir.StateCandidate, Version: 1},
	}
	for _, m := range motifs {
		require.NoError(t, st.UpsertMotif(ctx, m))
	}
	require.NoError(t, st.RecordSession(ctx, store.SessionRecord{
		ID: "s1", Started: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Events: 39,
	}))
	_, err = st.SaveSnapshot(ctx, &store.Snapshot{Motifs: motifs[:1]})
	require.NoError(t, err)

	result, err := inspectStore(ctx, st, []ir.MotifState{ir.StateStable, ir.StatePromoted})
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, ir.SnapshotVersion, result.Snapshot.Version)
	require.Len(t, result.Motifs, 2)
	assert.Equal(t, "aaaaaaaaaaaaaaaa", result.Motifs[0].ID)
	assert.Equal(t, "bbbbbbbbbbbbbbbb", result.Motifs[1].ID)
	require.Len(t, result.Sessions, 1)

	all, err := inspectStore(ctx, st, nil)
	require.NoError(t, err)
	assert.Len(t, all.Motifs, 3)
}

func TestInspect_InvalidState(t *testing.T) {
	_, err := execute(t, "", "inspect", "--store", filepath.Join(t.TempDir(), "db"), "--state", "famous")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --state")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "0123456789ab", truncateID("0123456789abcdef"))
}
