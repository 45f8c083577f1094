package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"snapshots", "motifs", "sessions"} {
		if !hasSchemaObject(t, s, "table", table) {
			t.Errorf("table %q not found after repeated opens", table)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	tests := []struct {
		name string
		cfg  SQLiteConfig
		want map[string]string
	}{
		{
			name: "defaults",
			want: map[string]string{"journal_mode": "wal", "synchronous": "1", "busy_timeout": "5000", "foreign_keys": "1"},
		},
		{
			name: "durable",
			cfg:  SQLiteConfig{SyncFull: true, BusyTimeout: 250 * time.Millisecond},
			want: map[string]string{"synchronous": "2", "busy_timeout": "250"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Path = filepath.Join(t.TempDir(), "test.db")
			s, err := OpenSQLite(cfg)
			if err != nil {
				t.Fatalf("OpenSQLite() failed: %v", err)
			}
			defer s.Close()

			for name, want := range tt.want {
				if got := pragma(t, s, name); got != want {
					t.Errorf("%s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestMigrate_FreshDatabase(t *testing.T) {
	s := createTestStore(t)

	version, err := s.userVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion() {
		t.Errorf("user_version = %d, want %d", version, SchemaVersion())
	}
	for _, index := range []string{"idx_motifs_state", "idx_sessions_started"} {
		if !hasSchemaObject(t, s, "index", index) {
			t.Errorf("index %q not created", index)
		}
	}
}

func TestMigrate_UpgradesFromBaseTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.UpsertMotif(context.Background(), createTestMotif("m1", ir.StateStable, 1)); err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"DROP INDEX idx_motifs_state",
		"DROP INDEX idx_sessions_started",
		"PRAGMA user_version = 1",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	for _, index := range []string{"idx_motifs_state", "idx_sessions_started"} {
		if !hasSchemaObject(t, s, "index", index) {
			t.Errorf("migration did not recreate %q", index)
		}
	}
	motifs, err := s.ListMotifs(context.Background(), ir.StateStable)
	if err != nil {
		t.Fatal(err)
	}
	if len(motifs) != 1 || motifs[0].ID != "m1" {
		t.Errorf("motifs after migration = %v, want m1", motifs)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("Open() error = %v, want ErrSchemaTooNew", err)
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("LatestSnapshot() on empty store = %v, want ErrNoSnapshot", err)
	}

	first := createTestSnapshot()
	seq1, err := s.SaveSnapshot(ctx, first)
	if err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}
	second := createTestSnapshot()
	second.Motifs = second.Motifs[:1]
	seq2, err := s.SaveSnapshot(ctx, second)
	if err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}
	if seq2 <= seq1 {
		t.Errorf("sequence did not advance: %d then %d", seq1, seq2)
	}

	got, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot() failed: %v", err)
	}
	if got.Header.Checksum != second.Header.Checksum {
		t.Errorf("latest checksum = %s, want %s", got.Header.Checksum, second.Header.Checksum)
	}
	if len(got.Motifs) != 1 {
		t.Errorf("latest has %d motifs, want 1", len(got.Motifs))
	}

	n, err := s.SnapshotCount(ctx)
	if err != nil {
		t.Fatalf("SnapshotCount() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("SnapshotCount() = %d, want 2", n)
	}
}

func TestStore_RejectsTamperedSnapshot(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	if _, err := s.SaveSnapshot(ctx, createTestSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE snapshots SET body = replace(body, '0.82', '0.99')`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("LatestSnapshot() = %v, want ErrChecksumMismatch", err)
	}
}

func TestStore_UpsertMotifKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	if err := s.UpsertMotif(ctx, createTestMotif("m1", ir.StateStable, 5)); err != nil {
		t.Fatalf("UpsertMotif() failed: %v", err)
	}
	if err := s.UpsertMotif(ctx, createTestMotif("m1", ir.StatePromoted, 6)); err != nil {
		t.Fatalf("UpsertMotif() failed: %v", err)
	}
	if err := s.UpsertMotif(ctx, createTestMotif("m1", ir.StateReinforced, 2)); err != nil {
		t.Fatalf("UpsertMotif() with older version failed: %v", err)
	}
	if err := s.UpsertMotif(ctx, createTestMotif("m0", ir.StateCandidate, 1)); err != nil {
		t.Fatalf("UpsertMotif() failed: %v", err)
	}

	all, err := s.ListMotifs(ctx)
	if err != nil {
		t.Fatalf("ListMotifs() failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "m0" || all[1].ID != "m1" {
		t.Fatalf("ListMotifs() = %+v, want m0, m1", all)
	}
	if all[1].State != ir.StatePromoted || all[1].Version != 6 {
		t.Errorf("m1 = %s v%d, want promoted v6", all[1].State, all[1].Version)
	}

	promoted, err := s.ListMotifs(ctx, ir.StatePromoted, ir.StateStable)
	if err != nil {
		t.Fatalf("ListMotifs(states) failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0].ID != "m1" {
		t.Errorf("ListMotifs(promoted, stable) = %+v, want m1", promoted)
	}
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.RecordSession(ctx, SessionRecord{ID: "b", Started: start.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordSession() failed: %v", err)
	}
	if err := s.RecordSession(ctx, SessionRecord{ID: "a", Started: start}); err != nil {
		t.Fatalf("RecordSession() failed: %v", err)
	}
	end := SessionRecord{ID: "a", Started: start, Ended: start.Add(30 * time.Minute), Events: 120, Motifs: 2}
	if err := s.RecordSession(ctx, end); err != nil {
		t.Fatalf("RecordSession() update failed: %v", err)
	}

	got, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("ListSessions() = %+v, want a, b", got)
	}
	if !got[0].Ended.Equal(end.Ended) || got[0].Events != 120 || got[0].Motifs != 2 {
		t.Errorf("session a = %+v, want %+v", got[0], end)
	}
	if !got[1].Ended.IsZero() {
		t.Errorf("open session has end %v", got[1].Ended)
	}
}
