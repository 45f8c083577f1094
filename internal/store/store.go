package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrSchemaTooNew is returned when a database was written by a newer
// build whose schema this one does not know.
var ErrSchemaTooNew = errors.New("store: schema newer than this build")

// schemaStep upgrades the database to version. Steps run in order, each
// in its own transaction together with the user_version bump.
type schemaStep struct {
	version int
	name    string
	stmt    string
}

var schemaSteps = []schemaStep{
	{1, "snapshot, motif and session tables", schemaSQL},
	// ListMotifs filters on state for the stable and promoted listings.
	{2, "motif state index", `CREATE INDEX IF NOT EXISTS idx_motifs_state ON motifs(state, id)`},
	// ListSessions orders by start time.
	{3, "session start index", `CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at, id)`},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int {
	return schemaSteps[len(schemaSteps)-1].version
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string

	// BusyTimeout bounds how long a write waits for the lock; zero means
	// five seconds.
	BusyTimeout time.Duration

	// SyncFull fsyncs every commit (synchronous=FULL) instead of only WAL
	// checkpoints (synchronous=NORMAL).
	SyncFull bool

	Logger *slog.Logger
}

// Store is the SQLite snapshot store. Connections run in WAL mode so
// inspect can read while a session writes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ SnapshotStore = (*Store)(nil)

// Open opens or creates the SQLite store at path with the default
// configuration.
func Open(path string) (*Store, error) {
	return OpenSQLite(SQLiteConfig{Path: path})
}

// OpenSQLite opens or creates a SQLite store and migrates it to the
// current schema. Opening an up-to-date store changes nothing.
func OpenSQLite(cfg SQLiteConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
	}
	// One writer at a time; the pragmas in the DSN apply per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(cfg SQLiteConfig) string {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sync := "NORMAL"
	if cfg.SyncFull {
		sync = "FULL"
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", sync)
	q.Set("_busy_timeout", fmt.Sprint(timeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// migrate applies the schema steps above the stored user_version.
func (s *Store) migrate(ctx context.Context) error {
	have, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	if have > SchemaVersion() {
		return fmt.Errorf("migrate: database at version %d, build knows %d: %w", have, SchemaVersion(), ErrSchemaTooNew)
	}
	for _, step := range schemaSteps {
		if step.version <= have {
			continue
		}
		if err := s.applyStep(ctx, step); err != nil {
			return err
		}
		s.logger.Debug("store schema migrated", "version", step.version, "step", step.name)
	}
	return nil
}

func (s *Store) applyStep(ctx context.Context, step schemaStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v%d: %w", step.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, step.stmt); err != nil {
		return fmt.Errorf("migrate to v%d (%s): %w", step.version, step.name, err)
	}
	// PRAGMA takes no bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.version)); err != nil {
		return fmt.Errorf("migrate to v%d: set user_version: %w", step.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v%d: %w", step.version, err)
	}
	return nil
}

func (s *Store) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
