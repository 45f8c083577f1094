package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/eresion/internal/ir"
)

const backendBadger = "badger"

// Key prefixes. Snapshot keys carry a zero-padded sequence so they sort in
// save order.
const (
	prefixSnapshot = "snapshot/"
	prefixMotif    = "motif/"
	prefixSession  = "session/"
	keySequence    = "seq/snapshot"
)

// BadgerConfig holds configuration for a Badger-backed store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the key-value snapshot store.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ SnapshotStore = (*BadgerStore)(nil)

// OpenBadger opens a Badger store with the given configuration.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(keySequence), 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open snapshot sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// OpenBadgerInMemory opens an in-memory Badger store.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

// Close releases the sequence and closes the database.
func (b *BadgerStore) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.seq.Release()
	return errors.Join(err, b.db.Close())
}

// SaveSnapshot encodes snap under the next sequence number.
func (b *BadgerStore) SaveSnapshot(ctx context.Context, snap *Snapshot) (seq int64, err error) {
	defer observe(backendBadger, "save_snapshot", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := Encode(snap)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	next, err := b.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("save snapshot: next sequence: %w", err)
	}
	// Sequences start at zero; sqlite row IDs start at one.
	seq = int64(next) + 1
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return seq, nil
}

func snapshotKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSnapshot, seq))
}

// LatestSnapshot returns the snapshot with the highest sequence number.
func (b *BadgerStore) LatestSnapshot(ctx context.Context) (snap *Snapshot, err error) {
	defer observe(backendBadger, "latest_snapshot", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixSnapshot)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible key for a reverse scan.
		it.Seek(append([]byte(prefixSnapshot), 0xff))
		if !it.ValidForPrefix(opts.Prefix) {
			return ErrNoSnapshot
		}
		var err error
		data, err = it.Item().ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return nil, err
		}
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}
	return Decode(data)
}

// UpsertMotif stores m unless a newer version is stored.
func (b *BadgerStore) UpsertMotif(ctx context.Context, m ir.Motif) (err error) {
	defer observe(backendBadger, "upsert_motif", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := marshalMotif(m)
	if err != nil {
		return fmt.Errorf("upsert motif: %w", err)
	}
	key := []byte(prefixMotif + m.ID)
	err = b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var stored ir.Motif
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &stored) }); err != nil {
				return err
			}
			if stored.Version > m.Version {
				return nil
			}
		}
		return txn.Set(key, []byte(body))
	})
	if err != nil {
		return fmt.Errorf("upsert motif %s: %w", shortID(m.ID), err)
	}
	return nil
}

// ListMotifs returns stored motifs in the given states, ordered by ID.
func (b *BadgerStore) ListMotifs(ctx context.Context, states ...ir.MotifState) (motifs []ir.Motif, err error) {
	defer observe(backendBadger, "list_motifs", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	motifs = []ir.Motif{}
	err = b.scan(prefixMotif, func(v []byte) error {
		m, err := unmarshalMotif(v)
		if err != nil {
			return err
		}
		if len(states) == 0 || slices.Contains(states, m.State) {
			motifs = append(motifs, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list motifs: %w", err)
	}
	return motifs, nil
}

// RecordSession stores a session record, replacing any earlier one.
func (b *BadgerStore) RecordSession(ctx context.Context, rec SessionRecord) (err error) {
	defer observe(backendBadger, "record_session", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := marshalJSON(rec)
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSession+rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	return nil
}

// ListSessions returns every session, ordered by start time.
func (b *BadgerStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := []SessionRecord{}
	err := b.scan(prefixSession, func(v []byte) error {
		var rec SessionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	slices.SortStableFunc(records, func(a, b SessionRecord) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

// scan calls fn with each value under prefix in key order.
func (b *BadgerStore) scan(prefix string, fn func([]byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
