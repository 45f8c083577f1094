package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

const backendSQLite = "sqlite"

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SaveSnapshot encodes snap and appends it to the snapshots table.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) (seq int64, err error) {
	defer observe(backendSQLite, "save_snapshot", time.Now(), &err)

	data, err := Encode(snap)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (version, created_at, checksum, engine_version, body)
		VALUES (?, ?, ?, ?, ?)
	`,
		snap.Header.Version,
		formatTime(snap.Header.Timestamp),
		snap.Header.Checksum,
		snap.Header.EngineVersion,
		data,
	)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	seq, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return seq, nil
}

// UpsertMotif inserts or replaces a motif row. A row already holding a
// newer registry version is left untouched.
func (s *Store) UpsertMotif(ctx context.Context, m ir.Motif) (err error) {
	defer observe(backendSQLite, "upsert_motif", time.Now(), &err)

	body, err := marshalMotif(m)
	if err != nil {
		return fmt.Errorf("upsert motif: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO motifs (id, state, scale, stability, version, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			scale = excluded.scale,
			stability = excluded.stability,
			version = excluded.version,
			body = excluded.body,
			updated_at = excluded.updated_at
		WHERE excluded.version >= motifs.version
	`,
		m.ID,
		m.State.String(),
		m.Scale.String(),
		m.Stability,
		int64(m.Version),
		body,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert motif %s: %w", shortID(m.ID), err)
	}
	return nil
}

// RecordSession inserts or updates a session row.
func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) (err error) {
	defer observe(backendSQLite, "record_session", time.Now(), &err)

	var ended sql.NullString
	if !rec.Ended.IsZero() {
		ended = sql.NullString{String: formatTime(rec.Ended), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, ended_at, events, dropped, motifs)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			events = excluded.events,
			dropped = excluded.dropped,
			motifs = excluded.motifs
	`,
		rec.ID,
		formatTime(rec.Started),
		ended,
		rec.Events,
		rec.Dropped,
		rec.Motifs,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	return nil
}
