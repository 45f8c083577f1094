package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/eresion/internal/ir"
)

// LatestSnapshot returns the most recently saved snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (snap *Snapshot, err error) {
	defer observe(backendSQLite, "latest_snapshot", time.Now(), &err)

	var data []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT body FROM snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return Decode(data)
}

// SnapshotCount returns the number of stored snapshots.
func (s *Store) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// ListMotifs returns stored motifs, ordered by ID.
func (s *Store) ListMotifs(ctx context.Context, states ...ir.MotifState) (motifs []ir.Motif, err error) {
	defer observe(backendSQLite, "list_motifs", time.Now(), &err)

	query := "SELECT body FROM motifs"
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, st := range states {
			marks[i] = "?"
			args = append(args, st.String())
		}
		query += " WHERE state IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query motifs: %w", err)
	}
	defer rows.Close()

	motifs = []ir.Motif{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan motif: %w", err)
		}
		m, err := unmarshalMotif(body)
		if err != nil {
			return nil, err
		}
		motifs = append(motifs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate motifs: %w", err)
	}
	return motifs, nil
}

// ListSessions returns every session, ordered by start time.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, events, dropped, motifs
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		var (
			rec     SessionRecord
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &started, &ended, &rec.Events, &rec.Dropped, &rec.Motifs); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if rec.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse session %s start: %w", rec.ID, err)
		}
		if ended.Valid {
			if rec.Ended, err = time.Parse(time.RFC3339Nano, ended.String); err != nil {
				return nil, fmt.Errorf("parse session %s end: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}
