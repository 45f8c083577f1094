package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/eresion/internal/graph"
	"github.com/roach88/eresion/internal/ir"
)

// Sentinel errors returned by every backend.
var (
	ErrNoSnapshot       = errors.New("store: no snapshot")
	ErrVersionMismatch  = errors.New("store: snapshot version mismatch")
	ErrChecksumMismatch = errors.New("store: snapshot checksum mismatch")
)

// Header identifies a snapshot.
type Header struct {
	Version       int       `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	Checksum      string    `json:"checksum"`
	EngineVersion string    `json:"engine_version"`
}

// CoreGraph is the persisted core tier.
type CoreGraph struct {
	Nodes []graph.CoreNode `json:"nodes"`
	Edges []graph.CoreEdge `json:"edges"`
}

// Snapshot is the persisted engine state.
type Snapshot struct {
	Header    Header     `json:"header"`
	CoreGraph CoreGraph  `json:"core_graph"`
	Motifs    []ir.Motif `json:"motifs"`
}

// body is the checksummed part of a snapshot.
type body struct {
	CoreGraph CoreGraph  `json:"core_graph"`
	Motifs    []ir.Motif `json:"motifs"`
}

// SessionRecord describes one session.
type SessionRecord struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended,omitzero"`
	Events  int64     `json:"events"`
	Dropped int       `json:"dropped"`
	Motifs  int       `json:"motifs"`
}

// SnapshotStore is implemented by every persistence backend.
type SnapshotStore interface {
	// SaveSnapshot encodes and stores snap, filling in its header, and
	// returns the sequence number it was stored under.
	SaveSnapshot(ctx context.Context, snap *Snapshot) (int64, error)

	// LatestSnapshot returns the most recent snapshot or ErrNoSnapshot.
	LatestSnapshot(ctx context.Context) (*Snapshot, error)

	// UpsertMotif stores m unless a newer version is already stored.
	UpsertMotif(ctx context.Context, m ir.Motif) error

	// ListMotifs returns stored motifs in the given states ordered by ID.
	// No states means every state.
	ListMotifs(ctx context.Context, states ...ir.MotifState) ([]ir.Motif, error)

	RecordSession(ctx context.Context, rec SessionRecord) error
	ListSessions(ctx context.Context) ([]SessionRecord, error)

	Close() error
}

// Encode fills in the snapshot header and returns its JSON encoding.
func Encode(snap *Snapshot) ([]byte, error) {
	b, err := marshalJSON(body{CoreGraph: snap.CoreGraph, Motifs: snap.Motifs})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot body: %w", err)
	}
	snap.Header.Version = ir.SnapshotVersion
	snap.Header.Checksum = ir.SnapshotChecksum(b)
	if snap.Header.EngineVersion == "" {
		snap.Header.EngineVersion = ir.EngineVersion
	}
	if snap.Header.Timestamp.IsZero() {
		snap.Header.Timestamp = time.Now().UTC()
	}
	data, err := marshalJSON(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot and verifies its version and checksum.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Header.Version != ir.SnapshotVersion {
		return nil, fmt.Errorf("decode snapshot: have version %d, want %d: %w",
			snap.Header.Version, ir.SnapshotVersion, ErrVersionMismatch)
	}
	b, err := marshalJSON(body{CoreGraph: snap.CoreGraph, Motifs: snap.Motifs})
	if err != nil {
		return nil, fmt.Errorf("decode snapshot body: %w", err)
	}
	if sum := ir.SnapshotChecksum(b); sum != snap.Header.Checksum {
		return nil, fmt.Errorf("decode snapshot: checksum %.12s, header %.12s: %w",
			sum, snap.Header.Checksum, ErrChecksumMismatch)
	}
	return &snap, nil
}
