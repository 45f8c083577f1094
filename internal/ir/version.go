package ir

// Version constants for the snapshot format and engine.
const (
	// SnapshotVersion is the persisted snapshot format version.
	SnapshotVersion = 1

	// EngineVersion is the eresion engine version.
	EngineVersion = "0.1.0"
)
