package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/eresion/internal/config"
	"github.com/roach88/eresion/internal/store"
)

// loadConfig returns the configuration named by --config, or the schema
// defaults when the flag is empty.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

// newLogger builds the command logger. --verbose forces debug; otherwise
// the configured level applies.
func newLogger(opts *RootOptions, cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured snapshot store. path overrides the
// configured path when non-empty.
func openStore(cfg *config.Config, path string, logger *slog.Logger) (store.SnapshotStore, error) {
	if path == "" {
		path = cfg.Store.Path
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.OpenSQLite(store.SQLiteConfig{Path: path, Logger: logger})
	case "badger":
		return store.OpenBadger(store.BadgerConfig{Path: path, SyncWrites: true, Logger: logger})
	case "memory":
		return store.OpenBadgerInMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func closeStore(st store.SnapshotStore, logger *slog.Logger) {
	if err := st.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	}
}
