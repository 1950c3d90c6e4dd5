package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tilesync.io/internal/persistence/indexdb"
	"tilesync.io/internal/persistence/snapshot"
	"tilesync.io/internal/sim/tuning"
	"tilesync.io/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.SessionLogger
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported TS_INDEX_BACKEND: %s", backend)
	}
}
