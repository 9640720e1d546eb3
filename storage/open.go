package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported backend names.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open constructs the named backend rooted at dataDir.
func Open(backend, dataDir string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory:
		return NewMemDB(), nil
	case "", BackendFile:
		db, err := NewFileDB(filepath.Join(dataDir, "store"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendLevelDB:
		db, err := NewLevelDB(filepath.Join(dataDir, "leveldb"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendBolt:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		db, err := NewBoltDB(filepath.Join(dataDir, "perq.bolt"))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
