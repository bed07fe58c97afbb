package store

import (
	"fmt"

	"chainq/db"
)

// StoreType represents the type of store backend
type StoreType string

const (
	// LevelDBStoreType uses the LevelDB backend
	LevelDBStoreType StoreType = "leveldb"

	// BoltStoreType uses the bbolt backend
	BoltStoreType StoreType = "bolt"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	// Type specifies which backend to use
	Type StoreType `json:"type" yaml:"type"`

	// Directory is the database directory path
	Directory string `json:"directory" yaml:"directory"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	if sc.Type == "" {
		return fmt.Errorf("store type cannot be empty")
	}

	if sc.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	switch sc.Type {
	case LevelDBStoreType, BoltStoreType:
		return nil
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
}

// TuningConfig carries backend and queue tuning knobs loaded from the
// tuning INI file. Zero values mean "use the default".
type TuningConfig struct {
	// WriteBufferMB sizes the LevelDB memtable
	WriteBufferMB int `ini:"write_buffer_mb"`

	// OpenFilesCache caps the LevelDB open file cache
	OpenFilesCache int `ini:"open_files_cache"`

	// WarnPendingBlocks logs a warning when the queue grows past this size
	WarnPendingBlocks int `ini:"warn_pending_blocks"`
}

// CreateProvider creates a database provider based on the configuration
func CreateProvider(config *StoreConfig, tuning *TuningConfig) (db.IterableProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch config.Type {
	case LevelDBStoreType:
		var opts *db.LevelDBOptions
		if tuning != nil {
			opts = &db.LevelDBOptions{
				WriteBufferMB:  tuning.WriteBufferMB,
				OpenFilesCache: tuning.OpenFilesCache,
			}
		}
		return db.NewLevelDBProvider(config.Directory, opts)

	case BoltStoreType:
		return db.NewBoltProvider(config.Directory)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// CreateQueueStore creates a QueueStore using the provider pattern
func CreateQueueStore(config *StoreConfig, tuning *TuningConfig) (QueueStore, error) {
	provider, err := CreateProvider(config, tuning)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	qs, err := NewQueueStore(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to create queue store: %w", err)
	}

	return qs, nil
}
