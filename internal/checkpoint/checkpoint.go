// Package checkpoint saves and restores run progress (capture sides and write
// cursors) so an interrupted replay can resume without duplicating output.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crowdtag/internal/anchors"
	"crowdtag/internal/infra/persistence/memory"
	"crowdtag/internal/infra/persistence/postgres"
	"crowdtag/internal/infra/persistence/sqlite"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown checkpoint driver")

// Driver names a checkpoint backend.
type Driver string

const (
	DriverNone     Driver = "none"
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config selects a backend and the bucket a run is saved under.
type Config struct {
	Driver Driver `toml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN    string `toml:"dsn"`
	Key    string `toml:"key"`
	Resume bool   `toml:"resume"`
}

// Snapshot is one saved checkpoint.
type Snapshot struct {
	RunID    string           `json:"run_id"`
	Frame    int              `json:"frame"`
	SavedAt  time.Time        `json:"saved_at"`
	Progress anchors.Progress `json:"progress"`
}

type backend interface {
	Load(ctx context.Context) (map[string][]byte, error)
	Save(ctx context.Context, bucket string, payload []byte) error
	Close() error
}

// Store reads and writes snapshots. The zero driver disables it: Save and
// Load succeed without doing anything.
type Store struct {
	b   backend
	key string
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	key := cfg.Key
	if key == "" {
		key = "crowdtag"
	}
	s := &Store{key: key}
	switch cfg.Driver {
	case "", DriverNone:
		return s, nil
	case DriverMemory:
		s.b = memory.NewStore()
	case DriverSQLite:
		b, err := sqlite.NewStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite checkpoint: %w", err)
		}
		s.b = b
	case DriverPostgres:
		b, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres checkpoint: %w", err)
		}
		s.b = b
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	return s, nil
}

// Enabled reports whether snapshots are persisted anywhere.
func (s *Store) Enabled() bool { return s != nil && s.b != nil }

// Load returns the last saved snapshot. ok is false when none exists.
func (s *Store) Load(ctx context.Context) (Snapshot, bool, error) {
	if !s.Enabled() {
		return Snapshot{}, false, nil
	}
	buckets, err := s.b.Load(ctx)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	raw, ok := buckets[s.key]
	if !ok {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode checkpoint %s: %w", s.key, err)
	}
	return snap, true, nil
}

// Save replaces the stored snapshot.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.b.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.b.Close()
}
