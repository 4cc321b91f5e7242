// Package storage persists simulation snapshots under caller-chosen keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pthm-cable/evosim/game"
)

var (
	// ErrNotInitialized is returned by stores used before Init.
	ErrNotInitialized = errors.New("store is not initialized")
	// ErrInvalidKey is returned for empty or path-like keys.
	ErrInvalidKey = errors.New("invalid snapshot key")
)

// Info describes a stored snapshot without its payload.
type Info struct {
	Key     string    `json:"key"`
	RunID   string    `json:"run_id"`
	Tick    int64     `json:"tick"`
	Agents  int       `json:"agents"`
	SavedAt time.Time `json:"saved_at"`
}

// Store saves and restores snapshots. Implementations are safe for
// concurrent use.
type Store interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, key string, s *game.Snapshot) error
	// Load returns false when no snapshot is stored under key.
	Load(ctx context.Context, key string) (*game.Snapshot, bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every stored snapshot ordered by key.
	List(ctx context.Context) ([]Info, error)
	Has(ctx context.Context, key string) (bool, error)
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func infoOf(key string, s *game.Snapshot, savedAt time.Time) Info {
	return Info{
		Key:     key,
		RunID:   s.RunID,
		Tick:    s.Tick,
		Agents:  len(s.Agents),
		SavedAt: savedAt,
	}
}
