package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pthm-cable/evosim/game"
)

// EncodeSnapshot serializes s as JSON.
func EncodeSnapshot(s *game.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil snapshot")
	}
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot and checks its format version.
func DecodeSnapshot(data []byte) (*game.Snapshot, error) {
	var s game.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Version != game.SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", game.ErrSnapshotVersion, s.Version)
	}
	return &s, nil
}
