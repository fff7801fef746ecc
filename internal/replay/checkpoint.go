package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"creatorswap/internal/storage/postgres"
)

// StateStore persists the last applied operation line.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, line uint64) error
}

// Checkpoint is the on-disk form of a FileStateStore.
type Checkpoint struct {
	LastAppliedLine uint64 `json:"last_applied_line"`
	UpdatedAt       string `json:"updated_at"`
}

// FileStateStore stores state in a local JSON file. An empty path disables
// it.
type FileStateStore struct {
	Path string
}

func (s *FileStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Path == "" {
		return 0, false, nil
	}

	stat, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp.LastAppliedLine, true, nil
}

func (s *FileStateStore) Save(ctx context.Context, line uint64) error {
	if s == nil || s.Path == "" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		LastAppliedLine: line,
		UpdatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// DBStateStore stores state in the replay_state table.
type DBStateStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Store == nil {
		return 0, false, nil
	}
	return s.Store.LoadState(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, line uint64) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, s.Name, line)
}
