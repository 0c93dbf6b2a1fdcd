// Package settings persists the flat client preferences record.
package settings

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/storage"
)

// Store loads and saves the settings blob. Load never fails: a missing or
// corrupt stored record yields pure defaults.
type Store struct {
	mu  sync.Mutex
	kv  storage.Store
	log *zap.Logger
}

func NewStore(kv storage.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, log: log}
}

// Load returns defaults merged with any persisted overrides. Keys present in
// the stored blob win; everything else keeps its default.
func (s *Store) Load() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	defaults := models.DefaultSettings()
	data, err := s.kv.Get(storage.KeySettings)
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("load settings", zap.Error(err))
		}
		return defaults
	}
	// Unmarshal over the defaults value: stored keys overwrite, missing keys
	// keep the default.
	merged := defaults
	if err := json.Unmarshal(data, &merged); err != nil {
		s.log.Warn("corrupt settings record, using defaults", zap.Error(err))
		return defaults
	}
	return merged
}

// Save persists the full settings record.
func (s *Store) Save(rec models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Put(storage.KeySettings, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Reset restores and persists defaults, returning them.
func (s *Store) Reset() (models.Settings, error) {
	defaults := models.DefaultSettings()
	if err := s.Save(defaults); err != nil {
		return defaults, err
	}
	return defaults, nil
}
