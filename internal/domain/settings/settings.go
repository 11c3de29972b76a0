// Package settings persists user preferences.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// StorageKey is the KV key holding the settings document.
const StorageKey = "nexus_settings"

// AppSettings are the user preferences. Email and phone number are passed to
// the generator as context when set.
type AppSettings struct {
	TTSEnabled      bool   `json:"ttsEnabled"`
	AutoDownload    bool   `json:"autoDownload"`
	UserEmail       string `json:"userEmail"`
	UserPhoneNumber string `json:"userPhoneNumber"`
}

// Defaults returns the settings used before anything is saved.
func Defaults() AppSettings {
	return AppSettings{TTSEnabled: true}
}

// Validate checks the contact fields.
func (s AppSettings) Validate() error {
	if err := validation.ValidateEmail(s.UserEmail); err != nil {
		return err
	}
	return validation.ValidatePhone(s.UserPhoneNumber)
}

// Store loads and saves AppSettings.
type Store struct {
	kv     storage.KV
	logger *zap.Logger

	mu      sync.RWMutex
	current AppSettings
}

// NewStore loads the saved settings, merged over the defaults. Unreadable
// settings fall back to the defaults.
func NewStore(ctx context.Context, kv storage.KV, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{kv: kv, logger: logger, current: Defaults()}

	raw, err := kv.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		merged := Defaults()
		if err := json.Unmarshal(raw, &merged); err != nil {
			logger.Warn("stored settings unreadable, using defaults", zap.Error(err))
		} else {
			s.current = merged
		}
	}
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates and persists next.
func (s *Store) Save(ctx context.Context, next AppSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Put(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.current = next
	return nil
}

// Reset drops the saved settings and returns to the defaults.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("reset settings: %w", err)
	}
	s.current = Defaults()
	return nil
}
