// Package version keeps the ordered history of generated documents.
//
// The newest version sits at index 0 and is the one the runtime renders. The
// whole history is persisted as a single JSON array under StorageKey after
// every change. The store never holds fewer than one version.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/sentinel"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/id"
)

// StorageKey is the KV key holding the serialized history.
const StorageKey = "nexus_core_singularity_v7"

// Store is the durable version history.
type Store struct {
	mu       sync.RWMutex
	kv       storage.KV
	logger   *zap.Logger
	now      func() time.Time
	versions []Version

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for new versions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore loads the history from kv. A missing or unreadable history starts
// fresh from genesis.
func NewStore(ctx context.Context, kv storage.KV, opts ...Option) (*Store, error) {
	s := &Store{
		kv:     kv,
		logger: zap.NewNop(),
		now:    time.Now,
		subs:   make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := kv.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.versions = []Version{s.genesis()}
	case err != nil:
		return nil, fmt.Errorf("load versions: %w", err)
	default:
		versions, derr := decodeHistory(raw)
		if derr != nil {
			s.logger.Warn("stored history unreadable, starting from genesis", zap.Error(derr))
			versions = []Version{s.genesis()}
		}
		s.versions = versions
	}
	return s, nil
}

// Genesis returns the bootstrap version.
func Genesis(now time.Time) Version {
	return Version{
		ID:          GenesisID,
		Timestamp:   now.UnixMilli(),
		Description: GenesisDescription,
		Code:        sentinel.Sanitize(InitialCode),
		IsStable:    true,
	}
}

func (s *Store) genesis() Version {
	return Genesis(s.now())
}

// New builds an unsaved version with a fresh id and timestamp.
func (s *Store) New(code, description string, stable bool) Version {
	return Version{
		ID:          id.NewVersionID().String(),
		Timestamp:   s.now().UnixMilli(),
		Description: description,
		Code:        code,
		IsStable:    stable,
	}
}

// Current returns the head version.
func (s *Store) Current() Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[0]
}

// List returns a copy of the history, newest first.
func (s *Store) List() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Version, len(s.versions))
	copy(out, s.versions)
	return out
}

// Len returns the number of versions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}

// Get looks up a version by id.
func (s *Store) Get(versionID string) (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.ID == versionID {
			return v, true
		}
	}
	return Version{}, false
}

// Append makes v the new head.
func (s *Store) Append(ctx context.Context, v Version) error {
	s.mu.Lock()
	next := make([]Version, 0, len(s.versions)+1)
	next = append(next, v)
	next = append(next, s.versions...)
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.versions = next
	change := Change{Kind: ChangeAppend, Head: v, Len: len(next)}
	s.mu.Unlock()

	s.logger.Debug("version appended",
		zap.String("id", v.ID),
		zap.Bool("stable", v.IsStable),
		zap.Int("len", change.Len))
	s.notify(change)
	return nil
}

// Rollback removes the head. The last remaining version is never removed; in
// that case removed is nil and err is nil.
func (s *Store) Rollback(ctx context.Context) (*Version, error) {
	s.mu.Lock()
	if len(s.versions) <= 1 {
		s.mu.Unlock()
		return nil, nil
	}
	removed := s.versions[0]
	next := make([]Version, len(s.versions)-1)
	copy(next, s.versions[1:])
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.versions = next
	change := Change{Kind: ChangeRollback, Head: next[0], Removed: &removed, Len: len(next)}
	s.mu.Unlock()

	s.logger.Info("version rolled back",
		zap.String("removed", removed.ID),
		zap.String("head", change.Head.ID))
	s.notify(change)
	return &removed, nil
}

// Import replaces the whole history with an archive. The archive must be a
// JSON array whose first element is an object with a code field.
func (s *Store) Import(ctx context.Context, data []byte) error {
	versions, err := decodeHistory(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.persist(ctx, versions); err != nil {
		s.mu.Unlock()
		return err
	}
	s.versions = versions
	change := Change{Kind: ChangeImport, Head: versions[0], Len: len(versions)}
	s.mu.Unlock()

	s.logger.Info("history imported", zap.Int("len", change.Len))
	s.notify(change)
	return nil
}

// Export serializes the history as an indented JSON array.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.versions, "", "  ")
}

// Reset drops the history and starts again from genesis.
func (s *Store) Reset(ctx context.Context) error {
	g := s.genesis()

	s.mu.Lock()
	if err := s.kv.Delete(ctx, StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.mu.Unlock()
		return fmt.Errorf("reset versions: %w", err)
	}
	s.versions = []Version{g}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReset, Head: g, Len: 1})
	return nil
}

// Subscribe registers fn for every change. Callbacks run synchronously on the
// mutating goroutine, after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, key)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) persist(ctx context.Context, versions []Version) error {
	data, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("encode versions: %w", err)
	}
	if err := s.kv.Put(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("persist versions: %w", err)
	}
	return nil
}

// decodeHistory validates and decodes an archive.
func decodeHistory(data []byte) ([]Version, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrInvalidArchive)
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(elems[0], &first); err != nil {
		return nil, fmt.Errorf("%w: first entry is not an object", ErrInvalidArchive)
	}
	if _, ok := first["code"]; !ok {
		return nil, fmt.Errorf("%w: first entry has no code", ErrInvalidArchive)
	}

	versions := make([]Version, len(elems))
	for i, e := range elems {
		if err := json.Unmarshal(e, &versions[i]); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidArchive, i, err)
		}
	}
	return versions, nil
}
