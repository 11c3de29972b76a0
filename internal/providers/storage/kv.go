// Package storage provides the durable key-value store behind the version
// store, the conduit log and the settings.
//
// Three backends implement KV:
//   - badger (default): embedded LSM store, single process
//   - sqlite: one kv table in a WAL database; several processes may share the
//     file, and Watch reports writes made by other processes
//   - memory: process-local map for tests and ephemeral runs
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// UpdateFunc receives the current value (nil when absent) and returns the new
// value. Returning a nil value deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// KV is a byte-oriented key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Update runs fn inside a single read-modify-write transaction.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Clear removes every key.
	Clear(ctx context.Context) error
	Close() error
}

// Watcher is implemented by backends that can detect writes made outside
// this process.
type Watcher interface {
	Watch(ctx context.Context, opts WatchOptions) <-chan struct{}
}

// Driver names accepted by Open.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	Path   string
}

// Open opens the backend named by cfg.Driver.
func Open(cfg Config) (KV, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverBadger:
		db, err := OpenBadger(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverSQLite:
		db, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
