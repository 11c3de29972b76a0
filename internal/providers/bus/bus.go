// Package bus carries wake-up hints between conduit listeners.
//
// A hint says "the log changed, go look"; it never carries the data itself.
// Receivers must reconcile against the authoritative log, so dropped,
// duplicated or reordered hints are harmless.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("bus: closed")

// Handler receives a raw hint payload.
type Handler func(data []byte)

// Bus is a named-channel broadcast transport.
type Bus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(channel string, h Handler) (unsubscribe func(), err error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverLocal = "local"
	DriverNATS  = "nats"
)

// Config selects a bus implementation.
type Config struct {
	Driver string
	URL    string
	Name   string
}

// Open builds the bus named by cfg.Driver.
func Open(cfg Config) (Bus, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverLocal:
		return NewLocal(), nil
	case DriverNATS:
		n, err := NewNATS(cfg.URL, cfg.Name)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("bus: unknown driver %q", cfg.Driver)
	}
}
