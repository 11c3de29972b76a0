package bus

import (
	"context"
	"sync"
)

// Local is an in-process bus. Handlers run synchronously on the publishing
// goroutine, in subscription order.
type Local struct {
	mu     sync.RWMutex
	subs   map[string][]*localSub
	closed bool
}

type localSub struct {
	h Handler
}

// NewLocal creates an in-process bus.
func NewLocal() *Local {
	return &Local{subs: make(map[string][]*localSub)}
}

func (l *Local) Publish(ctx context.Context, channel string, data []byte) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*localSub(nil), l.subs[channel]...)
	l.mu.RUnlock()

	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.h(data)
	}
	return nil
}

func (l *Local) Subscribe(channel string, h Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	sub := &localSub{h: h}
	l.subs[channel] = append(l.subs[channel], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			list := l.subs[channel]
			for i, s := range list {
				if s == sub {
					l.subs[channel] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = make(map[string][]*localSub)
	return nil
}
