package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ErrPoolClosed is returned after Close.
var ErrPoolClosed = errors.New("sandbox pool is closed")

// Pool bounds concurrent runs to a fixed set of runtimes.
type Pool struct {
	runtimes chan *Runtime
	size     int

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool of size runtimes (default 2).
func NewPool(config Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 2
	}

	p := &Pool{runtimes: make(chan *Runtime, size), size: size}
	for i := 0; i < size; i++ {
		rt, err := New(config)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.runtimes <- rt
	}
	return p, nil
}

// Run executes scripts on the next free runtime, waiting for one if all are
// busy.
func (p *Pool) Run(ctx context.Context, scripts []string, doc *goquery.Document) (*Result, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.mu.RUnlock()

	var rt *Runtime
	select {
	case r, ok := <-p.runtimes:
		if !ok {
			return nil, ErrPoolClosed
		}
		rt = r
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer p.release(rt)

	return rt.Run(ctx, scripts, doc)
}

func (p *Pool) release(rt *Runtime) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		_ = rt.Close()
		return
	}
	p.runtimes <- rt
}

// Available returns the number of idle runtimes.
func (p *Pool) Available() int {
	return len(p.runtimes)
}

// Close closes the pool and every idle runtime.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.runtimes)
	for rt := range p.runtimes {
		_ = rt.Close()
	}
	return nil
}
