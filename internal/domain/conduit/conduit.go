// Package conduit implements the hyperbit message conduit.
//
// The log stored under LogKey is the single source of truth. The bus only
// wakes listeners up; on every hint a tab re-reads the log and delivers the
// messages it has not delivered yet. Tabs never receive their own messages.
package conduit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/bus"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
)

// Conduit owns the log and the set of tabs attached in this process.
type Conduit struct {
	kv      storage.KV
	bus     bus.Bus
	logger  *zap.Logger
	metrics MetricsSink
	now     func() time.Time
	watch   *storage.WatchOptions

	mu   sync.Mutex
	tabs map[string]*Tab

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Conduit.
type Option func(*Conduit)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conduit) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsSink) Option {
	return func(c *Conduit) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Conduit) { c.now = now }
}

// WithStorageWatch reconciles every tab whenever the KV reports a write from
// another process. Ignored for backends that cannot watch.
func WithStorageWatch(opts storage.WatchOptions) Option {
	return func(c *Conduit) { c.watch = &opts }
}

// New attaches a conduit to the log in kv and the hint channel on b.
func New(kv storage.KV, b bus.Bus, opts ...Option) (*Conduit, error) {
	c := &Conduit{
		kv:      kv,
		bus:     b,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		now:     time.Now,
		tabs:    make(map[string]*Tab),
	}
	for _, opt := range opts {
		opt(c)
	}

	unsub, err := b.Subscribe(ChannelName, c.onHint)
	if err != nil {
		return nil, fmt.Errorf("conduit: subscribe: %w", err)
	}
	c.unsubscribe = unsub

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if w, ok := kv.(storage.Watcher); ok && c.watch != nil {
		changes := w.Watch(ctx, *c.watch)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for range changes {
				c.reconcileAll(ctx)
			}
		}()
		c.logger.Info("conduit watching storage for external writes")
	}
	return c, nil
}

// Open attaches a tab endpoint. tabID must be stable for the tab's session.
// Messages already in the log when the tab opens are not delivered to its
// listeners; they are visible through Messages.
func (c *Conduit) Open(ctx context.Context, tabID, sourceURL string) *Tab {
	t := c.newTab(ctx, tabID, sourceURL)

	c.mu.Lock()
	if old, ok := c.tabs[tabID]; ok {
		old.markClosed()
	}
	c.tabs[tabID] = t
	c.mu.Unlock()

	c.logger.Debug("conduit tab opened", zap.String("tab", tabID))
	return t
}

// Borrow returns the open tab named tabID with a no-op release, or opens a
// tab that release closes. Callers without a long-lived connection use it so
// their tab does not outlive the request.
func (c *Conduit) Borrow(ctx context.Context, tabID, sourceURL string) (t *Tab, release func()) {
	if t, ok := c.Tab(tabID); ok {
		return t, func() {}
	}
	t = c.newTab(ctx, tabID, sourceURL)

	c.mu.Lock()
	if cur, ok := c.tabs[tabID]; ok {
		c.mu.Unlock()
		return cur, func() {}
	}
	c.tabs[tabID] = t
	c.mu.Unlock()
	return t, t.Close
}

func (c *Conduit) newTab(ctx context.Context, tabID, sourceURL string) *Tab {
	t := &Tab{
		c:         c,
		id:        tabID,
		sourceURL: sourceURL,
		seen:      make(map[string]struct{}),
		removed:   make(map[string]struct{}),
		listeners: make(map[int]func(Message)),
	}
	for _, m := range c.read(ctx) {
		t.seen[m.ID] = struct{}{}
	}
	return t
}

// Tab returns the open tab with the given id.
func (c *Conduit) Tab(tabID string) (*Tab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tabs[tabID]
	return t, ok
}

// Close detaches from the bus and stops the storage watcher.
func (c *Conduit) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	for _, t := range c.tabs {
		t.markClosed()
	}
	c.tabs = make(map[string]*Tab)
	c.mu.Unlock()
	return nil
}

// Reset deletes the log without notifying anyone. Used by the factory reset.
func (c *Conduit) Reset(ctx context.Context) error {
	if err := c.kv.Delete(ctx, LogKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("conduit: reset: %w", err)
	}
	return nil
}

func (c *Conduit) detach(t *Tab) {
	c.mu.Lock()
	if c.tabs[t.id] == t {
		delete(c.tabs, t.id)
	}
	c.mu.Unlock()
}

func (c *Conduit) snapshotTabs() []*Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Tab, 0, len(c.tabs))
	for _, t := range c.tabs {
		out = append(out, t)
	}
	return out
}

// read returns the log, or nil when it is absent or unreadable.
func (c *Conduit) read(ctx context.Context) []Message {
	raw, err := c.kv.Get(ctx, LogKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("conduit log read failed", zap.Error(err))
		}
		return nil
	}
	msgs, err := decodeLog(raw)
	if err != nil {
		c.logger.Warn("conduit log unreadable", zap.Error(err))
		return nil
	}
	return msgs
}

func (c *Conduit) append(ctx context.Context, m Message) error {
	return c.kv.Update(ctx, LogKey, func(current []byte) ([]byte, error) {
		msgs, err := decodeLog(current)
		if err != nil {
			c.logger.Warn("conduit log unreadable, starting a new one", zap.Error(err))
			msgs = nil
		}
		return encodeLog(append(msgs, m))
	})
}

func (c *Conduit) publish(ctx context.Context, data []byte) {
	if err := c.bus.Publish(ctx, ChannelName, data); err != nil {
		c.logger.Warn("conduit hint not published", zap.Error(err))
	}
}

func (c *Conduit) onHint(data []byte) {
	h := decodeHint(data)
	ctx := context.Background()

	if h.Type == hintClear {
		msg := ClearMessage(c.now().UnixMilli())
		for _, t := range c.snapshotTabs() {
			if t.id != h.SenderID {
				t.deliverClear(msg)
			}
		}
		return
	}
	c.reconcileAll(ctx)
}

func (c *Conduit) reconcileAll(ctx context.Context) {
	msgs := c.read(ctx)
	for _, t := range c.snapshotTabs() {
		t.reconcile(msgs)
	}
}
