package conduit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
)

// Tab is one endpoint attached to the conduit.
type Tab struct {
	c         *Conduit
	id        string
	sourceURL string

	mu        sync.Mutex
	seen      map[string]struct{}
	removed   map[string]struct{}
	listeners map[int]func(Message)
	nextKey   int
	closed    bool
}

// ID returns the tab's sender id.
func (t *Tab) ID() string { return t.id }

// Send appends a message to the log and wakes other listeners. payload is
// JSON-encoded; a json.RawMessage is stored as is.
func (t *Tab) Send(ctx context.Context, typ MessageType, payload any, meta *Overrides) (Message, error) {
	if t.isClosed() {
		return Message{}, ErrTabClosed
	}
	if !typ.Valid() {
		return Message{}, fmt.Errorf("conduit: unknown message type %q", typ)
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("conduit: encode payload: %w", err)
	}

	m := Message{
		ID:        uuid.NewString(),
		Timestamp: t.c.now().UnixMilli(),
		SenderID:  t.id,
		Type:      typ,
		Payload:   encoded,
		Hyperbit:  meta.Apply(DefaultMetadata()),
		SourceURL: t.sourceURL,
	}

	t.mu.Lock()
	t.seen[m.ID] = struct{}{}
	t.mu.Unlock()

	if err := t.c.append(ctx, m); err != nil {
		return Message{}, fmt.Errorf("conduit: append: %w", err)
	}
	t.c.metrics.RecordConduitSend(string(typ))

	data, err := encodeHint(m)
	if err == nil {
		t.c.publish(ctx, data)
	}
	return m, nil
}

// Messages returns the log as this tab sees it: everything except the
// messages it removed locally. An unreadable log reads as empty.
func (t *Tab) Messages(ctx context.Context) ([]Message, error) {
	if t.isClosed() {
		return nil, ErrTabClosed
	}
	msgs := t.c.read(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if _, gone := t.removed[m.ID]; !gone {
			out = append(out, m)
		}
	}
	return out, nil
}

// Clear deletes the whole log, tells every other listener and notifies this
// tab's own listeners with the synthetic clear message.
func (t *Tab) Clear(ctx context.Context) error {
	if t.isClosed() {
		return ErrTabClosed
	}
	if err := t.c.kv.Delete(ctx, LogKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("conduit: clear: %w", err)
	}

	if data, err := encodeClearHint(t.id); err == nil {
		t.c.publish(ctx, data)
	}
	t.deliverClear(ClearMessage(t.c.now().UnixMilli()))
	t.c.logger.Info("conduit cleared", zap.String("tab", t.id))
	return nil
}

// Remove deletes a single message from the log. No hint is published, so
// listeners in other tabs are not told; they stop seeing the message the next
// time they read the log.
func (t *Tab) Remove(ctx context.Context, messageID string) error {
	if t.isClosed() {
		return ErrTabClosed
	}
	err := t.c.kv.Update(ctx, LogKey, func(current []byte) ([]byte, error) {
		msgs, err := decodeLog(current)
		if err != nil {
			return nil, err
		}
		kept := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			if m.ID != messageID {
				kept = append(kept, m)
			}
		}
		return encodeLog(kept)
	})
	if err != nil {
		return fmt.Errorf("conduit: remove: %w", err)
	}

	t.mu.Lock()
	t.removed[messageID] = struct{}{}
	t.mu.Unlock()
	return nil
}

// OnMessage registers fn for messages sent by other tabs.
func (t *Tab) OnMessage(fn func(Message)) (unsubscribe func()) {
	t.mu.Lock()
	key := t.nextKey
	t.nextKey++
	t.listeners[key] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, key)
		t.mu.Unlock()
	}
}

// Sync reconciles against the log and returns how many messages were
// delivered.
func (t *Tab) Sync(ctx context.Context) (int, error) {
	if t.isClosed() {
		return 0, ErrTabClosed
	}
	return t.reconcile(t.c.read(ctx)), nil
}

// Close detaches the tab.
func (t *Tab) Close() {
	t.markClosed()
	t.c.detach(t)
}

func (t *Tab) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.listeners = make(map[int]func(Message))
	t.mu.Unlock()
}

func (t *Tab) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// reconcile delivers unseen messages from msgs, in log order.
func (t *Tab) reconcile(msgs []Message) int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	var fresh []Message
	for _, m := range msgs {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		if m.SenderID == t.id {
			continue
		}
		if _, gone := t.removed[m.ID]; gone {
			continue
		}
		fresh = append(fresh, m)
	}
	fns := t.listenerList()
	t.mu.Unlock()

	for _, m := range fresh {
		for _, fn := range fns {
			fn(m)
		}
	}
	if len(fresh) > 0 {
		t.c.metrics.RecordConduitReconcile(len(fresh))
	}
	return len(fresh)
}

func (t *Tab) deliverClear(m Message) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.seen = make(map[string]struct{})
	t.removed = make(map[string]struct{})
	fns := t.listenerList()
	t.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// listenerList must be called with t.mu held.
func (t *Tab) listenerList() []func(Message) {
	out := make([]func(Message), 0, len(t.listeners))
	for _, fn := range t.listeners {
		out = append(out, fn)
	}
	return out
}
