package conduit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/bus"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) add(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

type flakyKV struct {
	storage.KV
	failUpdates atomic.Bool
}

func (f *flakyKV) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if f.failUpdates.Load() {
		return errors.New("disk full")
	}
	return f.KV.Update(ctx, key, fn)
}

func newConduit(t *testing.T) *Conduit {
	t.Helper()
	c, err := New(storage.NewMemory(), bus.NewLocal())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCrossTabDelivery(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "http://a")
	b := c.Open(ctx, "tab_b", "http://b")

	var gotA, gotB recorder
	a.OnMessage(gotA.add)
	b.OnMessage(gotB.add)

	sent, err := a.Send(ctx, CodeFragment, "<p>x</p>", nil)
	require.NoError(t, err)

	require.Len(t, gotB.all(), 1)
	m := gotB.all()[0]
	assert.Equal(t, "tab_a", m.SenderID)
	assert.Equal(t, CodeFragment, m.Type)
	assert.Equal(t, sent.ID, m.ID)
	assert.Equal(t, `"<p>x</p>"`, m.Payload)
	assert.Equal(t, "http://a", m.SourceURL)

	assert.Empty(t, gotA.all(), "a tab never hears its own messages")
}

func TestSendAppliesMetadata(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")

	m, err := a.Send(ctx, RawInstruction, map[string]string{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMetadata(), m.Hyperbit)
	assert.JSONEq(t, `{"text":"hi"}`, m.Payload)

	base := 0.7
	m, err = a.Send(ctx, ElementData, json.RawMessage(`{"tagName":"DIV"}`), &Overrides{Base: &base, Color: Yellow})
	require.NoError(t, err)
	assert.Equal(t, 0.7, m.Hyperbit.Base)
	assert.Equal(t, 0.5, m.Hyperbit.Energy)
	assert.Equal(t, Yellow, m.Hyperbit.Color)
	assert.Equal(t, DefaultContext, m.Hyperbit.Context)
	assert.Equal(t, `{"tagName":"DIV"}`, m.Payload)

	_, err = a.Send(ctx, MessageType("BOGUS"), "x", nil)
	assert.Error(t, err)
}

func TestMessagesReadTheLog(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")
	b := c.Open(ctx, "tab_b", "")

	_, err := a.Send(ctx, RawInstruction, "one", nil)
	require.NoError(t, err)
	_, err = b.Send(ctx, RawInstruction, "two", nil)
	require.NoError(t, err)

	for _, tab := range []*Tab{a, b} {
		msgs, err := tab.Messages(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, `"one"`, msgs[0].Payload)
		assert.Equal(t, `"two"`, msgs[1].Payload)
	}
}

func TestUnreadableLogReadsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Put(ctx, LogKey, []byte("not json")))
	c, err := New(kv, bus.NewLocal())
	require.NoError(t, err)
	defer c.Close()

	a := c.Open(ctx, "tab_a", "")
	msgs, err := a.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = a.Send(ctx, RawInstruction, "fresh", nil)
	require.NoError(t, err)
	msgs, err = a.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestClearNotifiesEveryTab(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")
	b := c.Open(ctx, "tab_b", "")

	var gotA, gotB recorder
	a.OnMessage(gotA.add)
	b.OnMessage(gotB.add)

	_, err := a.Send(ctx, RawInstruction, "x", nil)
	require.NoError(t, err)
	require.NoError(t, a.Clear(ctx))

	msgs, err := b.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, r := range []*recorder{&gotA, &gotB} {
		all := r.all()
		require.NotEmpty(t, all)
		last := all[len(all)-1]
		assert.True(t, last.IsClear())
		assert.Equal(t, SystemSender, last.SenderID)
		assert.Equal(t, RawInstruction, last.Type)
		assert.Equal(t, `"cleared"`, last.Payload)
	}
	assert.Len(t, gotA.all(), 1, "exactly one clear notification for the clearing tab")
}

func TestRemoveDoesNotNotifyOtherTabs(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")
	b := c.Open(ctx, "tab_b", "")

	var gotB recorder
	b.OnMessage(gotB.add)

	m1, err := a.Send(ctx, RawInstruction, "keep", nil)
	require.NoError(t, err)
	m2, err := a.Send(ctx, RawInstruction, "drop", nil)
	require.NoError(t, err)
	require.Len(t, gotB.all(), 2)

	require.NoError(t, a.Remove(ctx, m2.ID))

	// b's listener saw both messages and hears nothing about the removal.
	assert.Len(t, gotB.all(), 2)

	msgs, err := a.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, m1.ID, msgs[0].ID)
}

func TestSyncDeliversMissedMessages(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()

	// Two conduits on the same log but different buses: hints never cross.
	c1, err := New(kv, bus.NewLocal())
	require.NoError(t, err)
	defer c1.Close()
	c2, err := New(kv, bus.NewLocal())
	require.NoError(t, err)
	defer c2.Close()

	a := c1.Open(ctx, "tab_a", "")
	b := c2.Open(ctx, "tab_b", "")
	var gotB recorder
	b.OnMessage(gotB.add)

	_, err = a.Send(ctx, SystemReport, "<h1>r</h1>", nil)
	require.NoError(t, err)
	assert.Empty(t, gotB.all())

	n, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, gotB.all(), 1)

	n, err = b.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenSkipsExistingMessages(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")
	_, err := a.Send(ctx, RawInstruction, "old", nil)
	require.NoError(t, err)

	b := c.Open(ctx, "tab_b", "")
	n, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClosedTab(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")
	a.Close()

	_, err := a.Send(ctx, RawInstruction, "x", nil)
	assert.ErrorIs(t, err, ErrTabClosed)
	_, ok := c.Tab("tab_a")
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)
	a := c.Open(ctx, "tab_a", "")
	b := c.Open(ctx, "tab_b", "")

	var gotB recorder
	unsubscribe := b.OnMessage(gotB.add)
	unsubscribe()

	_, err := a.Send(ctx, RawInstruction, "x", nil)
	require.NoError(t, err)
	assert.Empty(t, gotB.all())
}

func TestStorageWatchAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conduit.db")

	kv1, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	defer kv1.Close()
	kv2, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	defer kv2.Close()

	watch := WithStorageWatch(storage.WatchOptions{Interval: 20 * time.Millisecond})
	c1, err := New(kv1, bus.NewLocal(), watch)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := New(kv2, bus.NewLocal(), watch)
	require.NoError(t, err)
	defer c2.Close()

	a := c1.Open(ctx, "tab_a", "")
	b := c2.Open(ctx, "tab_b", "")
	var gotB recorder
	b.OnMessage(gotB.add)

	_, err = a.Send(ctx, CodeFragment, "<p>x</p>", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(gotB.all()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "tab_a", gotB.all()[0].SenderID)
}

func TestFailedRemoveKeepsMessageVisible(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{KV: storage.NewMemory()}
	c, err := New(kv, bus.NewLocal())
	require.NoError(t, err)
	defer c.Close()

	tab := c.Open(ctx, "tab_a", "")
	m, err := tab.Send(ctx, RawInstruction, "keep me", nil)
	require.NoError(t, err)

	kv.failUpdates.Store(true)
	require.Error(t, tab.Remove(ctx, m.ID))
	msgs, err := tab.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)

	kv.failUpdates.Store(false)
	require.NoError(t, tab.Remove(ctx, m.ID))
	msgs, err = tab.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBorrow(t *testing.T) {
	ctx := context.Background()
	c := newConduit(t)

	held := c.Open(ctx, "tab_ws", "")
	got, release := c.Borrow(ctx, "tab_ws", "")
	assert.Same(t, held, got)
	release()
	_, open := c.Tab("tab_ws")
	assert.True(t, open, "a held tab survives the borrower")

	borrowed, release := c.Borrow(ctx, "tab_http", "")
	_, err := borrowed.Send(ctx, RawInstruction, "hi", nil)
	require.NoError(t, err)
	release()
	_, open = c.Tab("tab_http")
	assert.False(t, open)
	_, err = borrowed.Send(ctx, RawInstruction, "late", nil)
	assert.ErrorIs(t, err, ErrTabClosed)
}
