package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/id"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 1 << 20
	sendBuffer   = 64
)

// Metrics receives connection activity.
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, msgType string)
}

type nopMetrics struct{}

func (nopMetrics) IncWSConnections()              {}
func (nopMetrics) DecWSConnections()              {}
func (nopMetrics) RecordWSMessage(string, string) {}

// Hub serves tab endpoints over WebSocket and fans supervisor events out to
// every connection.
type Hub struct {
	supervisor *supervisor.Supervisor
	host       *runtime.Host
	conduit    *conduit.Conduit
	metrics    Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*conn]struct{}
	unsub  func()
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the connection metrics sink.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithCheckOrigin overrides the upgrade origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates a hub and subscribes it to supervisor events.
func NewHub(sup *supervisor.Supervisor, host *runtime.Host, cond *conduit.Conduit, opts ...Option) *Hub {
	h := &Hub{
		supervisor: sup,
		host:       host,
		conduit:    cond,
		metrics:    nopMetrics{},
		logger:     zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.unsub = sup.Subscribe(func(e supervisor.Event) {
		h.Broadcast(NewFrame(TypeSupervisor, "", e))
	})
	return h
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast queues f on every connection. Slow connections drop frames.
func (h *Hub) Broadcast(f Frame) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(f) {
			h.logger.Warn("websocket frame dropped", zap.String("tab", c.tab.ID()), zap.String("type", f.Type))
		}
	}
}

// Close detaches from the supervisor and closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.unsub()
	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// HandleConnection upgrades the request and serves one tab endpoint until the
// socket closes. The tab id comes from the "tab" query parameter or the
// X-Nexus-Tab header; a fresh one is minted otherwise.
func (h *Hub) HandleConnection(c *gin.Context) {
	tabID := c.Query("tab")
	if tabID == "" {
		tabID = c.GetHeader("X-Nexus-Tab")
	}
	if tabID == "" {
		tabID = id.NewTabID().String()
	}
	if !id.HasPrefix(tabID, id.TabPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tab id"})
		return
	}

	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	tab := h.conduit.Open(ctx, tabID, c.Request.Referer())
	cn := newConn(socket, tab)
	if !h.register(cn) {
		tab.Close()
		socket.Close()
		return
	}
	h.metrics.IncWSConnections()
	h.logger.Info("websocket connected", zap.String("tab", tabID))

	stop := tab.OnMessage(func(m conduit.Message) {
		if m.IsClear() {
			cn.enqueue(NewFrame(TypeConduitClear, "conduit cleared", nil))
			return
		}
		cn.enqueue(NewFrame(TypeConduitMessage, "", m))
	})

	defer func() {
		stop()
		tab.Close()
		h.unregister(cn)
		cn.close()
		h.metrics.DecWSConnections()
		h.logger.Info("websocket disconnected", zap.String("tab", tabID))
	}()

	go cn.writeLoop(h)

	cn.enqueue(NewFrame(TypeSystem, "Connected to Nexus Core", Welcome{
		Tab:        tabID,
		Epoch:      h.host.Epoch(),
		Supervisor: h.supervisor.Snapshot(),
	}))

	h.readLoop(ctx, cn)
}

func (h *Hub) readLoop(ctx context.Context, cn *conn) {
	cn.ws.SetReadLimit(maxFrameSize)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in Inbound
		if err := cn.ws.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.metrics.RecordWSMessage("inbound", in.Type)
		h.dispatch(ctx, cn, in)
	}
}

func (h *Hub) dispatch(ctx context.Context, cn *conn, in Inbound) {
	switch in.Type {
	case TypePing:
		cn.enqueue(NewFrame(TypePong, "", nil))

	case runtime.HealthCheckType:
		sig := runtime.HealthSignal{Type: in.Type, Status: in.Status, Error: in.Error, Epoch: in.Epoch}
		if !h.host.Publish(sig) {
			h.logger.Debug("health signal dropped", zap.String("epoch", in.Epoch), zap.String("status", string(in.Status)))
		}

	case runtime.ElementSelectedType:
		var sel runtime.ElementSelection
		if err := json.Unmarshal(in.Payload, &sel); err != nil {
			cn.enqueue(errorFrame("invalid element selection"))
			return
		}
		if _, err := h.host.SelectElement(ctx, sel); err != nil {
			cn.enqueue(errorFrame(err.Error()))
		}

	case TypeConduitSend:
		if len(in.Payload) == 0 {
			cn.enqueue(errorFrame("payload required"))
			return
		}
		m, err := cn.tab.Send(ctx, in.MessageType, in.Payload, in.Hyperbit)
		if err != nil {
			cn.enqueue(errorFrame(err.Error()))
			return
		}
		cn.enqueue(NewFrame(TypeConduitMessage, "", m))

	case TypeConduitSync:
		n, err := cn.tab.Sync(ctx)
		if err != nil {
			cn.enqueue(errorFrame(err.Error()))
			return
		}
		cn.enqueue(NewFrame(TypeSystem, "conduit synced", SyncResult{Delivered: n}))

	default:
		cn.enqueue(errorFrame("unknown message type"))
	}
}

// conn is one socket. Writes go through send so only writeLoop touches the
// socket for writing.
type conn struct {
	ws   *websocket.Conn
	tab  *conduit.Tab
	send chan Frame
	done chan struct{}
	once sync.Once
}

func newConn(socket *websocket.Conn, tab *conduit.Tab) *conn {
	return &conn{
		ws:   socket,
		tab:  tab,
		send: make(chan Frame, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *conn) enqueue(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *conn) writeLoop(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.logger.Debug("websocket write failed", zap.Error(err))
				}
				c.close()
				return
			}
			h.metrics.RecordWSMessage("outbound", f.Type)
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
