package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS broadcasts hints over a NATS subject per channel, reaching conduit
// listeners in other server processes.
type NATS struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATS connects to url. The connection reconnects forever.
func NewNATS(url, name string) (*NATS, error) {
	return NewNATSWithLogger(url, name, zap.NewNop())
}

// NewNATSWithLogger is NewNATS with connection events logged.
func NewNATSWithLogger(url, name string, logger *zap.Logger) (*NATS, error) {
	if name == "" {
		name = "nexus-core"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats: %w", err)
	}
	return &NATS{nc: nc, logger: logger}, nil
}

func (n *NATS) Publish(ctx context.Context, channel string, data []byte) error {
	if n.nc == nil || n.nc.IsClosed() {
		return ErrClosed
	}
	return n.nc.Publish(channel, data)
}

func (n *NATS) Subscribe(channel string, h Handler) (func(), error) {
	if n.nc == nil || n.nc.IsClosed() {
		return nil, ErrClosed
	}
	sub, err := n.nc.Subscribe(channel, func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Debug("nats unsubscribe", zap.String("channel", channel), zap.Error(err))
		}
	}, nil
}

func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
