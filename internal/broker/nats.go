package broker

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"koma-chat/pkg/logger"

	"github.com/nats-io/nats.go"
)

// NATS publishes each room on <prefix>.<token>, where token is the room
// name in URL-safe base64 so that any name is a single subject token.
type NATS struct {
	conn   *nats.Conn
	prefix string

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

func NewNATS(url, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("koma-chat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS broker at %s", nc.ConnectedUrl())
	return NewNATSWithConn(nc, prefix), nil
}

// NewNATSWithConn takes ownership of nc; Close closes it.
func NewNATSWithConn(nc *nats.Conn, prefix string) *NATS {
	return &NATS{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

func (n *NATS) subject(room string) string {
	return n.prefix + "." + base64.RawURLEncoding.EncodeToString([]byte(room))
}

func (n *NATS) room(subject string) (string, error) {
	token := strings.TrimPrefix(subject, n.prefix+".")
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid room token %q: %w", token, err)
	}
	return string(raw), nil
}

func (n *NATS) Publish(_ context.Context, room string, payload []byte) error {
	if err := n.conn.Publish(n.subject(room), payload); err != nil {
		return fmt.Errorf("nats publish to %q: %w", room, err)
	}
	return nil
}

// Subscribe returns once the server has processed the subscription.
func (n *NATS) Subscribe(_ context.Context, deliver DeliverFunc) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	sub, err := n.conn.Subscribe(n.prefix+".*", func(msg *nats.Msg) {
		room, err := n.room(msg.Subject)
		if err != nil {
			logger.Warn("Dropping NATS message: %v", err)
			return
		}
		deliver(room, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	n.subs = append(n.subs, sub)
	return nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for _, sub := range n.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Error unsubscribing from NATS: %v", err)
		}
	}
	n.subs = nil
	n.conn.Close()
	return nil
}
