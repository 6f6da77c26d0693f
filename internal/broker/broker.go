// Package broker fans room events out across server instances.
//
// Every instance subscribes once for all rooms and hands each received
// payload to its local hubs. Publishers never deliver locally themselves,
// the broker echo is what reaches local subscribers, so each event is
// delivered exactly once per instance.
package broker

import (
	"context"
	"errors"
	"fmt"

	"koma-chat/internal/config"
)

// DeliverFunc receives a payload published to room. It must not block.
type DeliverFunc func(room string, payload []byte)

type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

var ErrClosed = errors.New("broker closed")

// New builds the broker selected by cfg.Driver.
func New(ctx context.Context, cfg config.BrokerConfig) (Broker, error) {
	switch cfg.Driver {
	case "", config.BrokerDriverLocal:
		return NewLocal(), nil
	case config.BrokerDriverRedis:
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisChannelPrefix)
	case config.BrokerDriverNATS:
		return NewNATS(cfg.NATSURL, cfg.NATSSubjectPrefix)
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Driver)
	}
}
