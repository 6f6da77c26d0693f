package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"koma-chat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Redis publishes each room on its own channel (prefix + room name) and
// pattern-subscribes to prefix*. go-redis re-establishes the subscription
// after connection loss.
type Redis struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	subs   []*redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to redis broker at %s", opts.Addr)
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient takes ownership of client; Close closes it.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Publish(ctx context.Context, room string, payload []byte) error {
	if err := r.client.Publish(ctx, r.prefix+room, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %q: %w", room, err)
	}
	return nil
}

// Subscribe returns once the pattern subscription is confirmed by the server.
func (r *Redis) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.subs = append(r.subs, ps)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ps.Channel() {
			deliver(strings.TrimPrefix(msg.Channel, r.prefix), []byte(msg.Payload))
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			logger.Warn("Error closing redis subscription: %v", err)
		}
	}
	r.wg.Wait()
	return r.client.Close()
}
