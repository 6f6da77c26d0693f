package broker

import (
	"context"
	"sync"
)

// Local delivers synchronously inside the process. It is the single-instance
// default.
type Local struct {
	mu          sync.RWMutex
	subscribers []DeliverFunc
	closed      bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Publish(_ context.Context, room string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrClosed
	}
	for _, deliver := range l.subscribers {
		deliver(room, payload)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, deliver DeliverFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.subscribers = append(l.subscribers, deliver)
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.subscribers = nil
	return nil
}
