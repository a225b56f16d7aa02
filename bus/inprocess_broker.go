// api/bus/inprocess_broker.go
package bus

import (
	"context"
	"sync"
)

// InProcessBroker fans messages out to in-process subscribers. It backs
// single-node deployments and integration tests; multiple bus instances in
// one process can share it to simulate a replica group.
type InProcessBroker struct {
	mu          sync.RWMutex
	subscribers map[string][]func([]byte)
	closed      bool
}

func NewInProcessBroker() *InProcessBroker {
	return &InProcessBroker{
		subscribers: make(map[string][]func([]byte)),
	}
}

func (b *InProcessBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	handlers := b.subscribers[channel]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}
	for _, handler := range handlers {
		// Copy so a retained payload cannot be mutated by the publisher.
		msg := make([]byte, len(payload))
		copy(msg, payload)
		go handler(msg)
	}
	return nil
}

func (b *InProcessBroker) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], handler)
	return nil
}

func (b *InProcessBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[string][]func([]byte))
	return nil
}
