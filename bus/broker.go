// api/bus/broker.go
package bus

import "context"

// Broker is the transport under the invalidation bus. Delivery is
// best-effort, at-least-once, ordered per publisher only. Implementations:
// RedisBroker for multi-replica deployments, InProcessBroker for single-node
// runs and tests.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
	Close() error
}
