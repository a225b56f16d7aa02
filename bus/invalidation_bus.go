// api/bus/invalidation_bus.go
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
)

// RefreshFunc reloads one tenant's cache entry from the authoritative store.
type RefreshFunc func(ctx context.Context, tenantID string) error

// InvalidationBus publishes and consumes tenant-changed events. Publishing is
// best-effort: the local write already succeeded and the local cache is
// already refreshed, so a lost message only delays peer convergence.
type InvalidationBus struct {
	broker    Broker
	channel   string
	replicaID string

	subscribeOnce sync.Once
	subscribeErr  error
}

// NewInvalidationBus wraps a broker. replicaID identifies this process so
// subscribers can discard their own notifications.
func NewInvalidationBus(broker Broker, channel, replicaID string) *InvalidationBus {
	return &InvalidationBus{
		broker:    broker,
		channel:   channel,
		replicaID: replicaID,
	}
}

// ReplicaID returns this process's origin identity.
func (b *InvalidationBus) ReplicaID() string {
	return b.replicaID
}

// Publish emits a tenant-changed event. Failures are logged and swallowed;
// availability wins over cross-replica convergence.
func (b *InvalidationBus) Publish(ctx context.Context, tenantID, operation string) {
	if b.broker == nil {
		logger.Debug("Invalidation broker not configured, skipping publish",
			zap.String("tenant", tenantID))
		return
	}

	event := model.InvalidationEvent{
		TenantID:        tenantID,
		Operation:       operation,
		OriginReplicaID: b.replicaID,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal invalidation event",
			zap.Error(err),
			zap.String("tenant", tenantID))
		return
	}

	if err := b.broker.Publish(ctx, b.channel, payload); err != nil {
		logger.Warn("Failed to publish invalidation event, peers will converge via manual refresh",
			zap.Error(err),
			zap.String("tenant", tenantID),
			zap.String("operation", operation))
		return
	}
	logger.Debug("Published invalidation event",
		zap.String("tenant", tenantID),
		zap.String("operation", operation))
}

// Subscribe wires remote events to the refresh callback. Safe to call
// concurrently; a single in-flight subscription is shared by all callers.
func (b *InvalidationBus) Subscribe(ctx context.Context, refresh RefreshFunc) error {
	b.subscribeOnce.Do(func() {
		if b.broker == nil {
			return
		}
		b.subscribeErr = b.broker.Subscribe(ctx, b.channel, func(payload []byte) {
			b.handle(ctx, payload, refresh)
		})
	})
	return b.subscribeErr
}

func (b *InvalidationBus) handle(ctx context.Context, payload []byte, refresh RefreshFunc) {
	var event model.InvalidationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn("Dropping malformed invalidation event", zap.Error(err))
		return
	}
	if event.OriginReplicaID == b.replicaID {
		logger.Debug("Ignoring self-originated invalidation",
			zap.String("tenant", event.TenantID))
		return
	}

	logger.Info("Received invalidation event",
		zap.String("tenant", event.TenantID),
		zap.String("operation", event.Operation),
		zap.String("origin", event.OriginReplicaID))
	if err := refresh(ctx, event.TenantID); err != nil {
		// Previous cache entry stays in place; the store remains
		// authoritative for the next refresh.
		logger.Error("Failed to refresh tenant after invalidation event",
			zap.Error(err),
			zap.String("tenant", event.TenantID))
	}
}
