// api/model/event.go
package model

// InvalidationEvent is the message published on the invalidation channel when
// a tenant's authoritative rules change. OriginReplicaID lets subscribers
// discard their own notifications.
type InvalidationEvent struct {
	TenantID        string `json:"tenantId"`
	Operation       string `json:"operation"`
	OriginReplicaID string `json:"originReplicaId"`
	Timestamp       string `json:"timestamp"`
}
