// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"time"
)

// DedupRecord is one inbound message seen for a tenant. Providers only guarantee message ids
// to be unique per sending account, so records are keyed by (tenant, message id).
type DedupRecord struct {
	TenantID    string     `json:"tenant_id"`
	MessageID   string     `json:"message_id"`
	SenderID    string     `json:"sender_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo remembers inbound messages per tenant so a redelivered message runs one turn only.
type DedupRepo interface {
	// IsDuplicate checks if the tenant already recorded the message.
	IsDuplicate(tenantID, messageID string) (bool, error)

	// RecordInbound records a message for the tenant. Returns false if it was already
	// recorded (duplicate).
	RecordInbound(tenantID, messageID, senderID string) (bool, error)

	// MarkProcessed stamps the time the message's turn completed.
	MarkProcessed(tenantID, messageID string) error
}

// dedupKey joins tenant and message id for stores keyed by a single string.
func dedupKey(tenantID, messageID string) string {
	return tenantID + ":" + messageID
}
