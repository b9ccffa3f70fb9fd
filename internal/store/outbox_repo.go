// Package store provides the OutboxRepo interface and model for restart-safe reply sends.
package store

import (
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusFailed   OutboxStatus = "failed"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

func (st OutboxStatus) terminal() bool {
	return st == OutboxStatusSent || st == OutboxStatusCanceled || st == OutboxStatusFailed
}

// OutboxMessage is a durable outgoing bot reply.
type OutboxMessage struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Recipient     string       `json:"recipient"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo is the durable queue of replies. Every operation is scoped to a tenant: a sender
// owns one tenant's transport and only ever sees that tenant's replies. Replies to one
// recipient leave in the order they were queued.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a new reply. If dedupeKey is non-empty and the tenant
	// has a non-terminal message with that key, returns the existing ID.
	EnqueueOutboxMessage(tenantID, recipient, body, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit of the tenant's due replies as sending and
	// returns them, oldest first. Only the oldest queued reply of each recipient is due, and
	// none while another reply to that recipient is sending.
	ClaimDueOutboxMessages(tenantID string, now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully sent.
	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage records a send failure and schedules a retry at nextAttemptAt. A zero
	// nextAttemptAt gives up: the message becomes failed and the recipient's queue moves on.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingMessages resets the tenant's messages stuck in sending since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSendingMessages(tenantID string, staleBefore time.Time) (int, error)
}

// outboxHeadPredicate keeps a queued row o only when it heads its recipient's queue: no older
// queued reply and no reply in flight to the same recipient.
const outboxHeadPredicate = `NOT EXISTS (
	SELECT 1 FROM outbox_messages p
	WHERE p.tenant_id = o.tenant_id AND p.recipient = o.recipient AND p.id <> o.id
	  AND (p.status = 'sending'
	    OR (p.status = 'queued' AND (p.created_at < o.created_at OR (p.created_at = o.created_at AND p.id < o.id)))))`

// failureUpdate returns the status and next attempt a failed send leaves behind.
func failureUpdate(nextAttemptAt time.Time) (OutboxStatus, any) {
	if nextAttemptAt.IsZero() {
		return OutboxStatusFailed, nil
	}
	return OutboxStatusQueued, nextAttemptAt
}
