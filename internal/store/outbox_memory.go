package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/util"
)

func (s *InMemoryStore) EnqueueOutboxMessage(tenantID, recipient, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.TenantID == tenantID && m.DedupeKey == dedupeKey && !m.Status.terminal() {
				return m.ID, nil
			}
		}
	}
	now := s.now()
	id := util.GenerateOutboxID()
	s.outbox = append(s.outbox, OutboxMessage{
		ID: id, TenantID: tenantID, Recipient: recipient, Body: body, Status: OutboxStatusQueued,
		DedupeKey: dedupeKey, CreatedAt: now, UpdatedAt: now,
	})
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(tenantID string, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The outbox slice is in enqueue order, so the first queued reply per recipient heads
	// its queue.
	blocked := make(map[string]bool)
	for _, m := range s.outbox {
		if m.TenantID == tenantID && m.Status == OutboxStatusSending {
			blocked[m.Recipient] = true
		}
	}
	idx := make([]int, 0)
	for i, m := range s.outbox {
		if m.TenantID != tenantID || m.Status != OutboxStatusQueued || blocked[m.Recipient] {
			continue
		}
		blocked[m.Recipient] = true
		if m.NextAttemptAt == nil || !m.NextAttemptAt.After(now) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.outbox[idx[a]].CreatedAt.Before(s.outbox[idx[b]].CreatedAt) })
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	out := make([]OutboxMessage, 0, len(idx))
	for _, i := range idx {
		locked := now
		s.outbox[i].Status = OutboxStatusSending
		s.outbox[i].LockedAt = &locked
		s.outbox[i].UpdatedAt = now
		out = append(out, s.outbox[i])
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
		if nextAttemptAt.IsZero() {
			m.Status = OutboxStatusFailed
			m.NextAttemptAt = nil
			return
		}
		next := nextAttemptAt
		m.Status = OutboxStatusQueued
		m.NextAttemptAt = &next
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(tenantID string, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.outbox {
		m := &s.outbox[i]
		if m.TenantID == tenantID && m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of the outbox (tests and diagnostics).
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]OutboxMessage(nil), s.outbox...)
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			s.outbox[i].UpdatedAt = s.now()
			return nil
		}
	}
	return fmt.Errorf("outbox message %s not found", id)
}
