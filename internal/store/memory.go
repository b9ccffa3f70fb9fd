package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore keeps conversations, flows, catalog items, leads, dedup records and the
// reply outbox in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu sync.RWMutex

	now           func() time.Time
	conversations map[string]memoryConversation
	flows         map[string][]FlowRecord
	items         map[string]map[string]models.CatalogItem
	leads         map[string]*models.Lead
	dedup         map[string]*DedupRecord
	outbox        []OutboxMessage
	receipts      []models.Receipt
}

type memoryConversation struct {
	state     []byte
	expiresAt time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:           time.Now,
		conversations: make(map[string]memoryConversation),
		flows:         make(map[string][]FlowRecord),
		items:         make(map[string]map[string]models.CatalogItem),
		leads:         make(map[string]*models.Lead),
		dedup:         make(map[string]*DedupRecord),
	}
}

// SetClock overrides the time source (tests).
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var (
	_ ConversationStore = (*InMemoryStore)(nil)
	_ FlowRepository    = (*InMemoryStore)(nil)
	_ Catalog           = (*InMemoryStore)(nil)
	_ CatalogWriter     = (*InMemoryStore)(nil)
	_ LeadTracker       = (*InMemoryStore)(nil)
	_ LeadReader        = (*InMemoryStore)(nil)
	_ DedupRepo         = (*InMemoryStore)(nil)
	_ OutboxRepo        = (*InMemoryStore)(nil)
)

// GetConversation returns a copy of the stored state, or nil when absent or expired.
func (s *InMemoryStore) GetConversation(ctx context.Context, tenantID, senderID string) (*models.ConversationState, error) {
	s.mu.RLock()
	c, ok := s.conversations[ConversationKey(tenantID, senderID)]
	now := s.now()
	s.mu.RUnlock()
	if !ok || (!c.expiresAt.IsZero() && now.After(c.expiresAt)) {
		return nil, nil
	}
	var state models.ConversationState
	if err := state.UnmarshalJSON(c.state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s/%s: %w", tenantID, senderID, err)
	}
	return &state, nil
}

// SetConversation stores state until ttl elapses (ttl <= 0 keeps it forever).
func (s *InMemoryStore) SetConversation(ctx context.Context, tenantID, senderID string, state *models.ConversationState, ttl time.Duration) error {
	b, err := state.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s/%s: %w", tenantID, senderID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := memoryConversation{state: b}
	if ttl > 0 {
		c.expiresAt = s.now().Add(ttl)
	}
	s.conversations[ConversationKey(tenantID, senderID)] = c
	return nil
}

// ClearConversation removes the stored state.
func (s *InMemoryStore) ClearConversation(ctx context.Context, tenantID, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, ConversationKey(tenantID, senderID))
	return nil
}

func flowKey(tenantID string, domain models.Domain) string {
	return tenantID + "|" + string(domain)
}

// SaveFlowDefinition validates def and stores it as the next version.
func (s *InMemoryStore) SaveFlowDefinition(ctx context.Context, tenantID string, domain models.Domain, def *models.FlowDefinition) (int, error) {
	if tenantID == "" {
		return 0, models.ErrEmptyTenant
	}
	if err := def.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := flowKey(tenantID, domain)
	version := len(s.flows[key]) + 1
	s.flows[key] = append(s.flows[key], FlowRecord{
		TenantID: tenantID, Domain: domain, Version: version, Definition: def, CreatedAt: s.now(),
	})
	slog.Debug("InMemoryStore SaveFlowDefinition succeeded", "tenantID", tenantID, "domain", domain, "version", version)
	return version, nil
}

// PublishFlowDefinition marks version as the only published one.
func (s *InMemoryStore) PublishFlowDefinition(ctx context.Context, tenantID string, domain models.Domain, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.flows[flowKey(tenantID, domain)]
	found := false
	for i := range records {
		found = found || records[i].Version == version
	}
	if !found {
		return fmt.Errorf("%w: tenant %s domain %s version %d", models.ErrFlowNotFound, tenantID, domain, version)
	}
	for i := range records {
		records[i].Published = records[i].Version == version
	}
	return nil
}

// GetPublished returns the published definition for tenant and domain.
func (s *InMemoryStore) GetPublished(ctx context.Context, tenantID string, domain models.Domain) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.flows[flowKey(tenantID, domain)] {
		if r.Published {
			return r.Definition, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %s domain %s", models.ErrFlowNotFound, tenantID, domain)
}

// ListFlowDefinitions returns every stored version of the tenant's flows.
func (s *InMemoryStore) ListFlowDefinitions(ctx context.Context, tenantID string) ([]FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FlowRecord
	for _, records := range s.flows {
		for _, r := range records {
			if r.TenantID == tenantID {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// UpsertItem adds or replaces a catalog item.
func (s *InMemoryStore) UpsertItem(ctx context.Context, item models.CatalogItem) error {
	if item.TenantID == "" {
		return models.ErrEmptyTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[item.TenantID] == nil {
		s.items[item.TenantID] = make(map[string]models.CatalogItem)
	}
	s.items[item.TenantID][item.ID] = item
	return nil
}

// Search returns matching items ordered by ascending price.
func (s *InMemoryStore) Search(ctx context.Context, tenantID string, filter models.SearchFilter) ([]models.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CatalogItem
	for _, item := range s.items[tenantID] {
		if matchesFilter(item, filter) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Get returns one catalog item.
func (s *InMemoryStore) Get(ctx context.Context, tenantID, itemID string) (*models.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[tenantID][itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrItemNotFound, itemID)
	}
	return &item, nil
}

func matchesFilter(item models.CatalogItem, f models.SearchFilter) bool {
	if f.Kind != "" && item.Kind != f.Kind {
		return false
	}
	if !equalFoldOrEmpty(f.Purpose, item.Purpose) || !equalFoldOrEmpty(f.PropertyType, item.PropertyType) ||
		!equalFoldOrEmpty(f.City, item.City) || !equalFoldOrEmpty(f.Neighborhood, item.Neighborhood) ||
		!equalFoldOrEmpty(f.Brand, item.Brand) {
		return false
	}
	if f.Model != "" && !strings.Contains(strings.ToLower(item.Model), strings.ToLower(f.Model)) {
		return false
	}
	if f.PriceMin != nil && item.Price < *f.PriceMin {
		return false
	}
	if f.PriceMax != nil && item.Price > *f.PriceMax {
		return false
	}
	if f.Bedrooms != nil && item.Bedrooms < *f.Bedrooms {
		return false
	}
	return true
}

func equalFoldOrEmpty(want, got string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}

func leadKey(tenantID, phone string) string {
	return tenantID + "|" + phone
}

// CreateUnqualified records a lead whose search produced no results.
func (s *InMemoryStore) CreateUnqualified(ctx context.Context, senderID string, state *models.ConversationState, consent bool) error {
	return s.upsertLead(leadPhone(senderID, state), state, models.LeadStatusUnqualified, "", "", "", &consent)
}

// MarkQualified promotes the sender's lead to qualified, creating it if needed.
func (s *InMemoryStore) MarkQualified(ctx context.Context, senderID string, state *models.ConversationState) error {
	propertyID := ""
	if state != nil {
		propertyID = state.CurrentItemID
	}
	return s.upsertLead(leadPhone(senderID, state), state, models.LeadStatusQualified, "", "", propertyID, nil)
}

// UpsertStatus sets the lead status and contact details.
func (s *InMemoryStore) UpsertStatus(ctx context.Context, phone string, state *models.ConversationState, status models.LeadStatus, name, email, propertyID string) error {
	return s.upsertLead(phone, state, status, name, email, propertyID, nil)
}

func (s *InMemoryStore) upsertLead(phone string, state *models.ConversationState, status models.LeadStatus, name, email, propertyID string, consent *bool) error {
	if phone == "" {
		return models.ErrEmptySender
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := leadKey(tenantOf(state), phone)
	lead, ok := s.leads[key]
	if !ok {
		lead = &models.Lead{ID: uuid.NewString(), TenantID: tenantOf(state), Phone: phone, CreatedAt: now}
		s.leads[key] = lead
	}
	lead.Status = status
	lead.UpdatedAt = now
	if name != "" {
		lead.Name = name
	}
	if email != "" {
		lead.Email = email
	}
	if propertyID != "" {
		lead.PropertyID = propertyID
	}
	if consent != nil {
		lead.Consent = *consent
	}
	if c := leadCriteria(state); len(c) > 0 {
		lead.Criteria = c
	}
	slog.Debug("InMemoryStore lead upserted", "phone", phone, "status", status)
	return nil
}

// GetLead returns the lead recorded for phone.
func (s *InMemoryStore) GetLead(ctx context.Context, tenantID, phone string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[leadKey(tenantID, phone)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLeadNotFound, phone)
	}
	cp := *lead
	return &cp, nil
}

// IsDuplicate reports whether the tenant already recorded messageID.
func (s *InMemoryStore) IsDuplicate(tenantID, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[dedupKey(tenantID, messageID)]
	return ok, nil
}

// RecordInbound records messageID for the tenant, returning false if it was already recorded.
func (s *InMemoryStore) RecordInbound(tenantID, messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(tenantID, messageID)
	if _, ok := s.dedup[key]; ok {
		return false, nil
	}
	s.dedup[key] = &DedupRecord{TenantID: tenantID, MessageID: messageID, SenderID: senderID, ReceivedAt: s.now()}
	return true, nil
}

// MarkProcessed stamps the processed time of messageID.
func (s *InMemoryStore) MarkProcessed(tenantID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[dedupKey(tenantID, messageID)]; ok {
		now := s.now()
		r.ProcessedAt = &now
	}
	return nil
}

// DedupRecord returns a copy of the record for messageID (tests and diagnostics).
func (s *InMemoryStore) DedupRecord(tenantID, messageID string) (DedupRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.dedup[dedupKey(tenantID, messageID)]
	if !ok {
		return DedupRecord{}, false
	}
	return *r, true
}

// AddReceipt stores a delivery receipt.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns all stored receipts.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}
