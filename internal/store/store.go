// Package store provides storage backends for LeadPipe.
//
// It defines the collaborator interfaces the flow engine and orchestrator depend on
// (conversation state, published flows, catalog search, lead tracking, inbound dedup,
// reply outbox) and their in-memory, Redis, SQL, file and Elasticsearch implementations.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultConversationTTL is how long an idle conversation state is kept.
const DefaultConversationTTL = 24 * time.Hour

// ConversationStore persists per-conversation state with a TTL.
type ConversationStore interface {
	// GetConversation returns the stored state, or nil when none exists.
	GetConversation(ctx context.Context, tenantID, senderID string) (*models.ConversationState, error)
	SetConversation(ctx context.Context, tenantID, senderID string, state *models.ConversationState, ttl time.Duration) error
	ClearConversation(ctx context.Context, tenantID, senderID string) error
}

// FlowStore resolves the published flow of a tenant. Returns models.ErrFlowNotFound when the
// tenant has none for the domain.
type FlowStore interface {
	GetPublished(ctx context.Context, tenantID string, domain models.Domain) (*models.FlowDefinition, error)
}

// FlowRecord is a stored flow definition version.
type FlowRecord struct {
	TenantID   string                 `json:"tenant_id"`
	Domain     models.Domain          `json:"domain"`
	Version    int                    `json:"version"`
	Published  bool                   `json:"published"`
	Definition *models.FlowDefinition `json:"definition"`
	CreatedAt  time.Time              `json:"created_at"`
}

// FlowRepository stores versioned flow definitions. At most one version per tenant and
// domain is published at a time.
type FlowRepository interface {
	FlowStore
	// SaveFlowDefinition validates and stores def as a new version, returning the version.
	SaveFlowDefinition(ctx context.Context, tenantID string, domain models.Domain, def *models.FlowDefinition) (int, error)
	PublishFlowDefinition(ctx context.Context, tenantID string, domain models.Domain, version int) error
	ListFlowDefinitions(ctx context.Context, tenantID string) ([]FlowRecord, error)
}

// Catalog searches tenant listings.
type Catalog interface {
	Search(ctx context.Context, tenantID string, filter models.SearchFilter) ([]models.CatalogItem, error)
	// Get returns models.ErrItemNotFound when the item does not exist.
	Get(ctx context.Context, tenantID, itemID string) (*models.CatalogItem, error)
}

// CatalogWriter loads listings into a catalog.
type CatalogWriter interface {
	UpsertItem(ctx context.Context, item models.CatalogItem) error
}

// LeadTracker records leads produced by conversations.
type LeadTracker interface {
	CreateUnqualified(ctx context.Context, senderID string, state *models.ConversationState, consent bool) error
	MarkQualified(ctx context.Context, senderID string, state *models.ConversationState) error
	UpsertStatus(ctx context.Context, phone string, state *models.ConversationState, status models.LeadStatus, name, email, propertyID string) error
}

// LeadReader lists recorded leads.
type LeadReader interface {
	GetLead(ctx context.Context, tenantID, phone string) (*models.Lead, error)
}

// Opts holds configuration options for SQL stores.
type Opts struct {
	DSN string
}

// Option defines a functional option for configuring a store.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for Postgres URLs or key/value DSNs and "sqlite3" for
// anything else (a file path).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// leadPhone returns the phone a lead is keyed by: the captured visit phone, else the sender.
func leadPhone(senderID string, state *models.ConversationState) string {
	if state != nil && state.VisitPhone != "" {
		return state.VisitPhone
	}
	return senderID
}

// leadCriteria extracts the search criteria recorded with a lead.
func leadCriteria(state *models.ConversationState) map[string]any {
	if state == nil {
		return nil
	}
	criteria := map[string]any{}
	for _, key := range []string{"purpose", "property_type", "city", "neighborhood", "price_min", "price_max", "bedrooms", "brand", "model"} {
		if v, ok := state.Get(key); ok {
			criteria[key] = v
		}
	}
	return criteria
}

func tenantOf(state *models.ConversationState) string {
	if state == nil {
		return ""
	}
	return state.TenantID
}
