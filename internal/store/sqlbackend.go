package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/google/uuid"
)

// sqlBackend holds the queries shared by the SQLite and Postgres stores. Queries are written
// with '?' placeholders and rebound for the dialect.
type sqlBackend struct {
	db      *sql.DB
	name    string
	dollars bool
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (b *sqlBackend) bind(query string) string {
	if !b.dollars {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SaveFlowDefinition validates def and stores it as the next version for tenant and domain.
func (b *sqlBackend) SaveFlowDefinition(ctx context.Context, tenantID string, domain models.Domain, def *models.FlowDefinition) (int, error) {
	if tenantID == "" {
		return 0, models.ErrEmptyTenant
	}
	if err := def.Validate(); err != nil {
		slog.Warn(b.name+" SaveFlowDefinition rejected invalid definition", "tenantID", tenantID, "domain", domain, "error", err)
		return 0, err
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return 0, fmt.Errorf("failed to encode flow definition: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		b.bind(`SELECT COALESCE(MAX(version), 0) + 1 FROM flow_definitions WHERE tenant_id = ? AND domain = ?`),
		tenantID, string(domain),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next flow version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		b.bind(`INSERT INTO flow_definitions (tenant_id, domain, version, published, definition, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		tenantID, string(domain), version, false, string(payload), time.Now(),
	)
	if err != nil {
		slog.Error(b.name+" SaveFlowDefinition failed", "error", err, "tenantID", tenantID, "domain", domain)
		return 0, fmt.Errorf("failed to insert flow definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit flow definition: %w", err)
	}
	slog.Debug(b.name+" SaveFlowDefinition succeeded", "tenantID", tenantID, "domain", domain, "version", version)
	return version, nil
}

// PublishFlowDefinition makes version the only published definition for tenant and domain.
func (b *sqlBackend) PublishFlowDefinition(ctx context.Context, tenantID string, domain models.Domain, version int) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		b.bind(`SELECT COUNT(*) FROM flow_definitions WHERE tenant_id = ? AND domain = ? AND version = ?`),
		tenantID, string(domain), version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up flow version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: tenant %s domain %s version %d", models.ErrFlowNotFound, tenantID, domain, version)
	}

	if _, err := tx.ExecContext(ctx,
		b.bind(`UPDATE flow_definitions SET published = ? WHERE tenant_id = ? AND domain = ? AND published = ?`),
		false, tenantID, string(domain), true,
	); err != nil {
		return fmt.Errorf("failed to unpublish flow definitions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		b.bind(`UPDATE flow_definitions SET published = ? WHERE tenant_id = ? AND domain = ? AND version = ?`),
		true, tenantID, string(domain), version,
	); err != nil {
		return fmt.Errorf("failed to publish flow definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}
	slog.Info(b.name+" flow definition published", "tenantID", tenantID, "domain", domain, "version", version)
	return nil
}

// GetPublished returns the published definition for tenant and domain.
func (b *sqlBackend) GetPublished(ctx context.Context, tenantID string, domain models.Domain) (*models.FlowDefinition, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		b.bind(`SELECT definition FROM flow_definitions WHERE tenant_id = ? AND domain = ? AND published = ? ORDER BY version DESC LIMIT 1`),
		tenantID, string(domain), true,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tenant %s domain %s", models.ErrFlowNotFound, tenantID, domain)
	}
	if err != nil {
		slog.Error(b.name+" GetPublished failed", "error", err, "tenantID", tenantID, "domain", domain)
		return nil, fmt.Errorf("failed to query published flow: %w", err)
	}
	var def models.FlowDefinition
	if err := json.Unmarshal(payload, &def); err != nil {
		return nil, fmt.Errorf("failed to decode published flow: %w", err)
	}
	return &def, nil
}

// ListFlowDefinitions returns every stored version for the tenant.
func (b *sqlBackend) ListFlowDefinitions(ctx context.Context, tenantID string) ([]FlowRecord, error) {
	rows, err := b.db.QueryContext(ctx,
		b.bind(`SELECT tenant_id, domain, version, published, definition, created_at FROM flow_definitions WHERE tenant_id = ? ORDER BY domain, version`),
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow definitions: %w", err)
	}
	defer rows.Close()

	var out []FlowRecord
	for rows.Next() {
		var r FlowRecord
		var domain string
		var payload []byte
		if err := rows.Scan(&r.TenantID, &domain, &r.Version, &r.Published, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow definition: %w", err)
		}
		r.Domain = models.Domain(domain)
		r.Definition = &models.FlowDefinition{}
		if err := json.Unmarshal(payload, r.Definition); err != nil {
			return nil, fmt.Errorf("failed to decode flow definition v%d: %w", r.Version, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow definitions: %w", err)
	}
	return out, nil
}

const catalogColumns = `id, tenant_id, kind, title, purpose, property_type, city, neighborhood, price, bedrooms, area_m2, brand, model, year, description, url`

// UpsertItem adds or replaces a catalog item.
func (b *sqlBackend) UpsertItem(ctx context.Context, item models.CatalogItem) error {
	if item.TenantID == "" {
		return models.ErrEmptyTenant
	}
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO catalog_items (`+catalogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			kind = excluded.kind, title = excluded.title, purpose = excluded.purpose,
			property_type = excluded.property_type, city = excluded.city, neighborhood = excluded.neighborhood,
			price = excluded.price, bedrooms = excluded.bedrooms, area_m2 = excluded.area_m2,
			brand = excluded.brand, model = excluded.model, year = excluded.year,
			description = excluded.description, url = excluded.url`),
		item.ID, item.TenantID, string(item.Kind), item.Title, item.Purpose, item.PropertyType, item.City,
		item.Neighborhood, item.Price, item.Bedrooms, item.AreaM2, item.Brand, item.Model, item.Year,
		item.Description, item.URL,
	)
	if err != nil {
		slog.Error(b.name+" UpsertItem failed", "error", err, "tenantID", item.TenantID, "itemID", item.ID)
		return fmt.Errorf("failed to upsert catalog item %s: %w", item.ID, err)
	}
	return nil
}

// Search returns items matching filter ordered by ascending price.
func (b *sqlBackend) Search(ctx context.Context, tenantID string, filter models.SearchFilter) ([]models.CatalogItem, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	eq := func(column, value string) {
		if value != "" {
			where = append(where, "LOWER("+column+") = LOWER(?)")
			args = append(args, strings.TrimSpace(value))
		}
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	eq("purpose", filter.Purpose)
	eq("property_type", filter.PropertyType)
	eq("city", filter.City)
	eq("neighborhood", filter.Neighborhood)
	eq("brand", filter.Brand)
	if filter.Model != "" {
		where = append(where, "LOWER(model) LIKE LOWER(?)")
		args = append(args, "%"+filter.Model+"%")
	}
	if filter.PriceMin != nil {
		where = append(where, "price >= ?")
		args = append(args, *filter.PriceMin)
	}
	if filter.PriceMax != nil {
		where = append(where, "price <= ?")
		args = append(args, *filter.PriceMax)
	}
	if filter.Bedrooms != nil {
		where = append(where, "bedrooms >= ?")
		args = append(args, *filter.Bedrooms)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}
	args = append(args, limit)

	query := `SELECT ` + catalogColumns + ` FROM catalog_items WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY price ASC, id ASC LIMIT ?`
	rows, err := b.db.QueryContext(ctx, b.bind(query), args...)
	if err != nil {
		slog.Error(b.name+" Search failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	defer rows.Close()

	var items []models.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog rows: %w", err)
	}
	slog.Debug(b.name+" Search succeeded", "tenantID", tenantID, "count", len(items))
	return items, nil
}

// Get returns one catalog item.
func (b *sqlBackend) Get(ctx context.Context, tenantID, itemID string) (*models.CatalogItem, error) {
	rows, err := b.db.QueryContext(ctx,
		b.bind(`SELECT `+catalogColumns+` FROM catalog_items WHERE tenant_id = ? AND id = ?`),
		tenantID, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog item: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query catalog item: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", models.ErrItemNotFound, itemID)
	}
	item, err := scanCatalogItem(rows)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanCatalogItem(rows *sql.Rows) (models.CatalogItem, error) {
	var item models.CatalogItem
	var kind string
	err := rows.Scan(&item.ID, &item.TenantID, &kind, &item.Title, &item.Purpose, &item.PropertyType,
		&item.City, &item.Neighborhood, &item.Price, &item.Bedrooms, &item.AreaM2, &item.Brand,
		&item.Model, &item.Year, &item.Description, &item.URL)
	if err != nil {
		return item, fmt.Errorf("scan catalog item failed: %w", err)
	}
	item.Kind = models.ItemKind(kind)
	return item, nil
}

// CreateUnqualified records a lead whose search produced no results.
func (b *sqlBackend) CreateUnqualified(ctx context.Context, senderID string, state *models.ConversationState, consent bool) error {
	return b.upsertLead(ctx, leadPhone(senderID, state), state, models.LeadStatusUnqualified, "", "", "", &consent)
}

// MarkQualified promotes the sender's lead to qualified.
func (b *sqlBackend) MarkQualified(ctx context.Context, senderID string, state *models.ConversationState) error {
	propertyID := ""
	if state != nil {
		propertyID = state.CurrentItemID
	}
	return b.upsertLead(ctx, leadPhone(senderID, state), state, models.LeadStatusQualified, "", "", propertyID, nil)
}

// UpsertStatus sets status and contact details of the lead keyed by phone.
func (b *sqlBackend) UpsertStatus(ctx context.Context, phone string, state *models.ConversationState, status models.LeadStatus, name, email, propertyID string) error {
	return b.upsertLead(ctx, phone, state, status, name, email, propertyID, nil)
}

func (b *sqlBackend) upsertLead(ctx context.Context, phone string, state *models.ConversationState, status models.LeadStatus, name, email, propertyID string, consent *bool) error {
	if phone == "" {
		return models.ErrEmptySender
	}
	var criteria any
	if c := leadCriteria(state); len(c) > 0 {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode lead criteria: %w", err)
		}
		criteria = string(raw)
	}
	setConsent := consent != nil
	consentValue := setConsent && *consent
	now := time.Now()

	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO leads (id, tenant_id, phone, status, name, email, property_id, consent, criteria, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			status = excluded.status,
			name = COALESCE(NULLIF(excluded.name, ''), leads.name),
			email = COALESCE(NULLIF(excluded.email, ''), leads.email),
			property_id = COALESCE(NULLIF(excluded.property_id, ''), leads.property_id),
			consent = CASE WHEN ? THEN excluded.consent ELSE leads.consent END,
			criteria = COALESCE(excluded.criteria, leads.criteria),
			updated_at = excluded.updated_at`),
		uuid.NewString(), tenantOf(state), phone, string(status), name, email, propertyID, consentValue, criteria, now, now,
		setConsent,
	)
	if err != nil {
		slog.Error(b.name+" lead upsert failed", "error", err, "phone", phone, "status", status)
		return fmt.Errorf("failed to upsert lead %s: %w", phone, err)
	}
	slog.Debug(b.name+" lead upserted", "phone", phone, "status", status)
	return nil
}

// GetLead returns the lead recorded for phone.
func (b *sqlBackend) GetLead(ctx context.Context, tenantID, phone string) (*models.Lead, error) {
	var lead models.Lead
	var status string
	var criteria []byte
	err := b.db.QueryRowContext(ctx,
		b.bind(`SELECT id, tenant_id, phone, status, name, email, property_id, consent, criteria, created_at, updated_at FROM leads WHERE tenant_id = ? AND phone = ?`),
		tenantID, phone,
	).Scan(&lead.ID, &lead.TenantID, &lead.Phone, &status, &lead.Name, &lead.Email, &lead.PropertyID,
		&lead.Consent, &criteria, &lead.CreatedAt, &lead.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrLeadNotFound, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead: %w", err)
	}
	lead.Status = models.LeadStatus(status)
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &lead.Criteria); err != nil {
			slog.Warn(b.name+" GetLead criteria decode failed", "error", err, "phone", phone)
		}
	}
	return &lead, nil
}

// AddReceipt stores a delivery receipt.
func (b *sqlBackend) AddReceipt(r models.Receipt) error {
	_, err := b.db.Exec(b.bind(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`), r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error(b.name+" AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug(b.name+" AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns all stored receipts.
func (b *sqlBackend) GetReceipts() ([]models.Receipt, error) {
	rows, err := b.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error(b.name+" GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		if err := rows.Scan(&r.To, &status, &r.Time); err != nil {
			slog.Error(b.name+" GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Status = models.MessageStatus(status)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// Close closes the database connection.
func (b *sqlBackend) Close() error {
	slog.Debug("Closing " + b.name + " database connection")
	err := b.db.Close()
	if err != nil {
		slog.Error("Failed to close database", "store", b.name, "error", err)
	}
	return err
}
