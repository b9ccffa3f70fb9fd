package models

import "time"

// ItemKind distinguishes catalog records.
type ItemKind string

const (
	// ItemKindProperty is a real-estate listing.
	ItemKindProperty ItemKind = "property"
	// ItemKindVehicle is a car-dealer listing.
	ItemKindVehicle ItemKind = "vehicle"
)

// CatalogItem is a searchable listing owned by a tenant.
type CatalogItem struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	Kind         ItemKind `json:"kind"`
	Title        string   `json:"title"`
	Purpose      string   `json:"purpose,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	City         string   `json:"city,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	Price        float64  `json:"price"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	AreaM2       float64  `json:"area_m2,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Model        string   `json:"model,omitempty"`
	Year         int      `json:"year,omitempty"`
	Description  string   `json:"description,omitempty"`
	URL          string   `json:"url,omitempty"`
}

// SearchFilter is built from accumulated conversation answers.
type SearchFilter struct {
	Kind         ItemKind `json:"kind"`
	Purpose      string   `json:"purpose,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	City         string   `json:"city,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	PriceMin     *float64 `json:"price_min,omitempty"`
	PriceMax     *float64 `json:"price_max,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Model        string   `json:"model,omitempty"`
	Limit        int      `json:"limit"`
}

// LeadStatus is the lifecycle status of a lead.
type LeadStatus string

const (
	LeadStatusUnqualified LeadStatus = "unqualified"
	LeadStatusQualified   LeadStatus = "qualified"
	LeadStatusScheduled   LeadStatus = "visit_scheduled"
	LeadStatusHandoff     LeadStatus = "handoff"
)

// Lead is a prospective customer captured by a conversation.
type Lead struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Phone      string         `json:"phone"`
	Status     LeadStatus     `json:"status"`
	Name       string         `json:"name,omitempty"`
	Email      string         `json:"email,omitempty"`
	PropertyID string         `json:"property_id,omitempty"`
	Consent    bool           `json:"consent"`
	Criteria   map[string]any `json:"criteria,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IntentExtraction is the best-effort output of the LLM intent/entity extractor.
type IntentExtraction struct {
	Intent   string         `json:"intent"`
	Entities map[string]any `json:"entities,omitempty"`
}
