package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// testNow is a Wednesday.
var testNow = time.Date(2025, time.March, 12, 9, 30, 0, 0, time.UTC)

// recordingCatalog wraps the in-memory catalog and records every filter it is asked for.
type recordingCatalog struct {
	*store.InMemoryStore
	mu      sync.Mutex
	filters []models.SearchFilter
	err     error
}

func (c *recordingCatalog) Search(ctx context.Context, tenantID string, filter models.SearchFilter) ([]models.CatalogItem, error) {
	c.mu.Lock()
	c.filters = append(c.filters, filter)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.InMemoryStore.Search(ctx, tenantID, filter)
}

func (c *recordingCatalog) lastFilter(t *testing.T) models.SearchFilter {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filters) == 0 {
		t.Fatal("catalog was never searched")
	}
	return c.filters[len(c.filters)-1]
}

var errCatalogDown = errors.New("catalog down")

func seedCatalog(t *testing.T, s *store.InMemoryStore) {
	t.Helper()
	items := []models.CatalogItem{
		{ID: "p1", TenantID: "acme", Kind: models.ItemKindProperty, Title: "Apartamento Boa Viagem", Purpose: PurposeSale,
			PropertyType: PropertyApartment, City: "Recife", Neighborhood: "Boa Viagem", Price: 450000, Bedrooms: 3, AreaM2: 90,
			Description: "Vista mar", URL: "https://example.com/p1"},
		{ID: "p2", TenantID: "acme", Kind: models.ItemKindProperty, Title: "Apartamento Casa Forte", Purpose: PurposeSale,
			PropertyType: PropertyApartment, City: "Recife", Neighborhood: "Casa Forte", Price: 350000, Bedrooms: 2},
		{ID: "c1", TenantID: "acme", Kind: models.ItemKindVehicle, Brand: "Fiat", Model: "Argo Drive", Year: 2022, Price: 78000},
	}
	for _, item := range items {
		if err := s.UpsertItem(context.Background(), item); err != nil {
			t.Fatalf("UpsertItem failed: %v", err)
		}
	}
}

// newTestEngine returns an engine over a seeded in-memory store.
func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore, *recordingCatalog) {
	t.Helper()
	mem := store.NewInMemoryStore()
	seedCatalog(t, mem)
	catalog := &recordingCatalog{InMemoryStore: mem}
	e := NewEngine(WithCatalog(catalog), WithLeadTracker(mem), WithClock(func() time.Time { return testNow }))
	return e, mem, catalog
}

func testState(stage string) *models.ConversationState {
	st := models.NewConversationState("acme", "5581999990000@s.whatsapp.net")
	st.Stage = stage
	return st
}

func process(t *testing.T, e *Engine, def *models.FlowDefinition, st *models.ConversationState, text string) Result {
	t.Helper()
	res, err := e.Process(context.Background(), def, st.SenderID, models.DomainRealEstate, text, Normalize(text), st)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	return res
}

func ptr[T any](v T) *T {
	return &v
}
