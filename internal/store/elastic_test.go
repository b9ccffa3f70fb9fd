package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestElasticCatalog(t *testing.T, handler http.HandlerFunc) *ElasticCatalog {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewElasticCatalogFromClient(client, "")
}

func TestBuildElasticQuery(t *testing.T) {
	min, max := 100000.0, 500000.0
	beds := 2
	q := buildElasticQuery("acme", models.SearchFilter{
		Kind: models.ItemKindProperty, City: "Recife", PriceMin: &min, PriceMax: &max, Bedrooms: &beds,
	})

	assert.Equal(t, models.DefaultSearchLimit, q["size"])
	boolQuery := q["query"].(map[string]any)["bool"].(map[string]any)
	filters := boolQuery["filter"].([]any)
	assert.Len(t, filters, 4)
	assert.Equal(t, map[string]any{"term": map[string]any{"tenant_id": "acme"}}, filters[0])
	assert.Len(t, boolQuery["must"].([]any), 1)
}

func TestElasticCatalog_Search(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newTestElasticCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		io.WriteString(w, `{"hits":{"hits":[{"_source":{"id":"p1","tenant_id":"acme","kind":"property","price":350000}}]}}`)
	})

	items, err := c.Search(context.Background(), "acme", models.SearchFilter{Kind: models.ItemKindProperty, Limit: 3})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ID)
	assert.Equal(t, 350000.0, items[0].Price)
	assert.Equal(t, "/"+DefaultCatalogIndex+"/_search", gotPath)
	assert.EqualValues(t, 3, gotBody["size"])
}

func TestElasticCatalog_SearchMissingIndex(t *testing.T) {
	c := newTestElasticCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"type":"index_not_found_exception"},"status":404}`)
	})
	items, err := c.Search(context.Background(), "acme", models.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestElasticCatalog_GetAndUpsert(t *testing.T) {
	c := newTestElasticCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/acme:p1"):
			io.WriteString(w, `{"found":true,"_source":{"id":"p1","tenant_id":"acme","title":"Apto"}}`)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"found":false}`)
		default:
			assert.Equal(t, "true", r.URL.Query().Get("refresh"))
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"result":"created"}`)
		}
	})
	ctx := context.Background()

	item, err := c.Get(ctx, "acme", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apto", item.Title)

	_, err = c.Get(ctx, "acme", "p2")
	assert.ErrorIs(t, err, models.ErrItemNotFound)

	require.NoError(t, c.UpsertItem(ctx, models.CatalogItem{ID: "p3", TenantID: "acme"}))
	assert.ErrorIs(t, c.UpsertItem(ctx, models.CatalogItem{ID: "p4"}), models.ErrEmptyTenant)
}
