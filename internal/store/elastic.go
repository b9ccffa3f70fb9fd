package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/elastic/go-elasticsearch/v8"
)

// DefaultCatalogIndex is the index listings are stored in when none is configured.
const DefaultCatalogIndex = "leadpipe-catalog"

// ElasticCatalog serves catalog search from Elasticsearch. Documents are keyed by
// "<tenant>:<item id>" and carry the models.CatalogItem JSON fields.
type ElasticCatalog struct {
	client *elasticsearch.Client
	index  string
}

var (
	_ Catalog       = (*ElasticCatalog)(nil)
	_ CatalogWriter = (*ElasticCatalog)(nil)
)

// NewElasticCatalog creates a catalog backed by the given cluster addresses.
func NewElasticCatalog(addresses []string, index string) (*ElasticCatalog, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return NewElasticCatalogFromClient(es, index), nil
}

// NewElasticCatalogFromClient wraps an existing client.
func NewElasticCatalogFromClient(client *elasticsearch.Client, index string) *ElasticCatalog {
	if index == "" {
		index = DefaultCatalogIndex
	}
	return &ElasticCatalog{client: client, index: index}
}

func elasticDocID(tenantID, itemID string) string {
	return tenantID + ":" + itemID
}

// UpsertItem indexes item, replacing any previous version.
func (c *ElasticCatalog) UpsertItem(ctx context.Context, item models.CatalogItem) error {
	if item.TenantID == "" {
		return models.ErrEmptyTenant
	}
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode catalog item: %w", err)
	}
	res, err := c.client.Index(c.index, bytes.NewReader(body),
		c.client.Index.WithContext(ctx),
		c.client.Index.WithDocumentID(elasticDocID(item.TenantID, item.ID)),
		c.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch index failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.Status())
	}
	return nil
}

// Search runs a filtered query ordered by ascending price.
func (c *ElasticCatalog) Search(ctx context.Context, tenantID string, filter models.SearchFilter) ([]models.CatalogItem, error) {
	query, err := json.Marshal(buildElasticQuery(tenantID, filter))
	if err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}
	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.index),
		c.client.Search.WithBody(bytes.NewReader(query)),
	)
	if err != nil {
		slog.Error("ElasticCatalog Search failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.CatalogItem `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	items := make([]models.CatalogItem, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		items = append(items, h.Source)
	}
	slog.Debug("ElasticCatalog Search succeeded", "tenantID", tenantID, "count", len(items))
	return items, nil
}

// Get fetches one item by id.
func (c *ElasticCatalog) Get(ctx context.Context, tenantID, itemID string) (*models.CatalogItem, error) {
	res, err := c.client.Get(c.index, elasticDocID(tenantID, itemID), c.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch get failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", models.ErrItemNotFound, itemID)
	}
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch get error: %s", res.Status())
	}
	var parsed struct {
		Found  bool               `json:"found"`
		Source models.CatalogItem `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode get response: %w", err)
	}
	if !parsed.Found {
		return nil, fmt.Errorf("%w: %s", models.ErrItemNotFound, itemID)
	}
	return &parsed.Source, nil
}

func buildElasticQuery(tenantID string, f models.SearchFilter) map[string]any {
	filters := []any{
		map[string]any{"term": map[string]any{"tenant_id": tenantID}},
	}
	var must []any
	if f.Kind != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"kind": string(f.Kind)}})
	}
	for field, value := range map[string]string{
		"purpose": f.Purpose, "property_type": f.PropertyType, "city": f.City,
		"neighborhood": f.Neighborhood, "brand": f.Brand, "model": f.Model,
	} {
		if v := strings.TrimSpace(value); v != "" {
			must = append(must, map[string]any{"match": map[string]any{field: map[string]any{"query": v, "operator": "and"}}})
		}
	}
	price := map[string]any{}
	if f.PriceMin != nil {
		price["gte"] = *f.PriceMin
	}
	if f.PriceMax != nil {
		price["lte"] = *f.PriceMax
	}
	if len(price) > 0 {
		filters = append(filters, map[string]any{"range": map[string]any{"price": price}})
	}
	if f.Bedrooms != nil {
		filters = append(filters, map[string]any{"range": map[string]any{"bedrooms": map[string]any{"gte": *f.Bedrooms}}})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}
	boolQuery := map[string]any{"filter": filters}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	return map[string]any{
		"size":  limit,
		"query": map[string]any{"bool": boolQuery},
		"sort":  []any{map[string]any{"price": "asc"}},
	}
}
