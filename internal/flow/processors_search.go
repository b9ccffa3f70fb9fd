package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrNoCatalog is returned when a search or card node runs without a catalog.
var ErrNoCatalog = errors.New("no catalog configured")

// Default texts of the search and card nodes.
const (
	DefaultEmptySearchMessage = "Não encontrei opções com esses critérios. Quer ajustar algum filtro? Você pode mudar cidade, bairro, tipo, quartos ou preço."
	DefaultEndOfResults       = "Essas foram todas as opções que encontrei. Quer ajustar algum filtro ou começar uma nova busca?"
	DefaultCardFooter         = "Gostou? Posso mostrar mais detalhes, o próximo ou agendar uma visita."
)

// BuildSearchFilter derives the catalog filter from the state. An inverted price pair is
// swapped, in the filter and in the state.
func BuildSearchFilter(st *models.ConversationState, kind models.NodeType, limit int) models.SearchFilter {
	if st.PriceMin != nil && st.PriceMax != nil && *st.PriceMin > *st.PriceMax {
		st.PriceMin, st.PriceMax = st.PriceMax, st.PriceMin
	}
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}
	f := models.SearchFilter{
		Kind:     models.ItemKindProperty,
		PriceMin: st.PriceMin,
		PriceMax: st.PriceMax,
		Limit:    limit,
	}
	if kind == models.NodeTypeExecuteVehicleSearch {
		f.Kind = models.ItemKindVehicle
		f.Brand = st.Brand
		f.Model = st.Model
		return f
	}
	f.Purpose = st.Purpose
	f.PropertyType = st.PropertyType
	f.City = st.City
	f.Neighborhood = st.Neighborhood
	f.Bedrooms = st.Bedrooms
	return f
}

func (e *Engine) processSearch(ctx context.Context, c *nodeCall, cfg models.SearchConfig) error {
	if e.catalog == nil {
		return ErrNoCatalog
	}
	st := c.state
	filter := BuildSearchFilter(st, c.kind, cfg.Limit)
	items, err := e.catalog.Search(ctx, st.TenantID, filter)
	if err != nil {
		return fmt.Errorf("catalog search failed: %w", err)
	}
	slog.Debug("Engine search executed", "tenantID", st.TenantID, "senderID", c.senderID, "results", len(items))

	st.ResultCursor = 0
	st.CurrentItemID = ""
	if len(items) == 0 {
		st.ResultIDs = nil
		if e.leads != nil {
			consent, _ := st.Extra["consent"].(bool)
			if err := e.leads.CreateUnqualified(ctx, c.senderID, st, consent); err != nil {
				return fmt.Errorf("failed to record unqualified lead: %w", err)
			}
		}
		msg := DefaultEmptySearchMessage
		if cfg.EmptyMessage != "" {
			msg = Render(cfg.EmptyMessage, st)
		}
		c.say(msg)
		c.moveTo(stageFor(c.def, models.NodeTypeRefinementDecision, models.StageAwaitingRefinement))
		return nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	st.ResultIDs = ids
	c.moveTo(stageFor(c.def, models.NodeTypeShowPropertyCard, models.StageShowingProperty))
	c.cont = true
	return nil
}

func (e *Engine) processCard(ctx context.Context, c *nodeCall, cfg models.CardConfig) error {
	if e.catalog == nil {
		return ErrNoCatalog
	}
	st := c.state
	if st.ResultCursor >= len(st.ResultIDs) {
		msg := DefaultEndOfResults
		if cfg.EndMessage != "" {
			msg = Render(cfg.EndMessage, st)
		}
		c.say(msg)
		c.moveTo(stageFor(c.def, models.NodeTypeRefinementDecision, models.StageAwaitingRefinement))
		return nil
	}

	id := st.ResultIDs[st.ResultCursor]
	item, err := e.catalog.Get(ctx, st.TenantID, id)
	if errors.Is(err, models.ErrItemNotFound) {
		slog.Warn("Engine card skipping vanished item", "itemID", id, "tenantID", st.TenantID)
		st.ResultCursor++
		c.hold()
		c.cont = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog get failed: %w", err)
	}

	st.CurrentItemID = item.ID
	card := FormatCard(item) + fmt.Sprintf("\n\n(%d de %d)", st.ResultCursor+1, len(st.ResultIDs))
	c.say(card + "\n" + c.prompt(DefaultCardFooter))
	c.moveTo(stageFor(c.def, models.NodeTypePropertyFeedbackDecision, models.StagePropertyFeedback))
	return nil
}

var propertyTypeLabels = map[string]string{
	PropertyApartment:  "Apartamento",
	PropertyHouse:      "Casa",
	PropertyLand:       "Terreno",
	PropertyCommercial: "Imóvel comercial",
}

// FormatPrice renders a value as Brazilian currency without cents.
func FormatPrice(v float64) string {
	return message.NewPrinter(language.BrazilianPortuguese).Sprintf("R$ %d", int64(v))
}

// FormatCard renders a catalog item as a WhatsApp message.
func FormatCard(item *models.CatalogItem) string {
	var b strings.Builder
	if item.Kind == models.ItemKindVehicle {
		fmt.Fprintf(&b, "*%s %s*", item.Brand, item.Model)
		if item.Year > 0 {
			fmt.Fprintf(&b, " %d", item.Year)
		}
		fmt.Fprintf(&b, "\n%s", FormatPrice(item.Price))
		return b.String()
	}
	title := item.Title
	if title == "" {
		title = propertyTypeLabels[item.PropertyType]
	}
	fmt.Fprintf(&b, "*%s*", title)
	place := item.City
	if item.Neighborhood != "" {
		place = item.Neighborhood + ", " + item.City
	}
	if place != "" {
		fmt.Fprintf(&b, "\n%s", place)
	}
	var details []string
	if item.Bedrooms > 0 {
		details = append(details, fmt.Sprintf("%d quartos", item.Bedrooms))
	}
	if item.AreaM2 > 0 {
		details = append(details, fmt.Sprintf("%.0f m²", item.AreaM2))
	}
	if len(details) > 0 {
		fmt.Fprintf(&b, "\n%s", strings.Join(details, " · "))
	}
	fmt.Fprintf(&b, "\n%s", FormatPrice(item.Price))
	return b.String()
}

// FormatDetails renders the long description of an item.
func FormatDetails(item *models.CatalogItem) string {
	var b strings.Builder
	b.WriteString(FormatCard(item))
	if item.Description != "" {
		fmt.Fprintf(&b, "\n\n%s", item.Description)
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "\n%s", item.URL)
	}
	return b.String()
}
