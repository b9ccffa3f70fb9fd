package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// IntentExtractor classifies free text into an intent and entities. Results are best effort
// and sanitized before they reach the state.
type IntentExtractor interface {
	Extract(ctx context.Context, text string) (*models.IntentExtraction, error)
}

const maxIntentLength = 40

// SanitizeExtraction drops what the raw text does not corroborate. Short or simple input
// yields nothing at all.
func SanitizeExtraction(normalized string, ex *models.IntentExtraction) (string, map[string]any) {
	if ex == nil || IsSimpleInput(normalized) {
		return "", nil
	}
	intent := strings.ToLower(strings.TrimSpace(ex.Intent))
	if len(intent) > maxIntentLength {
		intent = intent[:maxIntentLength]
	}
	var entities map[string]any
	for key, value := range ex.Entities {
		if value == nil || !corroborated(key, value, normalized) {
			slog.Debug("SanitizeExtraction dropped entity", "key", key, "value", value)
			continue
		}
		if entities == nil {
			entities = make(map[string]any)
		}
		entities[key] = value
	}
	return intent, entities
}

// corroborated reports whether normalized text supports the extracted entity.
func corroborated(key string, value any, normalized string) bool {
	switch key {
	case "purpose":
		return ParsePurpose(normalized) != ""
	case "property_type":
		return ParsePropertyType(normalized) != ""
	case "bedrooms":
		_, ok := ParseBedrooms(normalized)
		return ok && containsAny(normalized, []string{"quarto", "dormitorio", "suite"})
	case "price", "price_min", "price_max":
		_, ok := ParseNumber(normalized, false)
		return ok
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	n := Normalize(s)
	return n != "" && strings.Contains(normalized, n)
}

// enrich clears the previous turn's extraction and, for substantive input, stores a fresh
// sanitized one. Extractor failures leave the snapshot empty.
func enrich(ctx context.Context, extractor IntentExtractor, st *models.ConversationState, raw, normalized string) {
	st.LLMIntent = ""
	st.LLMEntities = nil
	if extractor == nil || IsSimpleInput(normalized) {
		return
	}
	ex, err := extractor.Extract(ctx, raw)
	if err != nil {
		metrics.ExtractorCalls.WithLabelValues("error").Inc()
		slog.Warn("Intent extraction failed", "error", err, "senderID", st.SenderID)
		return
	}
	metrics.ExtractorCalls.WithLabelValues("ok").Inc()
	st.LLMIntent, st.LLMEntities = SanitizeExtraction(normalized, ex)
}
