package models

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestConversationStateFlatJSONRoundTrip(t *testing.T) {
	legacy := `{"sender_id":"5511","tenant_id":"acme","stage":"awaiting_city","purpose":"sale",` +
		`"bedrooms":"3","price_max":450000,"favorite_color":"blue","lead":{"name":"Ana"}}`

	var s ConversationState
	if err := json.Unmarshal([]byte(legacy), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Stage != "awaiting_city" || s.Purpose != "sale" {
		t.Errorf("unexpected typed fields: %+v", s)
	}
	if s.Bedrooms == nil || *s.Bedrooms != 3 {
		t.Errorf("expected bedrooms weakly decoded to 3, got %v", s.Bedrooms)
	}
	if s.PriceMax == nil || *s.PriceMax != 450000 {
		t.Errorf("expected price_max 450000, got %v", s.PriceMax)
	}
	if s.Extra["favorite_color"] != "blue" {
		t.Errorf("unknown key lost: %#v", s.Extra)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(out, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["favorite_color"] != "blue" || flat["city"] != nil {
		t.Errorf("unexpected flat form: %s", out)
	}
	if lead, ok := flat["lead"].(map[string]any); !ok || lead["name"] != "Ana" {
		t.Errorf("nested extra lost: %s", out)
	}
}

func TestConversationStateSetPath(t *testing.T) {
	s := NewConversationState("acme", "5511")
	if err := s.Set("lead.name", "Ana"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("lead.email", "ana@example.com"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.GetString("lead.name"); got != "Ana" {
		t.Errorf("lead.name = %q", got)
	}
	if got := s.GetString("lead.email"); got != "ana@example.com" {
		t.Errorf("lead.email = %q", got)
	}
	if err := s.Set("bedrooms", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.Bedrooms == nil || *s.Bedrooms != 2 {
		t.Errorf("expected typed bedrooms, got %v", s.Bedrooms)
	}
	if err := s.Set("bedrooms", nil); err != nil {
		t.Fatalf("Set nil: %v", err)
	}
	if s.Bedrooms != nil {
		t.Error("nil value should clear bedrooms")
	}
	if err := s.Set("bedrooms", "many"); err == nil {
		t.Error("expected error for non-numeric bedrooms")
	}
	if err := s.Set("", 1); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestConversationStateKeepRoundTrip(t *testing.T) {
	s := NewConversationState("acme", "5511")
	s.Stage = "awaiting_price_max"
	s.City = "Recife"
	s.Purpose = "rent"
	s.Extra = map[string]any{"note": "x"}

	s.Keep([]string{KeySenderID, KeyTenantID})
	if err := s.Set("city", "Olinda"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	keys := s.Keys()
	sort.Strings(keys)
	want := []string{"city", "sender_id", "tenant_id"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestConversationStateCloneIsDeep(t *testing.T) {
	s := NewConversationState("acme", "5511")
	s.ResultIDs = []string{"a", "b"}
	s.LLMEntities = map[string]any{"city": "Recife"}

	c := s.Clone()
	c.ResultIDs[0] = "z"
	c.LLMEntities["city"] = "Natal"
	c.City = "Natal"

	if s.ResultIDs[0] != "a" || s.LLMEntities["city"] != "Recife" || s.City != "" {
		t.Errorf("clone shares memory with original: %+v", s)
	}
}

func TestConversationStateMoveToClearsBookkeeping(t *testing.T) {
	s := &ConversationState{Stage: "a", PromptShown: true, Retries: 2}
	s.MoveTo("b")
	if s.Stage != "b" || s.PromptShown || s.Retries != 0 {
		t.Errorf("unexpected state after MoveTo: %+v", s)
	}
}
