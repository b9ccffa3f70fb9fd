// Package models defines conversation state structures for LeadPipe flows.
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// StageStart is the stage a fresh (or restarted) conversation sits in.
const StageStart = "start"

// Built-in stage ids used by the domain capture chain and the search/result nodes.
const (
	StageAwaitingPurpose      = "awaiting_purpose"
	StageAwaitingPropertyType = "awaiting_property_type"
	StageAwaitingCity         = "awaiting_city"
	StageAwaitingNeighborhood = "awaiting_neighborhood"
	StageAwaitingBedrooms     = "awaiting_bedrooms"
	StageAwaitingPriceMin     = "awaiting_price_min"
	StageAwaitingPriceMax     = "awaiting_price_max"
	StageSearching            = "searching"
	StageShowingProperty      = "showing_property"
	StagePropertyFeedback     = "property_feedback"
	StageAwaitingRefinement   = "awaiting_refinement"
	StageAwaitingVisitPhone   = "awaiting_visit_phone"
	StageAwaitingVisitDate    = "awaiting_visit_date"
	StageAwaitingVisitTime    = "awaiting_visit_time"
	StageAwaitingVisitConfirm = "awaiting_visit_confirm"
	StageHandoff              = "handoff"
)

// State keys with special meaning.
const (
	KeySenderID    = "sender_id"
	KeyTenantID    = "tenant_id"
	KeyStage       = "stage"
	KeyPromptShown = "_prompt_shown"
	KeyLLMIntent   = "llm_intent"
	KeyLLMEntities = "llm_entities"
)

// ConversationState is the per-conversation record threaded through the flow engine.
// Known attributes are typed fields; node-authored keys live in Extra. The wire form is a
// single flat JSON object.
type ConversationState struct {
	SenderID string `json:"sender_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Stage    string `json:"stage,omitempty"`

	Purpose      string   `json:"purpose,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	City         string   `json:"city,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	PriceMin     *float64 `json:"price_min,omitempty"`
	PriceMax     *float64 `json:"price_max,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Model        string   `json:"model,omitempty"`

	ResultIDs     []string `json:"result_ids,omitempty"`
	ResultCursor  int      `json:"result_cursor,omitempty"`
	CurrentItemID string   `json:"current_item_id,omitempty"`

	VisitPhone string `json:"visit_phone,omitempty"`
	VisitDate  string `json:"visit_date,omitempty"`
	VisitTime  string `json:"visit_time,omitempty"`
	LeadName   string `json:"lead_name,omitempty"`
	LeadEmail  string `json:"lead_email,omitempty"`

	Refinement  bool `json:"refinement,omitempty"`
	Qualified   bool `json:"qualified,omitempty"`
	Finished    bool `json:"finished,omitempty"`
	Retries     int  `json:"retries,omitempty"`
	PromptShown bool `json:"_prompt_shown,omitempty"`

	LLMIntent   string         `json:"llm_intent,omitempty"`
	LLMEntities map[string]any `json:"llm_entities,omitempty"`

	Extra map[string]any `json:"-" mapstructure:"-"`
}

// stateAlias drops the custom (un)marshalers.
type stateAlias ConversationState

// NewConversationState seeds a state for a sender at the flow start.
func NewConversationState(tenantID, senderID string) *ConversationState {
	return &ConversationState{TenantID: tenantID, SenderID: senderID}
}

// MarshalJSON writes known fields and Extra as one flat object.
func (s ConversationState) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(stateAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return b, nil
	}
	flat := make(map[string]any, len(s.Extra)+8)
	if err := json.Unmarshal(b, &flat); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := flat[k]; known || isKnownStateKey(k) {
			continue
		}
		flat[k] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat object; keys that are not known fields go to Extra.
func (s *ConversationState) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	decoded, err := StateFromMap(flat)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}

// StateFromMap builds a state from a flat attribute map. Known keys are weakly decoded
// into their typed fields ("3" becomes 3 for bedrooms); the rest is kept in Extra.
func StateFromMap(m map[string]any) (*ConversationState, error) {
	s := &ConversationState{}
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Metadata:         &md,
		Result:           s,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create state decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	for _, key := range md.Unused {
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[key] = m[key]
	}
	return s, nil
}

// ToMap returns the flat attribute map form of the state.
func (s *ConversationState) ToMap() map[string]any {
	out := map[string]any{}
	if s == nil {
		return out
	}
	b, err := json.Marshal(s)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

// Clone returns a deep copy.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return &ConversationState{}
	}
	c, err := StateFromMap(s.ToMap())
	if err != nil {
		cp := *s
		return &cp
	}
	return c
}

// Get returns the value stored under a (possibly dotted) key.
func (s *ConversationState) Get(path string) (any, bool) {
	var cur any = s.ToMap()
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString returns the value under path rendered as a string, or "".
func (s *ConversationState) GetString(path string) string {
	v, ok := s.Get(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// Set writes value under a (possibly dotted) key. Dotted keys create nested maps; a nil
// value removes the key. Values for typed fields are weakly converted.
func (s *ConversationState) Set(path string, value any) error {
	return s.Merge(map[string]any{path: value})
}

// Merge applies every key/value of patch with Set semantics.
func (s *ConversationState) Merge(patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	m := s.ToMap()
	for path, value := range patch {
		if path == "" {
			return fmt.Errorf("%w: empty state key", ErrInvalidNodeConfig)
		}
		setPath(m, strings.Split(path, "."), value)
	}
	next, err := StateFromMap(m)
	if err != nil {
		return err
	}
	*s = *next
	return nil
}

// Keep replaces the state with the subset of listed keys.
func (s *ConversationState) Keep(keys []string) {
	m := s.ToMap()
	kept := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			kept[k] = v
		}
	}
	next, err := StateFromMap(kept)
	if err != nil {
		*s = ConversationState{}
		return
	}
	*s = *next
}

// Reset empties the state.
func (s *ConversationState) Reset() {
	*s = ConversationState{}
}

// ClearAnswers drops every accumulated answer but keeps the conversation identity.
func (s *ConversationState) ClearAnswers() {
	*s = ConversationState{SenderID: s.SenderID, TenantID: s.TenantID, Stage: s.Stage}
}

// Keys returns the flat keys currently present.
func (s *ConversationState) Keys() []string {
	m := s.ToMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// MoveTo sets the stage and clears per-node bookkeeping.
func (s *ConversationState) MoveTo(stage string) {
	s.Stage = stage
	s.PromptShown = false
	s.Retries = 0
}

func setPath(m map[string]any, parts []string, value any) {
	if len(parts) == 1 {
		if value == nil {
			delete(m, parts[0])
			return
		}
		m[parts[0]] = value
		return
	}
	child, ok := m[parts[0]].(map[string]any)
	if !ok {
		if value == nil {
			return
		}
		child = map[string]any{}
		m[parts[0]] = child
	}
	setPath(child, parts[1:], value)
}

var knownStateKeys = map[string]struct{}{}

func init() {
	for _, k := range []string{
		"sender_id", "tenant_id", "stage", "purpose", "property_type", "city", "neighborhood",
		"price_min", "price_max", "bedrooms", "brand", "model", "result_ids", "result_cursor",
		"current_item_id", "visit_phone", "visit_date", "visit_time", "lead_name", "lead_email",
		"refinement", "qualified", "finished", "retries", "_prompt_shown", "llm_intent", "llm_entities",
	} {
		knownStateKeys[k] = struct{}{}
	}
}

func isKnownStateKey(k string) bool {
	_, ok := knownStateKeys[k]
	return ok
}
