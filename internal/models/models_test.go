package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseDomain(t *testing.T) {
	tests := map[string]Domain{
		"car_dealer":   DomainCarDealer,
		" CAR_DEALER ": DomainCarDealer,
		"real_estate":  DomainRealEstate,
		"":             DomainRealEstate,
		"boats":        DomainRealEstate,
	}
	for in, want := range tests {
		if got := ParseDomain(in); got != want {
			t.Errorf("ParseDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNodeType(t *testing.T) {
	tests := map[string]NodeType{
		"real_estate.execute_search": NodeTypeExecuteSearch,
		"tenant:acme.capture_city":   NodeTypeCaptureCity,
		"MESSAGE":                    NodeTypeMessage,
		" end ":                      NodeTypeEnd,
	}
	for in, want := range tests {
		if got := NormalizeNodeType(in); got != want {
			t.Errorf("NormalizeNodeType(%q) = %q, want %q", in, got, want)
		}
	}
	if IsKnownNodeType(NormalizeNodeType("x.teleport")) {
		t.Error("teleport should not be a known node type")
	}
}

func TestReceiptJSONTags(t *testing.T) {
	r := Receipt{To: "+123", Status: MessageStatusSent, Time: 123456}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"to":"+123","status":"sent","time":123456}` {
		t.Errorf("unexpected receipt json: %s", b)
	}
}

func TestInvalidResponse(t *testing.T) {
	resp := Invalid("bad flow", []string{"a", "b"})
	if resp.Status != string(APIStatusInvalid) || resp.Message != "bad flow" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if problems, ok := resp.Result.([]string); !ok || len(problems) != 2 {
		t.Errorf("expected problems in result, got %#v", resp.Result)
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name    string
		when    map[string]any
		want    Condition
		wantErr bool
	}{
		{"empty", nil, Unconditional{}, false},
		{"default", map[string]any{"default": true}, Default{}, false},
		{"yes", map[string]any{"yes_no": "YES"}, YesNo{Want: "yes"}, false},
		{"schedule", map[string]any{"schedule_intent": true}, ScheduleIntent{}, false},
		{"equals", map[string]any{"equals_any": []any{"1", "buy"}}, EqualsAny{Values: []string{"1", "buy"}}, false},
		{"contains single", map[string]any{"contains_any": "house"}, ContainsAny{Values: []string{"house"}}, false},
		{"bad yes_no", map[string]any{"yes_no": "maybe"}, nil, true},
		{"unknown key", map[string]any{"regex": ".*"}, nil, true},
		{"default false alone", map[string]any{"default": false}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCondition(tt.when)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCondition) {
					t.Fatalf("expected ErrInvalidCondition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gb, _ := json.Marshal(got)
			wb, _ := json.Marshal(tt.want)
			if string(gb) != string(wb) || !sameConditionType(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseConditionAllOf(t *testing.T) {
	c, err := ParseCondition(map[string]any{"yes_no": "yes", "contains_any": []any{"visit"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, ok := c.(AllOf)
	if !ok || len(all.Conditions) != 2 {
		t.Fatalf("expected AllOf with 2 members, got %#v", c)
	}
	// keys are sorted: contains_any before yes_no
	if _, ok := all.Conditions[0].(ContainsAny); !ok {
		t.Errorf("expected ContainsAny first, got %#v", all.Conditions[0])
	}
	if IsDefault(c) {
		t.Error("AllOf must not be a default")
	}
}

func sameConditionType(a, b Condition) bool {
	switch a.(type) {
	case Unconditional:
		_, ok := b.(Unconditional)
		return ok
	case Default:
		_, ok := b.(Default)
		return ok
	case YesNo:
		_, ok := b.(YesNo)
		return ok
	case ScheduleIntent:
		_, ok := b.(ScheduleIntent)
		return ok
	case EqualsAny:
		_, ok := b.(EqualsAny)
		return ok
	case ContainsAny:
		_, ok := b.(ContainsAny)
		return ok
	case AllOf:
		_, ok := b.(AllOf)
		return ok
	}
	return false
}

func TestParseEffects(t *testing.T) {
	e, err := ParseEffects(map[string]any{
		"set":              map[string]any{"city": "Recife"},
		"reset_state_keep": []any{"sender_id", "tenant_id"},
		"mark_qualified":   "true",
		"message":          "ok",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Set["city"] != "Recife" || len(e.ResetStateKeep) != 2 || !e.MarkQualified || e.Message != "ok" {
		t.Errorf("unexpected effects: %+v", e)
	}
	if _, err := ParseEffects(map[string]any{"launch_rockets": true}); !errors.Is(err, ErrInvalidEffects) {
		t.Errorf("expected ErrInvalidEffects, got %v", err)
	}
	if e, _ := ParseEffects(nil); !e.Empty() {
		t.Error("nil effects should be empty")
	}
}

func TestDecodeNodeConfig(t *testing.T) {
	c, err := DecodeNodeConfig(NodeTypeCaptureNumber, map[string]any{
		"path": "lead.budget", "min": "10", "max": 500, "treat_as_thousands": true, "max_retries": 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nc := c.(NumberCaptureConfig)
	if nc.Path != "lead.budget" || *nc.Min != 10 || *nc.Max != 500 || !nc.TreatAsThousands || nc.MaxRetries != 2 {
		t.Errorf("unexpected config: %+v", nc)
	}

	if _, err := DecodeNodeConfig(NodeTypeCaptureNumber, map[string]any{"min": 5, "max": 1}); !errors.Is(err, ErrInvalidNodeConfig) {
		t.Errorf("expected ErrInvalidNodeConfig for min > max, got %v", err)
	}
	if _, err := DecodeNodeConfig(NodeTypeCaptureText, map[string]any{"min_length": map[string]any{"a": 1}}); !errors.Is(err, ErrInvalidNodeConfig) {
		t.Errorf("expected ErrInvalidNodeConfig, got %v", err)
	}

	sc, err := DecodeNodeConfig(NodeTypeExecuteSearch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.(SearchConfig).Limit != DefaultSearchLimit {
		t.Errorf("expected default limit, got %d", sc.(SearchConfig).Limit)
	}
	if _, err := DecodeNodeConfig("teleport", nil); !errors.Is(err, ErrUnknownNodeType) {
		t.Errorf("expected ErrUnknownNodeType, got %v", err)
	}
}
