package models

import (
	"errors"
	"strings"
	"testing"
)

const sampleFlowYAML = `
version: 2
start: welcome
nodes:
  - id: welcome
    type: message
    prompt: "Olá! Vamos encontrar seu imóvel."
    transitions:
      - to: ask_city
  - id: ask_city
    type: real_estate.capture_city
    prompt: "Em qual cidade?"
    transitions:
      - to: search
  - id: search
    type: real_estate.execute_search
    config:
      limit: 5
  - id: bye
    type: end
`

func TestParseFlowDocumentYAML(t *testing.T) {
	def, err := ParseFlowDocument([]byte(sampleFlowYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != 2 || def.Start != "welcome" || len(def.Nodes) != 4 {
		t.Errorf("unexpected definition: %+v", def)
	}
	n, ok := def.Node("search")
	if !ok || n.Kind() != NodeTypeExecuteSearch {
		t.Errorf("search node not found or wrong kind: %+v", n)
	}
}

func TestParseFlowDocumentSchemaViolation(t *testing.T) {
	_, err := ParseFlowDocument([]byte(`{"start":"a","nodes":[{"id":"a"}],"colour":"red"}`))
	if !errors.Is(err, ErrInvalidFlowDefinition) {
		t.Fatalf("expected ErrInvalidFlowDefinition, got %v", err)
	}
	ve, ok := AsValidationError(err)
	if !ok || len(ve.Problems) < 2 {
		t.Fatalf("expected at least two schema problems, got %v", err)
	}
}

func TestValidateGraphIntegrity(t *testing.T) {
	def := &FlowDefinition{
		Start: "missing",
		Nodes: []FlowNode{
			{ID: "a", Type: "message", Transitions: []FlowTransition{{To: "nowhere"}}},
			{ID: "a", Type: "teleport"},
			{ID: "", Type: "end"},
			{ID: "h", Type: "handler", Handler: "dance"},
			{ID: "c", Type: "prompt", Transitions: []FlowTransition{
				{To: "a", When: map[string]any{"regex": "x"}},
				{To: "a", Effects: map[string]any{"explode": true}},
			}},
		},
	}
	err := def.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalidFlowDefinition) || !errors.Is(err, ErrUnknownNodeType) ||
		!errors.Is(err, ErrUnknownHandler) || !errors.Is(err, ErrInvalidCondition) || !errors.Is(err, ErrInvalidEffects) {
		t.Errorf("missing expected sentinel in %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"start node \"missing\"", "duplicate id", "empty id", "target \"nowhere\""} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestValidateAcceptsWellFormedFlow(t *testing.T) {
	def := &FlowDefinition{
		Start: "q",
		Nodes: []FlowNode{
			{ID: "q", Type: "prompt", Prompt: "Quer agendar?", Transitions: []FlowTransition{
				{To: "visit", When: map[string]any{"yes_no": "yes"}, Effects: map[string]any{"mark_qualified": true}},
				{To: "bye", When: map[string]any{"default": true}},
			}},
			{ID: "visit", Type: "handler", Handler: "visit_phone"},
			{ID: "bye", Type: "end", Config: map[string]any{"clear": true}},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLeavesNodeConfigToProcessors(t *testing.T) {
	def := &FlowDefinition{
		Start: "age",
		Nodes: []FlowNode{
			{ID: "age", Type: "capture_number", Config: map[string]any{"min": "abc"}},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("config contents should not fail validation: %v", err)
	}
	if _, err := DecodeNodeConfig(NodeTypeCaptureNumber, def.Nodes[0].Config); !errors.Is(err, ErrInvalidNodeConfig) {
		t.Errorf("expected the processor decode to reject it, got %v", err)
	}
}
