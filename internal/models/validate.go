package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ValidationError collects every problem found in a flow definition.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("invalid flow definition: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the individual problems and ErrInvalidFlowDefinition to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrInvalidFlowDefinition}, e.Problems...)
}

// Messages returns the problems as plain strings.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Error())
	}
	return out
}

// Validate checks the graph invariants of a flow definition: the start node exists, node
// ids are unique and non-empty, node types and handler names are known, transition targets
// exist and every condition and effect decodes. Node config is left to the processor that
// runs the node.
func (d *FlowDefinition) Validate() error {
	if d == nil {
		return &ValidationError{Problems: []error{errors.New("definition is nil")}}
	}
	var problems []error
	add := func(err error) { problems = append(problems, err) }

	seen := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			add(fmt.Errorf("node %d: empty id", i))
			continue
		}
		if seen[n.ID] {
			add(fmt.Errorf("node %q: duplicate id", n.ID))
		}
		seen[n.ID] = true
	}

	if d.Start == "" {
		add(errors.New("start node is not set"))
	} else if !seen[d.Start] {
		add(fmt.Errorf("start node %q does not exist", d.Start))
	}

	for _, n := range d.Nodes {
		kind := n.Kind()
		if !IsKnownNodeType(kind) {
			add(fmt.Errorf("node %q: %w %q", n.ID, ErrUnknownNodeType, n.Type))
			continue
		}
		if kind == NodeTypeHandler && !IsKnownHandler(n.Handler) {
			add(fmt.Errorf("node %q: %w %q", n.ID, ErrUnknownHandler, n.Handler))
		}
		for j, t := range n.Transitions {
			if t.To != "" && !seen[t.To] {
				add(fmt.Errorf("node %q transition %d: target %q does not exist", n.ID, j, t.To))
			}
			if _, err := ParseCondition(t.When); err != nil {
				add(fmt.Errorf("node %q transition %d: %w", n.ID, j, err))
			}
			if _, err := ParseEffects(t.Effects); err != nil {
				add(fmt.Errorf("node %q transition %d: %w", n.ID, j, err))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

const flowDocumentSchema = `{
  "type": "object",
  "required": ["start", "nodes"],
  "properties": {
    "version": {"type": "integer", "minimum": 0},
    "start": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "prompt": {"type": "string"},
          "handler": {"type": "string"},
          "config": {"type": "object"},
          "transitions": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "to": {"type": "string"},
                "when": {"type": "object"},
                "effects": {"type": "object"}
              },
              "additionalProperties": false
            }
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var flowSchemaLoader = gojsonschema.NewStringLoader(flowDocumentSchema)

// ParseFlowDocument decodes a JSON or YAML flow document, checks its shape against the
// document schema and then the graph invariants.
func ParseFlowDocument(data []byte) (*FlowDefinition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlowDefinition, err)
	}
	// Round trip through JSON so the schema sees plain JSON types.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlowDefinition, err)
	}

	result, err := gojsonschema.Validate(flowSchemaLoader, gojsonschema.NewBytesLoader(normalized))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlowDefinition, err)
	}
	if !result.Valid() {
		problems := make([]error, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, errors.New(e.String()))
		}
		return nil, &ValidationError{Problems: problems}
	}

	var def FlowDefinition
	if err := json.Unmarshal(normalized, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlowDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// AsValidationError extracts a ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
