// Package models defines flow definition types to avoid circular imports.
package models

import "strings"

// NodeType is the behavior tag of a flow node.
type NodeType string

// Node type constants. Tenants may namespace them ("real_estate.execute_search");
// NormalizeNodeType strips the namespace before interpretation.
const (
	NodeTypeMessage                  NodeType = "message"
	NodeTypeEnd                      NodeType = "end"
	NodeTypeSetState                 NodeType = "set_state"
	NodeTypePrompt                   NodeType = "prompt"
	NodeTypeHandler                  NodeType = "handler"
	NodeTypeCaptureText              NodeType = "capture_text"
	NodeTypeCaptureNumber            NodeType = "capture_number"
	NodeTypeCapturePhoneGeneric      NodeType = "capture_phone_generic"
	NodeTypeCapturePurpose           NodeType = "capture_purpose"
	NodeTypeCapturePropertyType      NodeType = "capture_property_type"
	NodeTypeCapturePriceMin          NodeType = "capture_price_min"
	NodeTypeCapturePriceMax          NodeType = "capture_price_max"
	NodeTypeCaptureBedrooms          NodeType = "capture_bedrooms"
	NodeTypeCaptureCity              NodeType = "capture_city"
	NodeTypeCaptureNeighborhood      NodeType = "capture_neighborhood"
	NodeTypeCapturePhone             NodeType = "capture_phone"
	NodeTypeCaptureDate              NodeType = "capture_date"
	NodeTypeCaptureTime              NodeType = "capture_time"
	NodeTypeExecuteSearch            NodeType = "execute_search"
	NodeTypeExecuteVehicleSearch     NodeType = "execute_vehicle_search"
	NodeTypeShowPropertyCard         NodeType = "show_property_card"
	NodeTypePropertyFeedbackDecision NodeType = "property_feedback_decision"
	NodeTypeRefinementDecision       NodeType = "refinement_decision"
)

var knownNodeTypes = map[NodeType]struct{}{
	NodeTypeMessage: {}, NodeTypeEnd: {}, NodeTypeSetState: {}, NodeTypePrompt: {}, NodeTypeHandler: {},
	NodeTypeCaptureText: {}, NodeTypeCaptureNumber: {}, NodeTypeCapturePhoneGeneric: {},
	NodeTypeCapturePurpose: {}, NodeTypeCapturePropertyType: {}, NodeTypeCapturePriceMin: {},
	NodeTypeCapturePriceMax: {}, NodeTypeCaptureBedrooms: {}, NodeTypeCaptureCity: {},
	NodeTypeCaptureNeighborhood: {}, NodeTypeCapturePhone: {}, NodeTypeCaptureDate: {},
	NodeTypeCaptureTime: {}, NodeTypeExecuteSearch: {}, NodeTypeExecuteVehicleSearch: {},
	NodeTypeShowPropertyCard: {}, NodeTypePropertyFeedbackDecision: {}, NodeTypeRefinementDecision: {},
}

// NormalizeNodeType strips everything up to the last namespace separator ('.' or ':')
// and lowercases the remaining tag.
func NormalizeNodeType(raw string) NodeType {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(s, ".:"); i >= 0 {
		s = s[i+1:]
	}
	return NodeType(strings.ToLower(s))
}

// IsKnownNodeType reports whether the (already normalized) tag is interpreted by the engine.
func IsKnownNodeType(t NodeType) bool {
	_, ok := knownNodeTypes[t]
	return ok
}

// IsDomainCapture reports whether t is one of the domain-specific capture nodes.
func IsDomainCapture(t NodeType) bool {
	switch t {
	case NodeTypeCapturePurpose, NodeTypeCapturePropertyType, NodeTypeCapturePriceMin,
		NodeTypeCapturePriceMax, NodeTypeCaptureBedrooms, NodeTypeCaptureCity,
		NodeTypeCaptureNeighborhood, NodeTypeCapturePhone, NodeTypeCaptureDate, NodeTypeCaptureTime:
		return true
	}
	return false
}

// HandlerName names a legacy stage method reachable from "handler" nodes.
type HandlerName string

// Legacy handler names. Each maps to one method of the ConversationHandler interface.
const (
	HandlerStart        HandlerName = "start"
	HandlerPurpose      HandlerName = "purpose"
	HandlerPropertyType HandlerName = "property_type"
	HandlerCity         HandlerName = "city"
	HandlerPrice        HandlerName = "price"
	HandlerBedrooms     HandlerName = "bedrooms"
	HandlerResults      HandlerName = "results"
	HandlerVisitPhone   HandlerName = "visit_phone"
	HandlerVisitDate    HandlerName = "visit_date"
	HandlerVisitTime    HandlerName = "visit_time"
	HandlerVisitConfirm HandlerName = "visit_confirm"
	HandlerHandoff      HandlerName = "handoff"
)

// KnownHandlers lists every handler name in declaration order.
var KnownHandlers = []HandlerName{
	HandlerStart, HandlerPurpose, HandlerPropertyType, HandlerCity, HandlerPrice, HandlerBedrooms,
	HandlerResults, HandlerVisitPhone, HandlerVisitDate, HandlerVisitTime, HandlerVisitConfirm,
	HandlerHandoff,
}

// IsKnownHandler reports whether name is a legacy handler name.
func IsKnownHandler(name string) bool {
	for _, h := range KnownHandlers {
		if string(h) == name {
			return true
		}
	}
	return false
}

// FlowDefinition is a tenant-authored, versioned conversation graph.
type FlowDefinition struct {
	Version int        `json:"version" yaml:"version"`
	Start   string     `json:"start" yaml:"start"`
	Nodes   []FlowNode `json:"nodes" yaml:"nodes"`
}

// FlowNode is one step of a flow.
type FlowNode struct {
	ID          string           `json:"id" yaml:"id"`
	Type        string           `json:"type" yaml:"type"`
	Prompt      string           `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Handler     string           `json:"handler,omitempty" yaml:"handler,omitempty"`
	Config      map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	Transitions []FlowTransition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// Kind returns the normalized node type.
func (n FlowNode) Kind() NodeType {
	return NormalizeNodeType(n.Type)
}

// FlowTransition is a conditional edge with optional effects.
type FlowTransition struct {
	To      string         `json:"to,omitempty" yaml:"to,omitempty"`
	When    map[string]any `json:"when,omitempty" yaml:"when,omitempty"`
	Effects map[string]any `json:"effects,omitempty" yaml:"effects,omitempty"`
}

// Node returns the node with the given id.
func (d *FlowDefinition) Node(id string) (*FlowNode, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// HasNode reports whether a node with the given id exists.
func (d *FlowDefinition) HasNode(id string) bool {
	_, ok := d.Node(id)
	return ok
}
