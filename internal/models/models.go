// Package models defines the core data structures for LeadPipe.
//
// It includes flow definitions, conversation state, catalog and lead records, messaging
// events and API response envelopes, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// Domain identifies the business vertical a tenant runs its chatbot for.
type Domain string

const (
	// DomainRealEstate is the property catalog vertical (the default).
	DomainRealEstate Domain = "real_estate"
	// DomainCarDealer is the vehicle catalog vertical.
	DomainCarDealer Domain = "car_dealer"
)

// DefaultDomain is used whenever a tenant declares an unknown or empty domain tag.
const DefaultDomain = DomainRealEstate

// ParseDomain maps a free-form domain tag onto the closed set of supported domains.
// Unknown tags resolve to DefaultDomain.
func ParseDomain(s string) Domain {
	switch Domain(strings.ToLower(strings.TrimSpace(s))) {
	case DomainCarDealer:
		return DomainCarDealer
	case DomainRealEstate:
		return DomainRealEstate
	default:
		return DefaultDomain
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyTenant           = errors.New("tenant id cannot be empty")
	ErrEmptySender           = errors.New("sender id cannot be empty")
	ErrFlowNotFound          = errors.New("flow definition not found")
	ErrInvalidFlowDefinition = errors.New("invalid flow definition")
	ErrUnknownNodeType       = errors.New("unknown node type")
	ErrUnknownHandler        = errors.New("unknown handler")
	ErrInvalidNodeConfig     = errors.New("invalid node config")
	ErrInvalidCondition      = errors.New("invalid transition condition")
	ErrInvalidEffects        = errors.New("invalid transition effects")
	ErrItemNotFound          = errors.New("catalog item not found")
	ErrLeadNotFound          = errors.New("lead not found")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt represents a delivery or read receipt for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an inbound message from a lead.
type Response struct {
	MessageID string `json:"message_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusInvalid indicates the submitted document failed validation.
	APIStatusInvalid APIStatus = "invalid"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build returns the constructed APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Invalid creates a validation failure response carrying the individual problems.
func Invalid(message string, problems []string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusInvalid).
		WithMessage(message).
		WithResult(problems).
		Build()
}
