package models

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// NodeConfig is the typed configuration of a node, one concrete type per node kind family.
type NodeConfig interface {
	isNodeConfig()
}

// MessageConfig configures "message" nodes.
type MessageConfig struct{}

// EndConfig configures "end" nodes. Clear drops every accumulated answer.
type EndConfig struct {
	Clear bool `mapstructure:"clear"`
}

// SetStateConfig configures "set_state" nodes.
type SetStateConfig struct {
	Set map[string]any `mapstructure:"set"`
}

// PromptConfig configures "prompt" nodes.
type PromptConfig struct {
	NoMatchMessage string `mapstructure:"no_match_message"`
}

// HandlerConfig configures "handler" nodes.
type HandlerConfig struct{}

// CaptureOptions is shared by the generic capture nodes.
type CaptureOptions struct {
	Path           string `mapstructure:"path"`
	InvalidMessage string `mapstructure:"invalid_message"`
	MaxRetries     int    `mapstructure:"max_retries"`
	Fallback       any    `mapstructure:"fallback"`
}

// TextCaptureConfig configures "capture_text" nodes.
type TextCaptureConfig struct {
	CaptureOptions `mapstructure:",squash"`
	MinLength      int `mapstructure:"min_length"`
}

// NumberCaptureConfig configures "capture_number" nodes. Min and Max are inclusive.
type NumberCaptureConfig struct {
	CaptureOptions   `mapstructure:",squash"`
	Min              *float64 `mapstructure:"min"`
	Max              *float64 `mapstructure:"max"`
	TreatAsThousands bool     `mapstructure:"treat_as_thousands"`
}

// PhoneCaptureConfig configures "capture_phone_generic" nodes.
type PhoneCaptureConfig struct {
	CaptureOptions `mapstructure:",squash"`
}

// DomainCaptureConfig configures the domain capture nodes.
type DomainCaptureConfig struct {
	InvalidMessage   string `mapstructure:"invalid_message"`
	TreatAsThousands bool   `mapstructure:"treat_as_thousands"`
}

// SearchConfig configures "execute_search" and "execute_vehicle_search" nodes.
type SearchConfig struct {
	Limit        int    `mapstructure:"limit"`
	EmptyMessage string `mapstructure:"empty_message"`
}

// CardConfig configures "show_property_card" nodes.
type CardConfig struct {
	EndMessage string `mapstructure:"end_message"`
}

// DecisionConfig configures the two decision nodes.
type DecisionConfig struct {
	ClarifyMessage string `mapstructure:"clarify_message"`
}

func (MessageConfig) isNodeConfig()       {}
func (EndConfig) isNodeConfig()           {}
func (SetStateConfig) isNodeConfig()      {}
func (PromptConfig) isNodeConfig()        {}
func (HandlerConfig) isNodeConfig()       {}
func (TextCaptureConfig) isNodeConfig()   {}
func (NumberCaptureConfig) isNodeConfig() {}
func (PhoneCaptureConfig) isNodeConfig()  {}
func (DomainCaptureConfig) isNodeConfig() {}
func (SearchConfig) isNodeConfig()        {}
func (CardConfig) isNodeConfig()          {}
func (DecisionConfig) isNodeConfig()      {}

// DefaultSearchLimit caps search results when a node does not configure a limit.
const DefaultSearchLimit = 10

// DecodeNodeConfig decodes raw config for the given (normalized) node kind.
func DecodeNodeConfig(kind NodeType, raw map[string]any) (NodeConfig, error) {
	switch kind {
	case NodeTypeMessage:
		return MessageConfig{}, nil
	case NodeTypeHandler:
		return HandlerConfig{}, nil
	case NodeTypeEnd:
		var c EndConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypeSetState:
		var c SetStateConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypePrompt:
		var c PromptConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypeCaptureText:
		var c TextCaptureConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypeCaptureNumber:
		var c NumberCaptureConfig
		err := decodeConfig(kind, raw, &c)
		if err == nil && c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			err = fmt.Errorf("%w: %s: min %v greater than max %v", ErrInvalidNodeConfig, kind, *c.Min, *c.Max)
		}
		return c, err
	case NodeTypeCapturePhoneGeneric:
		var c PhoneCaptureConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypeCapturePurpose, NodeTypeCapturePropertyType, NodeTypeCapturePriceMin,
		NodeTypeCapturePriceMax, NodeTypeCaptureBedrooms, NodeTypeCaptureCity,
		NodeTypeCaptureNeighborhood, NodeTypeCapturePhone, NodeTypeCaptureDate, NodeTypeCaptureTime:
		var c DomainCaptureConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypeExecuteSearch, NodeTypeExecuteVehicleSearch:
		var c SearchConfig
		err := decodeConfig(kind, raw, &c)
		if c.Limit <= 0 {
			c.Limit = DefaultSearchLimit
		}
		return c, err
	case NodeTypeShowPropertyCard:
		var c CardConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	case NodeTypePropertyFeedbackDecision, NodeTypeRefinementDecision:
		var c DecisionConfig
		err := decodeConfig(kind, raw, &c)
		return c, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, kind)
	}
}

func decodeConfig(kind NodeType, raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidNodeConfig, kind, err)
	}
	return nil
}
