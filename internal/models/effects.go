package models

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Effects is the typed form of a transition's `effects` map.
type Effects struct {
	Set                     map[string]any `mapstructure:"set"`
	ClearState              bool           `mapstructure:"clear_state"`
	ResetStateKeep          []string       `mapstructure:"reset_state_keep"`
	SetVisitPhoneFromSender bool           `mapstructure:"set_visit_phone_from_sender"`
	MarkQualified           bool           `mapstructure:"mark_qualified"`
	Message                 string         `mapstructure:"message"`
	MessageTemplate         string         `mapstructure:"message_template"`
}

// Empty reports whether no effect is requested.
func (e Effects) Empty() bool {
	return len(e.Set) == 0 && !e.ClearState && e.ResetStateKeep == nil && !e.SetVisitPhoneFromSender &&
		!e.MarkQualified && e.Message == "" && e.MessageTemplate == ""
}

// ParseEffects decodes an `effects` map. Unknown keys are rejected.
func ParseEffects(raw map[string]any) (Effects, error) {
	var e Effects
	if len(raw) == 0 {
		return e, nil
	}
	if err := decodeStrict(raw, &e); err != nil {
		return Effects{}, fmt.Errorf("%w: %v", ErrInvalidEffects, err)
	}
	return e, nil
}

// decodeStrict weakly decodes raw into out and fails on keys out does not declare.
func decodeStrict(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
