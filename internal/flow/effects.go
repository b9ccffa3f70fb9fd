package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ApplyEffects mutates state according to effects and returns the override message, if any.
// Order: reset_state_keep, set, set_visit_phone_from_sender, mark_qualified, message
// rendering, clear_state. cleared reports that clear_state emptied the state.
func (e *Engine) ApplyEffects(ctx context.Context, state *models.ConversationState, effects models.Effects, senderID string) (message string, cleared bool, err error) {
	if effects.Empty() {
		return "", false, nil
	}
	if effects.ResetStateKeep != nil {
		state.Keep(effects.ResetStateKeep)
	}
	if len(effects.Set) > 0 {
		if err := state.Merge(effects.Set); err != nil {
			return "", false, fmt.Errorf("failed to apply set effect: %w", err)
		}
	}
	if effects.SetVisitPhoneFromSender {
		if phone := PhoneFromSender(senderID); phone != "" {
			state.VisitPhone = phone
		} else {
			slog.Warn("Engine.ApplyEffects: sender id carries no phone", "senderID", senderID)
		}
	}
	if effects.MarkQualified {
		state.Qualified = true
		if e.leads != nil {
			if err := e.leads.MarkQualified(ctx, senderID, state); err != nil {
				slog.Error("Engine.ApplyEffects: mark qualified failed", "error", err, "senderID", senderID)
				return "", false, fmt.Errorf("failed to mark lead qualified: %w", err)
			}
		}
	}
	message = effects.Message
	if effects.MessageTemplate != "" {
		message = Render(effects.MessageTemplate, state)
	}
	if effects.ClearState {
		state.Reset()
		return message, true, nil
	}
	return message, false, nil
}

// ApplyTransition applies t's effects and then moves state to t.To. A clear_state effect
// discards the target. Effects that fail to decode are ignored.
func (e *Engine) ApplyTransition(ctx context.Context, state *models.ConversationState, t *models.FlowTransition, senderID string) (string, error) {
	effects, err := models.ParseEffects(t.Effects)
	if err != nil {
		slog.Warn("Engine.ApplyTransition: ignoring invalid effects", "to", t.To, "error", err)
		effects = models.Effects{}
	}
	message, cleared, err := e.ApplyEffects(ctx, state, effects, senderID)
	if err != nil {
		return "", err
	}
	if !cleared && t.To != "" {
		state.MoveTo(t.To)
	}
	return message, nil
}
