package flow

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ChooseTransition returns the first transition whose condition matches, else the first
// default (explicit `default: true` or no condition at all), else nil. Transitions with a
// condition that does not compile are skipped.
func ChooseTransition(transitions []models.FlowTransition, raw, normalized string) *models.FlowTransition {
	var fallback *models.FlowTransition
	for i := range transitions {
		t := &transitions[i]
		cond, err := models.ParseCondition(t.When)
		if err != nil {
			slog.Warn("ChooseTransition skipping transition with invalid condition", "to", t.To, "error", err)
			continue
		}
		if models.IsDefault(cond) {
			if fallback == nil {
				fallback = t
			}
			continue
		}
		if Matches(cond, raw, normalized) {
			return t
		}
	}
	return fallback
}

// Matches evaluates a compiled condition against the user's input.
func Matches(cond models.Condition, raw, normalized string) bool {
	switch c := cond.(type) {
	case models.Unconditional, models.Default:
		return true
	case models.YesNo:
		return DetectYesNo(raw) == c.Want
	case models.ScheduleIntent:
		return HasScheduleIntent(normalized)
	case models.EqualsAny:
		for _, v := range c.Values {
			if Normalize(v) == normalized {
				return true
			}
		}
		return false
	case models.ContainsAny:
		for _, v := range c.Values {
			if n := Normalize(v); n != "" && strings.Contains(normalized, n) {
				return true
			}
		}
		return false
	case models.AllOf:
		for _, member := range c.Conditions {
			if !Matches(member, raw, normalized) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
