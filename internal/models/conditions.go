package models

import (
	"fmt"
	"sort"
	"strings"
)

// Condition is the compiled form of a transition's `when` map. The concrete types below form
// a closed set; evaluators switch over them exhaustively.
type Condition interface {
	isCondition()
}

// Unconditional is an absent or empty `when`. It behaves as an implicit default.
type Unconditional struct{}

// Default is an explicit `default: true`.
type Default struct{}

// YesNo matches when the yes/no detector agrees with Want ("yes" or "no").
type YesNo struct {
	Want string
}

// ScheduleIntent matches when the input expresses a wish to schedule a visit.
type ScheduleIntent struct{}

// EqualsAny matches when the normalized input equals one of Values.
type EqualsAny struct {
	Values []string
}

// ContainsAny matches when the normalized input contains one of Values.
type ContainsAny struct {
	Values []string
}

// AllOf matches when every member matches.
type AllOf struct {
	Conditions []Condition
}

func (Unconditional) isCondition()  {}
func (Default) isCondition()        {}
func (YesNo) isCondition()          {}
func (ScheduleIntent) isCondition() {}
func (EqualsAny) isCondition()      {}
func (ContainsAny) isCondition()    {}
func (AllOf) isCondition()          {}

// Condition keys recognized in `when` maps.
const (
	WhenDefault        = "default"
	WhenYesNo          = "yes_no"
	WhenScheduleIntent = "schedule_intent"
	WhenEqualsAny      = "equals_any"
	WhenContainsAny    = "contains_any"
)

// IsDefault reports whether c acts as a fallback transition.
func IsDefault(c Condition) bool {
	switch c.(type) {
	case Unconditional, Default:
		return true
	}
	return false
}

// ParseCondition compiles a `when` map. `default: true` wins over any other key; several
// other keys compile to AllOf in key order.
func ParseCondition(when map[string]any) (Condition, error) {
	if len(when) == 0 {
		return Unconditional{}, nil
	}
	if v, ok := when[WhenDefault]; ok {
		if b, ok := v.(bool); ok && b {
			return Default{}, nil
		}
		if len(when) == 1 {
			return nil, fmt.Errorf("%w: default must be true", ErrInvalidCondition)
		}
	}

	keys := make([]string, 0, len(when))
	for k := range when {
		if k != WhenDefault {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, k := range keys {
		c, err := parseConditionKey(k, when[k])
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return AllOf{Conditions: conds}, nil
}

func parseConditionKey(key string, value any) (Condition, error) {
	switch key {
	case WhenYesNo:
		s, _ := value.(string)
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "yes" && s != "no" {
			return nil, fmt.Errorf("%w: yes_no must be \"yes\" or \"no\", got %v", ErrInvalidCondition, value)
		}
		return YesNo{Want: s}, nil
	case WhenScheduleIntent:
		b, ok := value.(bool)
		if !ok || !b {
			return nil, fmt.Errorf("%w: schedule_intent must be true", ErrInvalidCondition)
		}
		return ScheduleIntent{}, nil
	case WhenEqualsAny:
		values, err := stringList(value)
		if err != nil {
			return nil, fmt.Errorf("%w: equals_any: %v", ErrInvalidCondition, err)
		}
		return EqualsAny{Values: values}, nil
	case WhenContainsAny:
		values, err := stringList(value)
		if err != nil {
			return nil, fmt.Errorf("%w: contains_any: %v", ErrInvalidCondition, err)
		}
		return ContainsAny{Values: values}, nil
	default:
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidCondition, key)
	}
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", value)
	}
}
