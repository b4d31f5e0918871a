package bridge

import (
	"fmt"

	"github.com/sitewright/automation"
)

// Transform reshapes an event payload into the trigger payload expected by
// the workflow the trigger starts. A nil Transform forwards the payload
// unchanged. Transforms must not mutate their input map.
type Transform func(payload map[string]any) map[string]any

// Rule maps one event name to one trigger name. Events without a rule have
// no downstream automation and are dropped with a debug log.
type Rule struct {
	// Event is the emitted event name this rule matches ("booking.requested").
	Event string

	// Trigger is the workflow trigger fired on a match ("booking/requested").
	Trigger string

	// Transform reshapes the event payload. Optional.
	Transform Transform
}

// Rules is a sealed event-to-trigger mapping table. It is validated at
// construction and immutable afterwards, so an unmapped event name is a
// known configuration gap rather than a silent runtime surprise.
type Rules struct {
	byEvent map[string]Rule
}

// NewRules builds a validated rule table. Empty names and duplicate event
// names are construction errors.
func NewRules(rules ...Rule) (*Rules, error) {
	r := &Rules{byEvent: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if rule.Event == "" {
			return nil, fmt.Errorf("bridge: rule with empty event name")
		}
		if rule.Trigger == "" {
			return nil, fmt.Errorf("bridge: rule for event %q has empty trigger", rule.Event)
		}
		if _, ok := r.byEvent[rule.Event]; ok {
			return nil, fmt.Errorf("bridge: event %q: %w", rule.Event, automation.ErrDuplicateRule)
		}
		r.byEvent[rule.Event] = rule
	}
	return r, nil
}

// MustRules is like NewRules but panics on error. For static tables built
// at process start.
func MustRules(rules ...Rule) *Rules {
	r, err := NewRules(rules...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the rule for an event name, if any.
func (r *Rules) Lookup(event string) (Rule, bool) {
	rule, ok := r.byEvent[event]
	return rule, ok
}

// Events returns every mapped event name.
func (r *Rules) Events() []string {
	names := make([]string, 0, len(r.byEvent))
	for name := range r.byEvent {
		names = append(names, name)
	}
	return names
}

// Len returns the number of rules in the table.
func (r *Rules) Len() int { return len(r.byEvent) }
