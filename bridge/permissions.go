package bridge

import (
	"fmt"
	"regexp"

	"github.com/tailored-agentic-units/eventbus/config"
	"github.com/tailored-agentic-units/eventbus/value"
)

type rule struct {
	address string
	pattern *regexp.Regexp
	match   map[string]value.Value
}

// matches checks address and, when body is non-nil, the match fields. A nil
// body skips the field check, which is how registrations are judged.
func (r rule) matches(address string, body *value.Value) bool {
	if r.address != "" && r.address != address {
		return false
	}
	if r.pattern != nil && !r.pattern.MatchString(address) {
		return false
	}
	if body == nil || len(r.match) == 0 {
		return true
	}

	fields, ok := body.AsMap()
	if !ok {
		return false
	}
	for key, want := range r.match {
		got, ok := fields.Get(key)
		if !ok || !sameField(want, got) {
			return false
		}
	}
	return true
}

// sameField compares numbers by value so that a rule written as 1 in JSON
// matches an integer body field.
func sameField(want, got value.Value) bool {
	if w, ok := number(want); ok {
		g, ok := number(got)
		return ok && w == g
	}
	return value.Equal(want, got)
}

func number(v value.Value) (float64, bool) {
	if i, ok := v.AsInt(); ok {
		return float64(i), true
	}
	return v.AsFloat()
}

// Permissions decides which traffic may cross the bridge. With no rules in a
// direction nothing passes in that direction.
type Permissions struct {
	inbound  []rule
	outbound []rule
}

func NewPermissions(inbound, outbound []config.PermitRule) (*Permissions, error) {
	in, err := compileRules(inbound)
	if err != nil {
		return nil, fmt.Errorf("inbound: %w", err)
	}
	out, err := compileRules(outbound)
	if err != nil {
		return nil, fmt.Errorf("outbound: %w", err)
	}
	return &Permissions{inbound: in, outbound: out}, nil
}

func compileRules(rules []config.PermitRule) ([]rule, error) {
	compiled := make([]rule, 0, len(rules))
	for i, r := range rules {
		c := rule{address: r.Address}

		if r.AddressRegex != "" {
			pattern, err := regexp.Compile("^(?:" + r.AddressRegex + ")$")
			if err != nil {
				return nil, fmt.Errorf("rule %d: address_re %q: %w", i, r.AddressRegex, err)
			}
			c.pattern = pattern
		}

		if len(r.Match) > 0 {
			c.match = make(map[string]value.Value, len(r.Match))
			for key, native := range r.Match {
				v, err := value.Encode(native)
				if err != nil {
					return nil, fmt.Errorf("rule %d: match %q: %w", i, key, err)
				}
				c.match[key] = v
			}
		}

		compiled = append(compiled, c)
	}
	return compiled, nil
}

// Inbound reports whether a client may send or publish body to address.
func (p *Permissions) Inbound(address string, body value.Value) bool {
	return permitted(p.inbound, address, &body)
}

// Outbound reports whether a client may receive body from address.
func (p *Permissions) Outbound(address string, body value.Value) bool {
	return permitted(p.outbound, address, &body)
}

// CanRegister reports whether any outbound rule covers address, ignoring
// match fields.
func (p *Permissions) CanRegister(address string) bool {
	return permitted(p.outbound, address, nil)
}

func permitted(rules []rule, address string, body *value.Value) bool {
	for _, r := range rules {
		if r.matches(address, body) {
			return true
		}
	}
	return false
}
