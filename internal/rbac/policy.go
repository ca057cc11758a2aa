package rbac

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// PolicyContext carries the situational facts an access decision is evaluated
// against. It is constructed fresh per decision and never persisted.
type PolicyContext struct {
	UserID     string
	UserRoles  []string
	Resource   string
	Action     string
	ClientIP   string
	Timestamp  time.Time
	Attributes map[string]any
}

// NewPolicyContext captures the decision facts, stamping the request time at
// construction.
func NewPolicyContext(userID string, userRoles []string, resource, action, clientIP string, attributes map[string]any) PolicyContext {
	return PolicyContext{
		UserID:     userID,
		UserRoles:  userRoles,
		Resource:   resource,
		Action:     action,
		ClientIP:   clientIP,
		Timestamp:  time.Now(),
		Attributes: attributes,
	}
}

// HasRole reports whether the subject carries the named role.
func (c PolicyContext) HasRole(name string) bool {
	for _, r := range c.UserRoles {
		if r == name {
			return true
		}
	}
	return false
}

// Attribute returns a value from the free-form attribute map. Unknown keys
// yield an absent value, not an error.
func (c PolicyContext) Attribute(key string) (any, bool) {
	if c.Attributes == nil {
		return nil, false
	}
	v, ok := c.Attributes[key]
	return v, ok
}

// Business hours are [08:00, 18:00) in the request's local time.
const (
	businessHoursOpen  = 8
	businessHoursClose = 18
)

// WithinBusinessHours reports whether the request timestamp falls inside the
// configured business-hours window.
func (c PolicyContext) WithinBusinessHours() bool {
	h := c.Timestamp.Hour()
	return h >= businessHoursOpen && h < businessHoursClose
}

var internalNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// FromInternalNetwork reports whether the client IP is loopback or inside a
// private range. Unparseable addresses are treated as external.
func (c PolicyContext) FromInternalNetwork() bool {
	addr, err := netip.ParseAddr(c.ClientIP)
	if err != nil {
		return false
	}
	for _, p := range internalNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Condition is a pure predicate over a PolicyContext.
type Condition interface {
	Evaluate(ctx PolicyContext) bool
}

// ConditionFunc adapts a plain function to the Condition interface.
type ConditionFunc func(ctx PolicyContext) bool

func (f ConditionFunc) Evaluate(ctx PolicyContext) bool {
	return f(ctx)
}

// BusinessHoursOnly passes only for requests stamped inside business hours.
func BusinessHoursOnly() Condition {
	return ConditionFunc(func(ctx PolicyContext) bool {
		return ctx.WithinBusinessHours()
	})
}

// InternalNetworkOnly passes only for requests from loopback or private
// address ranges.
func InternalNetworkOnly() Condition {
	return ConditionFunc(func(ctx PolicyContext) bool {
		return ctx.FromInternalNetwork()
	})
}

// RequireRole passes when the subject carries at least one of the named
// roles.
func RequireRole(names ...string) Condition {
	return ConditionFunc(func(ctx PolicyContext) bool {
		for _, name := range names {
			if ctx.HasRole(name) {
				return true
			}
		}
		return false
	})
}

// AttributeEquals passes when the named context attribute is present and
// equal to the expected value.
func AttributeEquals(key string, expected any) Condition {
	return ConditionFunc(func(ctx PolicyContext) bool {
		v, ok := ctx.Attribute(key)
		return ok && v == expected
	})
}

// Condition kinds persisted with a policy row. The condition itself is code;
// the store keeps the kind plus its parameters and rehydrates through
// ConditionFromSpec.
const (
	ConditionKindBusinessHours   = "business_hours"
	ConditionKindInternalNetwork = "internal_network"
	ConditionKindRequireRole     = "require_role"
	ConditionKindAttributeEquals = "attribute_equals"
)

// ConditionSpec is the storable description of a built-in condition.
type ConditionSpec struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// ConditionFromSpec rehydrates a built-in condition from its stored
// description. An empty kind means the policy has no condition.
func ConditionFromSpec(spec ConditionSpec) (Condition, error) {
	switch spec.Kind {
	case "":
		return nil, nil
	case ConditionKindBusinessHours:
		return BusinessHoursOnly(), nil
	case ConditionKindInternalNetwork:
		return InternalNetworkOnly(), nil
	case ConditionKindRequireRole:
		names, err := stringSliceParam(spec.Params, "roles")
		if err != nil {
			return nil, err
		}
		return RequireRole(names...), nil
	case ConditionKindAttributeEquals:
		key, _ := spec.Params["key"].(string)
		if strings.TrimSpace(key) == "" {
			return nil, errors.New("attribute_equals condition requires a key")
		}
		return AttributeEquals(key, spec.Params["value"]), nil
	default:
		return nil, fmt.Errorf("unknown condition kind %q", spec.Kind)
	}
}

func stringSliceParam(params map[string]any, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("condition parameter %q is required", key)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("condition parameter %q must hold strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("condition parameter %q must be a string list", key)
	}
}

// AccessPolicy is a resource-scoped rule layered on top of role-permission
// checks. Identity is keyed on (name, resource).
type AccessPolicy struct {
	ID            string
	Name          string
	Resource      string
	Description   string
	AllowedRoles  []string
	Condition     Condition
	ConditionSpec ConditionSpec
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccessPolicy constructs an active policy. Name and resource are
// required.
func NewAccessPolicy(name, resource, description string) (*AccessPolicy, error) {
	name = strings.TrimSpace(name)
	resource = strings.TrimSpace(resource)
	if name == "" || resource == "" {
		return nil, errors.New("policy name and resource are required")
	}
	now := time.Now().UTC()
	return &AccessPolicy{
		Name:        name,
		Resource:    resource,
		Description: description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Same reports identity equality keyed on (name, resource).
func (p *AccessPolicy) Same(other *AccessPolicy) bool {
	return other != nil && p.Name == other.Name && p.Resource == other.Resource
}

// SetCondition attaches a built-in condition by its storable spec.
func (p *AccessPolicy) SetCondition(spec ConditionSpec) error {
	cond, err := ConditionFromSpec(spec)
	if err != nil {
		return err
	}
	p.Condition = cond
	p.ConditionSpec = spec
	return nil
}

// Evaluate runs the policy against the decision context. An inactive policy
// is always false. An empty allowed-role list imposes no role restriction of
// its own; a nil condition is vacuously true. The condition is not invoked
// when the role gate fails.
func (p *AccessPolicy) Evaluate(ctx PolicyContext) bool {
	if !p.Active {
		return false
	}
	if len(p.AllowedRoles) > 0 {
		matched := false
		for _, allowed := range p.AllowedRoles {
			if ctx.HasRole(allowed) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if p.Condition == nil {
		return true
	}
	return p.Condition.Evaluate(ctx)
}
