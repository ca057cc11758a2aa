package rbac

import (
	"testing"
	"time"
)

func testContext(roles []string, attrs map[string]any) PolicyContext {
	return NewPolicyContext("user-1", roles, "doc", "write", "10.0.0.5", attrs)
}

func TestPolicyContextCapturesTimestamp(t *testing.T) {
	before := time.Now()
	ctx := testContext([]string{"USER"}, nil)
	if ctx.Timestamp.Before(before) || ctx.Timestamp.After(time.Now()) {
		t.Fatalf("timestamp not captured at construction: %v", ctx.Timestamp)
	}
}

func TestPolicyContextAttributes(t *testing.T) {
	ctx := testContext([]string{"USER"}, map[string]any{"department": "IT", "level": 3})
	if v, ok := ctx.Attribute("department"); !ok || v != "IT" {
		t.Fatalf("Attribute(department) = %v, %v", v, ok)
	}
	if _, ok := ctx.Attribute("missing"); ok {
		t.Fatal("unknown key must be absent, not an error")
	}

	empty := testContext([]string{"USER"}, nil)
	if _, ok := empty.Attribute("anything"); ok {
		t.Fatal("nil attribute map must yield absent values")
	}
}

func TestPolicyContextHasRole(t *testing.T) {
	ctx := testContext([]string{"USER", "ADMIN"}, nil)
	if !ctx.HasRole("ADMIN") || ctx.HasRole("GUEST") {
		t.Fatalf("unexpected role membership: %v", ctx.UserRoles)
	}
}

func TestWithinBusinessHours(t *testing.T) {
	ctx := testContext([]string{"USER"}, nil)

	ctx.Timestamp = time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	if !ctx.WithinBusinessHours() {
		t.Fatal("09:00 is inside business hours")
	}
	ctx.Timestamp = time.Date(2025, 3, 10, 7, 59, 0, 0, time.Local)
	if ctx.WithinBusinessHours() {
		t.Fatal("07:59 is outside business hours")
	}
	ctx.Timestamp = time.Date(2025, 3, 10, 18, 0, 0, 0, time.Local)
	if ctx.WithinBusinessHours() {
		t.Fatal("18:00 is outside business hours")
	}
}

func TestFromInternalNetwork(t *testing.T) {
	cases := map[string]bool{
		"192.168.1.100": true,
		"10.8.0.1":      true,
		"172.16.4.2":    true,
		"127.0.0.1":     true,
		"::1":           true,
		"8.8.8.8":       false,
		"172.32.0.1":    false,
		"not-an-ip":     false,
		"":              false,
	}
	for ip, want := range cases {
		ctx := NewPolicyContext("u", nil, "doc", "read", ip, nil)
		if got := ctx.FromInternalNetwork(); got != want {
			t.Fatalf("FromInternalNetwork(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestInactivePolicyAlwaysFalse(t *testing.T) {
	policy, err := NewAccessPolicy("doc-policy", "doc", "")
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	policy.Active = false
	policy.Condition = ConditionFunc(func(PolicyContext) bool { return true })

	if policy.Evaluate(testContext([]string{"ADMIN"}, nil)) {
		t.Fatal("inactive policy must evaluate false regardless of condition")
	}
}

func TestPolicyRoleGate(t *testing.T) {
	policy, err := NewAccessPolicy("doc-policy", "doc", "")
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}

	// Empty allowed-role list imposes no restriction.
	if !policy.Evaluate(testContext([]string{"ANYTHING"}, nil)) {
		t.Fatal("policy with no role list and no condition must pass")
	}

	policy.AllowedRoles = []string{"ADMIN", "MANAGER"}
	if !policy.Evaluate(testContext([]string{"USER", "MANAGER"}, nil)) {
		t.Fatal("any overlapping role must pass the gate")
	}
	if policy.Evaluate(testContext([]string{"USER"}, nil)) {
		t.Fatal("no overlapping role must fail the gate")
	}
}

func TestPolicyConditionNotInvokedWhenGateFails(t *testing.T) {
	policy, err := NewAccessPolicy("doc-policy", "doc", "")
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	policy.AllowedRoles = []string{"ADMIN"}
	invoked := false
	policy.Condition = ConditionFunc(func(PolicyContext) bool {
		invoked = true
		return true
	})

	if policy.Evaluate(testContext([]string{"USER"}, nil)) {
		t.Fatal("gate failure must deny")
	}
	if invoked {
		t.Fatal("condition must not run when the role gate fails")
	}
}

func TestPolicyNilConditionIsVacuouslyTrue(t *testing.T) {
	policy, err := NewAccessPolicy("doc-policy", "doc", "")
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	policy.AllowedRoles = []string{"ADMIN"}
	if !policy.Evaluate(testContext([]string{"ADMIN"}, nil)) {
		t.Fatal("matching role with nil condition must pass")
	}
}

func TestBuiltinConditions(t *testing.T) {
	internal := testContext([]string{"USER"}, nil)
	if !InternalNetworkOnly().Evaluate(internal) {
		t.Fatal("10.0.0.5 is an internal address")
	}
	external := NewPolicyContext("u", []string{"USER"}, "doc", "write", "8.8.8.8", nil)
	if InternalNetworkOnly().Evaluate(external) {
		t.Fatal("8.8.8.8 is not internal")
	}

	if !RequireRole("ADMIN", "USER").Evaluate(internal) {
		t.Fatal("RequireRole should match USER")
	}
	if RequireRole("ADMIN").Evaluate(internal) {
		t.Fatal("RequireRole should not match missing role")
	}

	attrs := testContext([]string{"USER"}, map[string]any{"department": "IT"})
	if !AttributeEquals("department", "IT").Evaluate(attrs) {
		t.Fatal("AttributeEquals should match")
	}
	if AttributeEquals("department", "HR").Evaluate(attrs) {
		t.Fatal("AttributeEquals should not match a different value")
	}
	if AttributeEquals("missing", "x").Evaluate(attrs) {
		t.Fatal("absent attribute must not match")
	}

	hours := testContext([]string{"USER"}, nil)
	hours.Timestamp = time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	if !BusinessHoursOnly().Evaluate(hours) {
		t.Fatal("noon is inside business hours")
	}
}

func TestConditionFromSpec(t *testing.T) {
	if cond, err := ConditionFromSpec(ConditionSpec{}); err != nil || cond != nil {
		t.Fatalf("empty kind must yield no condition, got %v, %v", cond, err)
	}

	cond, err := ConditionFromSpec(ConditionSpec{Kind: ConditionKindRequireRole, Params: map[string]any{"roles": []any{"ADMIN"}}})
	if err != nil {
		t.Fatalf("require_role spec: %v", err)
	}
	if !cond.Evaluate(testContext([]string{"ADMIN"}, nil)) {
		t.Fatal("rehydrated require_role should match ADMIN")
	}

	if _, err := ConditionFromSpec(ConditionSpec{Kind: "no_such_kind"}); err == nil {
		t.Fatal("unknown kind must error")
	}
	if _, err := ConditionFromSpec(ConditionSpec{Kind: ConditionKindAttributeEquals}); err == nil {
		t.Fatal("attribute_equals without key must error")
	}
}

func TestNewAccessPolicyValidation(t *testing.T) {
	if _, err := NewAccessPolicy("", "doc", ""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewAccessPolicy("p", " ", ""); err == nil {
		t.Fatal("expected error for empty resource")
	}
	policy, err := NewAccessPolicy("p", "doc", "")
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	if !policy.Active {
		t.Fatal("new policies start active")
	}
}
