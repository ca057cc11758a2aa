package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"

	"guardia.org/internal/audit"
)

// In-memory stores shared by the service tests in this package.

type memAuditStore struct {
	records []*audit.Record
	failing bool
}

func (s *memAuditStore) Append(_ context.Context, rec *audit.Record) error {
	if s.failing {
		return errors.New("audit store down")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memAuditStore) byAction(action audit.Action) []*audit.Record {
	var out []*audit.Record
	for _, rec := range s.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

type memRoleStore struct {
	roles map[string]*Role
}

func newMemRoleStore() *memRoleStore {
	return &memRoleStore{roles: make(map[string]*Role)}
}

func (s *memRoleStore) Create(_ context.Context, role *Role) error {
	s.roles[role.Name] = role
	return nil
}

func (s *memRoleStore) Update(_ context.Context, role *Role) error {
	if _, ok := s.roles[role.Name]; !ok {
		return ErrNotFound
	}
	s.roles[role.Name] = role
	return nil
}

func (s *memRoleStore) FindByName(_ context.Context, name string) (*Role, error) {
	role, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *role
	copied.Permissions = append([]Permission(nil), role.Permissions...)
	return &copied, nil
}

func (s *memRoleStore) ExistsByName(_ context.Context, name string) (bool, error) {
	_, ok := s.roles[name]
	return ok, nil
}

func (s *memRoleStore) List(_ context.Context) ([]*Role, error) {
	var out []*Role
	for _, role := range s.roles {
		out = append(out, role)
	}
	return out, nil
}

func (s *memRoleStore) Delete(_ context.Context, name string) error {
	if _, ok := s.roles[name]; !ok {
		return ErrNotFound
	}
	delete(s.roles, name)
	return nil
}

type memPermissionStore struct {
	perms map[string]*Permission
}

func newMemPermissionStore() *memPermissionStore {
	return &memPermissionStore{perms: make(map[string]*Permission)}
}

func (s *memPermissionStore) Create(_ context.Context, perm *Permission) error {
	s.perms[perm.Name] = perm
	return nil
}

func (s *memPermissionStore) FindByName(_ context.Context, name string) (*Permission, error) {
	perm, ok := s.perms[name]
	if !ok {
		return nil, ErrNotFound
	}
	return perm, nil
}

func (s *memPermissionStore) ExistsByName(_ context.Context, name string) (bool, error) {
	_, ok := s.perms[name]
	return ok, nil
}

func (s *memPermissionStore) List(_ context.Context) ([]*Permission, error) {
	var out []*Permission
	for _, perm := range s.perms {
		out = append(out, perm)
	}
	return out, nil
}

func (s *memPermissionStore) Delete(_ context.Context, name string) error {
	if _, ok := s.perms[name]; !ok {
		return ErrNotFound
	}
	delete(s.perms, name)
	return nil
}

type memPolicyStore struct {
	policies []*AccessPolicy
	queried  bool
}

func (s *memPolicyStore) Create(_ context.Context, policy *AccessPolicy) error {
	s.policies = append(s.policies, policy)
	return nil
}

func (s *memPolicyStore) Update(_ context.Context, policy *AccessPolicy) error {
	for i, p := range s.policies {
		if p.Same(policy) {
			s.policies[i] = policy
			return nil
		}
	}
	return ErrNotFound
}

func (s *memPolicyStore) FindActiveByResource(_ context.Context, resource string) ([]*AccessPolicy, error) {
	s.queried = true
	var out []*AccessPolicy
	for _, p := range s.policies {
		if p.Resource == resource && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPolicyStore) List(_ context.Context) ([]*AccessPolicy, error) {
	return s.policies, nil
}

func (s *memPolicyStore) Delete(_ context.Context, name, resource string) error {
	for i, p := range s.policies {
		if p.Name == name && p.Resource == resource {
			s.policies = append(s.policies[:i], s.policies[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

type accessFixture struct {
	svc      *AccessControlService
	roles    *memRoleStore
	perms    *memPermissionStore
	policies *memPolicyStore
	auditLog *memAuditStore
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()
	f := &accessFixture{
		roles:    newMemRoleStore(),
		perms:    newMemPermissionStore(),
		policies: &memPolicyStore{},
		auditLog: &memAuditStore{},
	}
	svc, err := NewAccessControlService(f.roles, f.perms, f.policies, audit.NewRecorder(f.auditLog))
	if err != nil {
		t.Fatalf("NewAccessControlService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *accessFixture) seedEditorDocWrite(t *testing.T) {
	t.Helper()
	role := mustRole(t, "EDITOR", "")
	role.AddPermission(mustPermission(t, "doc-write", "doc", "write"))
	f.roles.roles["EDITOR"] = role
}

func TestHasAccessGrantedByRolePermission(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)

	pctx := NewPolicyContext("u-1", []string{"EDITOR"}, "doc", "write", "127.0.0.1", nil)
	ok, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "write", pctx)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if !ok {
		t.Fatal("expected access to be granted")
	}
	if len(f.auditLog.records) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(f.auditLog.records))
	}
	rec := f.auditLog.records[0]
	if rec.Action != audit.ActionPermissionGranted {
		t.Fatalf("audit action = %s, want PERMISSION_GRANTED", rec.Action)
	}
	if rec.EntityID != "doc:write" {
		t.Fatalf("audit entity id = %q, want doc:write", rec.EntityID)
	}
}

func TestHasAccessDeniedWithoutRoleGrant(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)

	pctx := NewPolicyContext("u-1", []string{"EDITOR"}, "doc", "delete", "127.0.0.1", nil)
	ok, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "delete", pctx)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if ok {
		t.Fatal("expected denial")
	}
	if f.policies.queried {
		t.Fatal("policies must not be evaluated when no role grants the pair")
	}
	recs := f.auditLog.byAction(audit.ActionPermissionDenied)
	if len(recs) != 1 || len(f.auditLog.records) != 1 {
		t.Fatalf("expected one PERMISSION_DENIED record, got %d total", len(f.auditLog.records))
	}
	if !strings.Contains(recs[0].Description, "insufficient permissions") {
		t.Fatalf("denial reason missing: %q", recs[0].Description)
	}
	if recs[0].Result != audit.ResultAccessDenied {
		t.Fatalf("denial result = %s, want ACCESS_DENIED", recs[0].Result)
	}
}

func TestHasAccessUnknownRoleNamesAreSkipped(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)

	pctx := NewPolicyContext("u-1", []string{"GHOST", "EDITOR"}, "doc", "write", "127.0.0.1", nil)
	ok, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "write", pctx)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if !ok {
		t.Fatal("a missing role must not block a grant from another role")
	}
}

func TestHasAccessPolicyViolation(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)

	policy, err := NewAccessPolicy("deny-all", "doc", "")
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	policy.Condition = ConditionFunc(func(PolicyContext) bool { return false })
	f.policies.policies = append(f.policies.policies, policy)

	pctx := NewPolicyContext("u-1", []string{"EDITOR"}, "doc", "write", "127.0.0.1", nil)
	ok, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "write", pctx)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if ok {
		t.Fatal("expected policy denial")
	}
	recs := f.auditLog.byAction(audit.ActionPermissionDenied)
	if len(recs) != 1 {
		t.Fatalf("expected one PERMISSION_DENIED record, got %d", len(recs))
	}
	if !strings.Contains(recs[0].Description, "policy violation") {
		t.Fatalf("denial reason missing: %q", recs[0].Description)
	}
}

func TestHasAccessAnyPassingPolicySuffices(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)

	deny, _ := NewAccessPolicy("deny", "doc", "")
	deny.Condition = ConditionFunc(func(PolicyContext) bool { return false })
	allow, _ := NewAccessPolicy("allow", "doc", "")
	allow.Condition = ConditionFunc(func(PolicyContext) bool { return true })
	f.policies.policies = append(f.policies.policies, deny, allow)

	pctx := NewPolicyContext("u-1", []string{"EDITOR"}, "doc", "write", "127.0.0.1", nil)
	ok, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "write", pctx)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if !ok {
		t.Fatal("one passing policy must grant access")
	}
}

func TestHasAccessInactivePoliciesImposeNothing(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)

	inactive, _ := NewAccessPolicy("dormant", "doc", "")
	inactive.Active = false
	inactive.Condition = ConditionFunc(func(PolicyContext) bool { return false })
	f.policies.policies = append(f.policies.policies, inactive)

	pctx := NewPolicyContext("u-1", []string{"EDITOR"}, "doc", "write", "127.0.0.1", nil)
	ok, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "write", pctx)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if !ok {
		t.Fatal("inactive policies must not restrict access")
	}
}

func TestHasAccessFailingAuditWriteAbortsDecision(t *testing.T) {
	f := newAccessFixture(t)
	f.seedEditorDocWrite(t)
	f.auditLog.failing = true

	pctx := NewPolicyContext("u-1", []string{"EDITOR"}, "doc", "write", "127.0.0.1", nil)
	if _, err := f.svc.HasAccess(context.Background(), "u-1", "alice", "doc", "write", pctx); err == nil {
		t.Fatal("audit write failure must propagate")
	}
}

func TestCreateRoleRejectsDuplicates(t *testing.T) {
	f := newAccessFixture(t)

	role, err := f.svc.CreateRole(context.Background(), "EDITOR", "content editors", "admin-1", "admin")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Name != "EDITOR" {
		t.Fatalf("role name = %q", role.Name)
	}
	if len(f.auditLog.byAction(audit.ActionCreate)) != 1 {
		t.Fatal("expected one CREATE audit record")
	}

	if _, err := f.svc.CreateRole(context.Background(), "EDITOR", "again", "admin-1", "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create = %v, want ErrConflict", err)
	}
	// Failed precondition writes no audit record.
	if len(f.auditLog.records) != 1 {
		t.Fatalf("expected 1 audit record after failed duplicate, got %d", len(f.auditLog.records))
	}
}

func TestCreatePermissionAuditsResourceAction(t *testing.T) {
	f := newAccessFixture(t)

	perm, err := f.svc.CreatePermission(context.Background(), "doc-write", "doc", "write", "write docs", "admin-1", "admin")
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if perm.FullPermission() != "doc:write" {
		t.Fatalf("FullPermission = %q", perm.FullPermission())
	}
	recs := f.auditLog.byAction(audit.ActionCreate)
	if len(recs) != 1 {
		t.Fatalf("expected one CREATE record, got %d", len(recs))
	}
	if recs[0].EntityName != "Permission" || !strings.Contains(recs[0].Description, "doc:write") {
		t.Fatalf("unexpected audit record: %s %q", recs[0].EntityName, recs[0].Description)
	}

	if _, err := f.svc.CreatePermission(context.Background(), "doc-write", "doc", "read", "", "admin-1", "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate permission name = %v, want ErrConflict", err)
	}
}

func TestAssignPermissionToRole(t *testing.T) {
	f := newAccessFixture(t)
	if _, err := f.svc.CreateRole(context.Background(), "EDITOR", "", "admin-1", "admin"); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := f.svc.CreatePermission(context.Background(), "doc-write", "doc", "write", "", "admin-1", "admin"); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}

	if err := f.svc.AssignPermissionToRole(context.Background(), "EDITOR", "doc-write", "admin-1", "admin"); err != nil {
		t.Fatalf("AssignPermissionToRole: %v", err)
	}
	role, _ := f.roles.FindByName(context.Background(), "EDITOR")
	if !role.HasPermission("doc", "write") {
		t.Fatal("role should hold the assigned permission")
	}

	// The same assignment again is a conflict, and writes no second audit row.
	err := f.svc.AssignPermissionToRole(context.Background(), "EDITOR", "doc-write", "admin-1", "admin")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("repeat assignment = %v, want ErrConflict", err)
	}
	if got := len(f.auditLog.byAction(audit.ActionUpdate)); got != 1 {
		t.Fatalf("expected exactly one UPDATE audit record, got %d", got)
	}
}

func TestAssignPermissionMissingTargets(t *testing.T) {
	f := newAccessFixture(t)
	if err := f.svc.AssignPermissionToRole(context.Background(), "GHOST", "doc-write", "a", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing role = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.CreateRole(context.Background(), "EDITOR", "", "a", "a"); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := f.svc.AssignPermissionToRole(context.Background(), "EDITOR", "ghost-perm", "a", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing permission = %v, want ErrNotFound", err)
	}
}

func TestRemovePermissionFromRole(t *testing.T) {
	f := newAccessFixture(t)
	if _, err := f.svc.CreateRole(context.Background(), "EDITOR", "", "a", "a"); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := f.svc.CreatePermission(context.Background(), "doc-write", "doc", "write", "", "a", "a"); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}

	// Removing a permission the role never had is rejected.
	if err := f.svc.RemovePermissionFromRole(context.Background(), "EDITOR", "doc-write", "a", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove absent permission = %v, want ErrNotFound", err)
	}

	if err := f.svc.AssignPermissionToRole(context.Background(), "EDITOR", "doc-write", "a", "a"); err != nil {
		t.Fatalf("AssignPermissionToRole: %v", err)
	}
	if err := f.svc.RemovePermissionFromRole(context.Background(), "EDITOR", "doc-write", "a", "a"); err != nil {
		t.Fatalf("RemovePermissionFromRole: %v", err)
	}
	role, _ := f.roles.FindByName(context.Background(), "EDITOR")
	if role.HasPermission("doc", "write") {
		t.Fatal("permission should be gone after removal")
	}
	if got := len(f.auditLog.byAction(audit.ActionUpdate)); got != 2 {
		t.Fatalf("expected assign+remove UPDATE records, got %d", got)
	}
}
