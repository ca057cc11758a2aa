package rbac

import (
	"context"
	"errors"
	"fmt"

	"guardia.org/internal/audit"
	"guardia.org/internal/obs"
)

// AccessControlService orchestrates role-permission lookups and policy
// evaluation into a single allow/deny decision, and owns role/permission
// administration with audit side effects.
type AccessControlService struct {
	roles       RoleStore
	permissions PermissionStore
	policies    PolicyStore
	recorder    *audit.Recorder
}

// NewAccessControlService wires the service. All collaborators are required.
func NewAccessControlService(roles RoleStore, permissions PermissionStore, policies PolicyStore, recorder *audit.Recorder) (*AccessControlService, error) {
	if roles == nil || permissions == nil || policies == nil {
		return nil, errors.New("rbac: role, permission and policy stores are required")
	}
	if recorder == nil {
		return nil, errors.New("rbac: audit recorder is required")
	}
	return &AccessControlService{
		roles:       roles,
		permissions: permissions,
		policies:    policies,
		recorder:    recorder,
	}, nil
}

// HasAccess decides whether the subject may perform action on resource.
// Access requires at least one of the subject's roles to grant the exact
// (resource, action) pair; if any active policies are scoped to the resource,
// at least one of them must also evaluate true. Exactly one audit record is
// written per call, whatever the outcome. A failing audit write aborts the
// decision.
func (s *AccessControlService) HasAccess(ctx context.Context, userID, username, resource, action string, pctx PolicyContext) (bool, error) {
	granted := false
	for _, roleName := range pctx.UserRoles {
		role, err := s.roles.FindByName(ctx, roleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return false, err
		}
		if role.HasPermission(resource, action) {
			granted = true
			break
		}
	}
	if !granted {
		if err := s.auditDenied(ctx, userID, username, resource, action, "insufficient permissions"); err != nil {
			return false, err
		}
		return false, nil
	}

	policies, err := s.policies.FindActiveByResource(ctx, resource)
	if err != nil {
		return false, err
	}
	policyAllowed := len(policies) == 0
	for _, policy := range policies {
		if policy.Evaluate(pctx) {
			policyAllowed = true
			break
		}
	}
	if !policyAllowed {
		if err := s.auditDenied(ctx, userID, username, resource, action, "policy violation"); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := s.auditGranted(ctx, userID, username, resource, action); err != nil {
		return false, err
	}
	return true, nil
}

// CreateRole persists a new role and audits the creation. A duplicate name is
// rejected before anything is written.
func (s *AccessControlService) CreateRole(ctx context.Context, name, description, creatorID, creatorUsername string) (*Role, error) {
	role, err := NewRole(name, description)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	exists, err := s.roles.ExistsByName(ctx, role.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: role %q", ErrConflict, role.Name)
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}

	rec, err := audit.NewRecord("Role", role.Name, audit.ActionCreate, creatorID, creatorUsername)
	if err != nil {
		return nil, err
	}
	rec.Description = fmt.Sprintf("role created: %s", role.Name)
	if err := s.recorder.Record(ctx, rec); err != nil {
		return nil, err
	}
	return role, nil
}

// CreatePermission persists a new permission and audits the creation.
func (s *AccessControlService) CreatePermission(ctx context.Context, name, resource, action, description, creatorID, creatorUsername string) (*Permission, error) {
	perm, err := NewPermission(name, resource, action, description)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	exists, err := s.permissions.ExistsByName(ctx, perm.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: permission %q", ErrConflict, perm.Name)
	}
	if err := s.permissions.Create(ctx, &perm); err != nil {
		return nil, err
	}

	rec, err := audit.NewRecord("Permission", perm.Name, audit.ActionCreate, creatorID, creatorUsername)
	if err != nil {
		return nil, err
	}
	rec.Description = fmt.Sprintf("permission created: %s for %s", perm.Name, perm.FullPermission())
	if err := s.recorder.Record(ctx, rec); err != nil {
		return nil, err
	}
	return &perm, nil
}

// AssignPermissionToRole grants a catalog permission to a role. Assigning a
// permission the role already holds is rejected so accidental
// double-assignment surfaces instead of passing silently.
func (s *AccessControlService) AssignPermissionToRole(ctx context.Context, roleName, permissionName, assignerID, assignerUsername string) error {
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: role %q", ErrNotFound, roleName)
		}
		return err
	}
	perm, err := s.permissions.FindByName(ctx, permissionName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: permission %q", ErrNotFound, permissionName)
		}
		return err
	}
	if role.HasExactPermission(*perm) {
		return fmt.Errorf("%w: role %q already holds permission %q", ErrConflict, roleName, permissionName)
	}

	role.AddPermission(*perm)
	if err := s.roles.Update(ctx, role); err != nil {
		return err
	}

	rec, err := audit.NewRecord("Role", roleName, audit.ActionUpdate, assignerID, assignerUsername)
	if err != nil {
		return err
	}
	rec.Description = fmt.Sprintf("permission %s assigned to role %s", permissionName, roleName)
	return s.recorder.Record(ctx, rec)
}

// RemovePermissionFromRole revokes a permission previously granted to a role.
// Removing a permission the role does not hold is rejected.
func (s *AccessControlService) RemovePermissionFromRole(ctx context.Context, roleName, permissionName, removerID, removerUsername string) error {
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: role %q", ErrNotFound, roleName)
		}
		return err
	}
	perm, err := s.permissions.FindByName(ctx, permissionName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: permission %q", ErrNotFound, permissionName)
		}
		return err
	}
	if !role.HasExactPermission(*perm) {
		return fmt.Errorf("%w: role %q does not hold permission %q", ErrNotFound, roleName, permissionName)
	}

	role.RemovePermission(*perm)
	if err := s.roles.Update(ctx, role); err != nil {
		return err
	}

	rec, err := audit.NewRecord("Role", roleName, audit.ActionUpdate, removerID, removerUsername)
	if err != nil {
		return err
	}
	rec.Description = fmt.Sprintf("permission %s removed from role %s", permissionName, roleName)
	return s.recorder.Record(ctx, rec)
}

func (s *AccessControlService) auditGranted(ctx context.Context, userID, username, resource, action string) error {
	rec, err := audit.NewRecord("Access", resource+":"+action, audit.ActionPermissionGranted, userID, username)
	if err != nil {
		return err
	}
	rec.Description = fmt.Sprintf("access granted for %s:%s", resource, action)
	if err := s.recorder.Record(ctx, rec); err != nil {
		return err
	}
	obs.ObserveAccessDecision(resource, "granted")
	return nil
}

func (s *AccessControlService) auditDenied(ctx context.Context, userID, username, resource, action, reason string) error {
	rec, err := audit.NewRecord("Access", resource+":"+action, audit.ActionPermissionDenied, userID, username)
	if err != nil {
		return err
	}
	rec.Description = fmt.Sprintf("access denied for %s:%s - %s", resource, action, reason)
	rec.SetResult(audit.ResultAccessDenied)
	if err := s.recorder.Record(ctx, rec); err != nil {
		return err
	}
	obs.ObserveAccessDecision(resource, "denied")
	return nil
}
