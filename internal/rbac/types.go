package rbac

import (
	"errors"
	"strings"
	"time"
)

// Permission is an atomic (resource, action) capability grant. Two
// permissions are the same grant when name, resource and action all match.
type Permission struct {
	ID          string
	Name        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}

// NewPermission constructs a permission. Name, resource and action are
// required.
func NewPermission(name, resource, action, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if name == "" || resource == "" || action == "" {
		return Permission{}, errors.New("permission name, resource and action are required")
	}
	return Permission{
		Name:        name,
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// FullPermission returns the "resource:action" authority string.
func (p Permission) FullPermission() string {
	return p.Resource + ":" + p.Action
}

// Same reports identity equality keyed on (name, resource, action).
func (p Permission) Same(other Permission) bool {
	return p.Name == other.Name && p.Resource == other.Resource && p.Action == other.Action
}

// Grants reports whether the permission covers the exact (resource, action)
// pair.
func (p Permission) Grants(resource, action string) bool {
	return p.Resource == resource && p.Action == action
}

// Role is a named bundle of permissions. Role identity is its name; the
// permission set is owned by value and deduplicated by permission identity.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewRole constructs a role. The name is required and acts as the identity
// key.
func NewRole(name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("role name is required")
	}
	now := time.Now().UTC()
	return &Role{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HasPermission reports whether any permission in the role grants the exact
// (resource, action) pair.
func (r *Role) HasPermission(resource, action string) bool {
	for _, p := range r.Permissions {
		if p.Grants(resource, action) {
			return true
		}
	}
	return false
}

// HasExactPermission reports whether the role already holds this permission
// by identity.
func (r *Role) HasExactPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p.Same(perm) {
			return true
		}
	}
	return false
}

// AddPermission adds the permission unless an identical one is already
// present.
func (r *Role) AddPermission(perm Permission) {
	if r.HasExactPermission(perm) {
		return
	}
	r.Permissions = append(r.Permissions, perm)
}

// RemovePermission removes the permission by identity.
func (r *Role) RemovePermission(perm Permission) {
	for i, p := range r.Permissions {
		if p.Same(perm) {
			r.Permissions = append(r.Permissions[:i], r.Permissions[i+1:]...)
			return
		}
	}
}

// maxFailedLoginAttempts is the threshold at which a user account locks.
const maxFailedLoginAttempts = 5

// User is an identity holding credentials and a set of shared role
// references. Username and email uniqueness is enforced by the backing store,
// not by the entity.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	Active              bool
	Locked              bool
	CreatedAt           time.Time
	LastLogin           time.Time
	FailedLoginAttempts int
	Roles               []*Role
}

// NewUser constructs an active, unlocked user with a pre-hashed credential.
func NewUser(username, email, passwordHash string) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if email == "" {
		return nil, errors.New("email is required")
	}
	if passwordHash == "" {
		return nil, errors.New("password hash is required")
	}
	return &User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// AddRole attaches a role reference. Roles are deduplicated by name.
func (u *User) AddRole(role *Role) {
	if role == nil {
		return
	}
	for _, r := range u.Roles {
		if r.Name == role.Name {
			return
		}
	}
	u.Roles = append(u.Roles, role)
}

// RemoveRole detaches the role with the given name, if present.
func (u *User) RemoveRole(name string) {
	for i, r := range u.Roles {
		if r.Name == name {
			u.Roles = append(u.Roles[:i], u.Roles[i+1:]...)
			return
		}
	}
}

// HasRole reports whether a role with the given name is attached.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasPermission reports whether any attached role grants the (resource,
// action) pair.
func (u *User) HasPermission(resource, action string) bool {
	for _, r := range u.Roles {
		if r.HasPermission(resource, action) {
			return true
		}
	}
	return false
}

// RoleNames returns the names of all attached roles.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// IncrementFailedLoginAttempts advances the failure counter. Crossing the
// threshold locks the account; there is no automatic unlock.
func (u *User) IncrementFailedLoginAttempts() {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxFailedLoginAttempts {
		u.Locked = true
	}
}

// ResetFailedLoginAttempts zeroes the failure counter. The locked flag is
// untouched; unlocking is an explicit administrative action.
func (u *User) ResetFailedLoginAttempts() {
	u.FailedLoginAttempts = 0
}

// RecordLogin stamps the last-login time and resets the failure counter.
func (u *User) RecordLogin() {
	u.LastLogin = time.Now().UTC()
	u.ResetFailedLoginAttempts()
}
