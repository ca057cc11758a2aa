package rbac

import "context"

// UserStore manages user persistence. Username and email uniqueness is
// enforced here, surfacing races as constraint failures.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// RoleStore manages roles and their owned permission sets.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Update(ctx context.Context, role *Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]*Role, error)
	Delete(ctx context.Context, name string) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	FindByName(ctx context.Context, name string) (*Permission, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]*Permission, error)
	Delete(ctx context.Context, name string) error
}

// PolicyStore manages access policies.
type PolicyStore interface {
	Create(ctx context.Context, policy *AccessPolicy) error
	Update(ctx context.Context, policy *AccessPolicy) error
	FindActiveByResource(ctx context.Context, resource string) ([]*AccessPolicy, error)
	List(ctx context.Context) ([]*AccessPolicy, error)
	Delete(ctx context.Context, name, resource string) error
}
