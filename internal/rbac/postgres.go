package rbac

import (
	"context"
	"database/sql"
	"encoding/json"

	"guardia.org/internal/ids"
)

var (
	_ UserStore       = (*PGUserStore)(nil)
	_ RoleStore       = (*PGRoleStore)(nil)
	_ PermissionStore = (*PGPermissionStore)(nil)
	_ PolicyStore     = (*PGPolicyStore)(nil)
)

// User store ---------------------------------------------------------------

// PGUserStore implements UserStore using PostgreSQL. Roles and their
// permission sets are loaded eagerly with the user.
type PGUserStore struct {
	db    *sql.DB
	roles *PGRoleStore
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db, roles: NewPGRoleStore(db)}
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, active, locked, failed_login_attempts, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Active, u.Locked, u.FailedLoginAttempts, u.CreatedAt,
	)
	if err != nil {
		return err
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx,
			`insert into user_roles(user_id, role_id) select $1, id from roles where name=$2`,
			u.ID, role.Name,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGUserStore) Update(ctx context.Context, u *User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lastLogin := sql.NullTime{Time: u.LastLogin, Valid: !u.LastLogin.IsZero()}
	res, err := tx.ExecContext(ctx,
		`update users set username=$2, email=$3, password_hash=$4, active=$5, locked=$6,
		        failed_login_attempts=$7, last_login=$8 where id=$1`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Active, u.Locked, u.FailedLoginAttempts, lastLogin,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id=$1`, u.ID); err != nil {
		return err
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx,
			`insert into user_roles(user_id, role_id) select $1, id from roles where name=$2`,
			u.ID, role.Name,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	return s.findBy(ctx, `where id=$1`, id)
}

func (s *PGUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.findBy(ctx, `where username=$1`, username)
}

func (s *PGUserStore) findBy(ctx context.Context, clause string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, username, email, password_hash, active, locked, failed_login_attempts, created_at, last_login
		 from users `+clause, arg)
	var (
		u         User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Locked,
		&u.FailedLoginAttempts, &u.CreatedAt, &lastLogin); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`select r.name from roles r join user_roles ur on ur.role_id=r.id where ur.user_id=$1 order by r.name`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roleNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roleNames = append(roleNames, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, name := range roleNames {
		role, err := s.roles.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}
	return &u, nil
}

func (s *PGUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where username=$1)`, username)
}

func (s *PGUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where email=$1)`, email)
}

func (s *PGUserStore) exists(ctx context.Context, query string, arg any) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PGUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

// PGRoleStore implements RoleStore using PostgreSQL.
type PGRoleStore struct {
	db *sql.DB
}

func NewPGRoleStore(db *sql.DB) *PGRoleStore {
	return &PGRoleStore{db: db}
}

func (s *PGRoleStore) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, name, description, created_at, updated_at) values($1,$2,$3,$4,$5)`,
		role.ID, role.Name, role.Description, role.CreatedAt, role.UpdatedAt,
	)
	return err
}

func (s *PGRoleStore) Update(ctx context.Context, role *Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update roles set description=$2, updated_at=now() where name=$1`, role.Name, role.Description)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_id=(select id from roles where name=$1)`, role.Name); err != nil {
		return err
	}
	for _, perm := range role.Permissions {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id)
			 select r.id, p.id from roles r, permissions p where r.name=$1 and p.name=$2`,
			role.Name, perm.Name,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGRoleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where name=$1`, name)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.name, p.resource, p.action, p.description, p.created_at
		 from permissions p join role_permissions rp on rp.permission_id=p.id
		 where rp.role_id=$1 order by p.name`, role.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *PGRoleStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from roles where name=$1)`, name).Scan(&exists)
	return exists, err
}

func (s *PGRoleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `select name from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roles := make([]*Role, 0, len(names))
	for _, name := range names {
		role, err := s.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *PGRoleStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where name=$1`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Permission store ---------------------------------------------------------

// PGPermissionStore implements PermissionStore using PostgreSQL.
type PGPermissionStore struct {
	db *sql.DB
}

func NewPGPermissionStore(db *sql.DB) *PGPermissionStore {
	return &PGPermissionStore{db: db}
}

func (s *PGPermissionStore) Create(ctx context.Context, perm *Permission) error {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into permissions(id, name, resource, action, description, created_at) values($1,$2,$3,$4,$5,$6)`,
		perm.ID, perm.Name, perm.Resource, perm.Action, perm.Description, perm.CreatedAt,
	)
	return err
}

func (s *PGPermissionStore) FindByName(ctx context.Context, name string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, resource, action, description, created_at from permissions where name=$1`, name)
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PGPermissionStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from permissions where name=$1)`, name).Scan(&exists)
	return exists, err
}

func (s *PGPermissionStore) List(ctx context.Context) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, resource, action, description, created_at from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []*Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

func (s *PGPermissionStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where name=$1`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Policy store -------------------------------------------------------------

// PGPolicyStore implements PolicyStore using PostgreSQL. The policy condition
// is persisted as its storable spec and rehydrated on read.
type PGPolicyStore struct {
	db *sql.DB
}

func NewPGPolicyStore(db *sql.DB) *PGPolicyStore {
	return &PGPolicyStore{db: db}
}

func (s *PGPolicyStore) Create(ctx context.Context, policy *AccessPolicy) error {
	if policy.ID == "" {
		policy.ID = ids.New()
	}
	allowedRoles, _ := json.Marshal(policy.AllowedRoles)
	condition, _ := json.Marshal(policy.ConditionSpec)
	_, err := s.db.ExecContext(ctx,
		`insert into access_policies(id, name, resource, description, allowed_roles, condition, active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		policy.ID, policy.Name, policy.Resource, policy.Description, allowedRoles, condition,
		policy.Active, policy.CreatedAt, policy.UpdatedAt,
	)
	return err
}

func (s *PGPolicyStore) Update(ctx context.Context, policy *AccessPolicy) error {
	allowedRoles, _ := json.Marshal(policy.AllowedRoles)
	condition, _ := json.Marshal(policy.ConditionSpec)
	res, err := s.db.ExecContext(ctx,
		`update access_policies set description=$3, allowed_roles=$4, condition=$5, active=$6, updated_at=now()
		 where name=$1 and resource=$2`,
		policy.Name, policy.Resource, policy.Description, allowedRoles, condition, policy.Active,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGPolicyStore) FindActiveByResource(ctx context.Context, resource string) ([]*AccessPolicy, error) {
	return s.query(ctx,
		`select id, name, resource, description, allowed_roles, condition, active, created_at, updated_at
		 from access_policies where resource=$1 and active order by name`, resource)
}

func (s *PGPolicyStore) List(ctx context.Context) ([]*AccessPolicy, error) {
	return s.query(ctx,
		`select id, name, resource, description, allowed_roles, condition, active, created_at, updated_at
		 from access_policies order by resource, name`)
}

func (s *PGPolicyStore) query(ctx context.Context, query string, args ...any) ([]*AccessPolicy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*AccessPolicy
	for rows.Next() {
		var (
			p            AccessPolicy
			allowedRoles []byte
			condition    []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Description, &allowedRoles, &condition,
			&p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(allowedRoles) > 0 {
			if err := json.Unmarshal(allowedRoles, &p.AllowedRoles); err != nil {
				return nil, err
			}
		}
		if len(condition) > 0 {
			var spec ConditionSpec
			if err := json.Unmarshal(condition, &spec); err != nil {
				return nil, err
			}
			if err := p.SetCondition(spec); err != nil {
				return nil, err
			}
		}
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

func (s *PGPolicyStore) Delete(ctx context.Context, name, resource string) error {
	res, err := s.db.ExecContext(ctx, `delete from access_policies where name=$1 and resource=$2`, name, resource)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
