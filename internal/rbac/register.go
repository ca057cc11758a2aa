package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardia.org/internal/audit"
)

// DefaultRoleName is attached to new users registered without explicit
// roles. It must be provisioned before registration is opened.
const DefaultRoleName = "USER"

// PasswordHasher is the collaborating credential-hashing capability. The
// registration flow never sees hashing mechanics.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// RegistrationService creates users with hashed credentials and initial role
// assignments.
type RegistrationService struct {
	users    UserStore
	roles    RoleStore
	hasher   PasswordHasher
	recorder *audit.Recorder
}

// NewRegistrationService wires the service. All collaborators are required.
func NewRegistrationService(users UserStore, roles RoleStore, hasher PasswordHasher, recorder *audit.Recorder) (*RegistrationService, error) {
	if users == nil || roles == nil {
		return nil, errors.New("rbac: user and role stores are required")
	}
	if hasher == nil {
		return nil, errors.New("rbac: password hasher is required")
	}
	if recorder == nil {
		return nil, errors.New("rbac: audit recorder is required")
	}
	return &RegistrationService{users: users, roles: roles, hasher: hasher, recorder: recorder}, nil
}

// RegisterUser validates and persists a new user. Empty role names attach the
// default role; any named role must exist. A CREATE audit record is written
// only on success.
func (s *RegistrationService) RegisterUser(ctx context.Context, username, email, password string, roleNames []string, creatorID, creatorUsername string) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", ErrInvalidInput)
	}

	taken, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: username %q", ErrConflict, username)
	}
	taken, err = s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: email %q", ErrConflict, email)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user, err := NewUser(username, email, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	if len(roleNames) > 0 {
		for _, name := range roleNames {
			role, err := s.roles.FindByName(ctx, name)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
				}
				return nil, err
			}
			user.AddRole(role)
		}
	} else {
		role, err := s.roles.FindByName(ctx, DefaultRoleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrDefaultRoleMissing
			}
			return nil, err
		}
		user.AddRole(role)
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	rec, err := audit.NewRecord("User", user.ID, audit.ActionCreate, creatorID, creatorUsername)
	if err != nil {
		return nil, err
	}
	rec.Description = fmt.Sprintf("user registered: %s", username)
	if err := s.recorder.Record(ctx, rec); err != nil {
		return nil, err
	}
	return user, nil
}
