package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guardia.org/internal/audit"
	"guardia.org/internal/obs"
	"guardia.org/internal/rbac"
)

// TokenBundle is the result of a successful authentication.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // milliseconds
}

// Service validates credentials, manages login and lockout state on the user
// and issues bearer tokens. Every authentication attempt is audited; token
// refresh is not.
type Service struct {
	users    rbac.UserStore
	tokens   TokenProvider
	verifier CredentialVerifier
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the authentication service. All collaborators are
// required.
func NewService(users rbac.UserStore, tokens TokenProvider, verifier CredentialVerifier, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token provider is required")
	}
	if verifier == nil {
		return nil, errors.New("auth: credential verifier is required")
	}
	if recorder == nil {
		return nil, errors.New("auth: audit recorder is required")
	}
	s := &Service{users: users, tokens: tokens, verifier: verifier, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate verifies the credentials and returns a fresh token bundle.
// Unknown users and wrong passwords surface the same generic failure;
// inactive and locked accounts are reported distinctly.
func (s *Service) Authenticate(ctx context.Context, username, password, clientIP, userAgent string) (TokenBundle, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			if auditErr := s.auditUnknownUser(ctx, username, clientIP, userAgent); auditErr != nil {
				return TokenBundle{}, auditErr
			}
			obs.ObserveLoginAttempt("failure")
			return TokenBundle{}, ErrInvalidCredentials
		}
		return TokenBundle{}, err
	}

	if !user.Active {
		if auditErr := s.auditLoginFailure(ctx, user, "Account is inactive", clientIP, userAgent); auditErr != nil {
			return TokenBundle{}, auditErr
		}
		obs.ObserveLoginAttempt("failure")
		return TokenBundle{}, fmt.Errorf("%w: account is inactive", ErrInvalidCredentials)
	}
	if user.Locked {
		if auditErr := s.auditLoginFailure(ctx, user, "Account is locked", clientIP, userAgent); auditErr != nil {
			return TokenBundle{}, auditErr
		}
		obs.ObserveLoginAttempt("failure")
		return TokenBundle{}, fmt.Errorf("%w: account is locked", ErrInvalidCredentials)
	}

	if err := s.verifier.Verify(user.PasswordHash, password); err != nil {
		user.IncrementFailedLoginAttempts()
		if updateErr := s.users.Update(ctx, user); updateErr != nil {
			return TokenBundle{}, updateErr
		}
		if auditErr := s.auditLoginFailure(ctx, user, "Invalid credentials", clientIP, userAgent); auditErr != nil {
			return TokenBundle{}, auditErr
		}
		obs.ObserveLoginAttempt("failure")
		return TokenBundle{}, ErrInvalidCredentials
	}

	user.RecordLogin()
	if err := s.users.Update(ctx, user); err != nil {
		return TokenBundle{}, err
	}

	authorities := Authorities(user)
	accessToken, err := s.tokens.GenerateAccessToken(user.Username, authorities)
	if err != nil {
		return TokenBundle{}, err
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(user.Username)
	if err != nil {
		return TokenBundle{}, err
	}

	rec, err := audit.NewRecord("Authentication", user.ID, audit.ActionLogin, user.ID, user.Username)
	if err != nil {
		return TokenBundle{}, err
	}
	rec.Description = "Login successful"
	rec.SetContext(clientIP, userAgent)
	if err := s.recorder.Record(ctx, rec); err != nil {
		return TokenBundle{}, err
	}
	obs.ObserveLoginAttempt("success")

	return TokenBundle{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.tokens.AccessTokenTTL().Milliseconds(),
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// operation is deliberately unaudited, preserving the asymmetry of the
// original flow.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	username, err := s.tokens.ExtractUsername(refreshToken)
	if err != nil {
		return "", ErrInvalidToken
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if !s.tokens.IsTokenValid(refreshToken, user.Username) {
		return "", ErrInvalidToken
	}
	return s.tokens.GenerateAccessToken(user.Username, Authorities(user))
}

func (s *Service) auditLoginFailure(ctx context.Context, user *rbac.User, reason, clientIP, userAgent string) error {
	rec, err := audit.NewRecord("Authentication", user.ID, audit.ActionLogin, user.ID, user.Username)
	if err != nil {
		return err
	}
	rec.Description = "Login failed: " + reason
	rec.SetError(reason)
	rec.SetContext(clientIP, userAgent)
	return s.recorder.Record(ctx, rec)
}

func (s *Service) auditUnknownUser(ctx context.Context, username, clientIP, userAgent string) error {
	rec, err := audit.NewRecord("Authentication", username, audit.ActionLogin, "", username)
	if err != nil {
		return err
	}
	rec.Description = "Login failed - user not found"
	rec.SetError("user not found")
	rec.SetContext(clientIP, userAgent)
	return s.recorder.Record(ctx, rec)
}
