package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "guardia"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenProvider mints and validates opaque bearer tokens. The rest of the
// core never inspects signature or encoding.
type TokenProvider interface {
	GenerateAccessToken(subject string, authorities []string) (string, error)
	GenerateRefreshToken(subject string) (string, error)
	ExtractUsername(token string) (string, error)
	IsTokenValid(token, expectedSubject string) bool
	AccessTokenTTL() time.Duration
}

// Claims are the JWT claims carried by access tokens. Refresh tokens carry
// the registered claims only.
type Claims struct {
	Authorities []string `json:"authorities,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider implements TokenProvider with HS256-signed JWTs.
type JWTProvider struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// JWTOption configures JWTProvider behavior.
type JWTOption func(*JWTProvider)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) JWTOption {
	return func(p *JWTProvider) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			p.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) JWTOption {
	return func(p *JWTProvider) {
		if ttl > 0 {
			p.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) JWTOption {
	return func(p *JWTProvider) {
		if ttl > 0 {
			p.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) JWTOption {
	return func(p *JWTProvider) {
		if fn != nil {
			p.now = fn
		}
	}
}

// NewJWTProvider constructs a provider signing with the given secret.
func NewJWTProvider(secret string, opts ...JWTOption) (*JWTProvider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	p := &JWTProvider{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GenerateAccessToken signs a short-lived token carrying the subject and its
// authority list.
func (p *JWTProvider) GenerateAccessToken(subject string, authorities []string) (string, error) {
	return p.sign(subject, authorities, p.accessTTL)
}

// GenerateRefreshToken signs a long-lived token carrying the subject only.
func (p *JWTProvider) GenerateRefreshToken(subject string) (string, error) {
	return p.sign(subject, nil, p.refreshTTL)
}

func (p *JWTProvider) sign(subject string, authorities []string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: token subject is required")
	}
	now := p.now().UTC()
	claims := Claims{
		Authorities: authorities,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// ExtractUsername returns the subject of a valid token.
func (p *JWTProvider) ExtractUsername(token string) (string, error) {
	claims, err := p.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsTokenValid reports whether the token verifies and belongs to the
// expected subject.
func (p *JWTProvider) IsTokenValid(token, expectedSubject string) bool {
	claims, err := p.parse(token)
	if err != nil {
		return false
	}
	return claims.Subject == expectedSubject
}

// AccessTokenTTL returns the configured access-token lifetime.
func (p *JWTProvider) AccessTokenTTL() time.Duration {
	return p.accessTTL
}

// ParseClaims verifies the token signature and required claims.
func (p *JWTProvider) ParseClaims(token string) (*Claims, error) {
	return p.parse(token)
}

func (p *JWTProvider) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return p.now() }), jwt.WithIssuer(p.issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
