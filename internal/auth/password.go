package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks a plaintext password against a stored hash.
type CredentialVerifier interface {
	Verify(hash, password string) error
}

// BcryptHasher hashes and verifies passwords with bcrypt. It satisfies both
// the registration flow's hasher contract and CredentialVerifier.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher at bcrypt's default cost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.DefaultCost}
}

// Hash hashes a plaintext password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password with a stored hash. A mismatch
// surfaces as ErrInvalidCredentials.
func (h *BcryptHasher) Verify(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
