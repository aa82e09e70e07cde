// Package password hashes and verifies user passwords with bcrypt.
package password

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultCost = 12

type Bcrypt struct {
	cost int
	// dummy is a digest of a random secret at the same cost. Comparing
	// against it takes as long as a real verification.
	dummy []byte
}

func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate dummy secret: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(secret, cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy digest: %w", err)
	}

	return &Bcrypt{cost: cost, dummy: dummy}, nil
}

func (b *Bcrypt) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(digest), nil
}

// Verify reports whether plain matches digest. Malformed digests and
// library errors fail closed.
func (b *Bcrypt) Verify(plain string, digest string) bool {
	if digest == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// DummyVerify burns one comparison so unknown users take as long as wrong passwords.
func (b *Bcrypt) DummyVerify(plain string) {
	_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(plain))
}
