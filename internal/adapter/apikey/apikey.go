// Package apikey implements the auth port over a static list of publisher
// API keys. A key may be stored in plain text or as a bcrypt hash.
package apikey

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/port/auth"
)

// Authorizer checks bearer tokens against configured keys.
type Authorizer struct {
	plain  [][]byte
	hashed [][]byte
}

// New builds an Authorizer. Entries that look like bcrypt hashes are
// compared with bcrypt; all others in constant time. Blank entries are
// ignored. An empty key list rejects every token.
func New(keys []string) *Authorizer {
	a := &Authorizer{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		switch {
		case k == "":
		case IsHash(k):
			a.hashed = append(a.hashed, []byte(k))
		default:
			a.plain = append(a.plain, []byte(k))
		}
	}
	return a
}

// Len returns the number of configured keys.
func (a *Authorizer) Len() int { return len(a.plain) + len(a.hashed) }

// Authorize accepts token if it matches any configured key.
func (a *Authorizer) Authorize(_ context.Context, token string) (auth.Principal, error) {
	if token == "" || a.Len() == 0 {
		return auth.Principal{}, fmt.Errorf("api key: %w", domain.ErrUnauthorized)
	}

	tok := []byte(token)
	match := -1
	// Every plain key is compared so timing does not reveal which one matched.
	for i, k := range a.plain {
		if subtle.ConstantTimeCompare(tok, k) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		for i, h := range a.hashed {
			if bcrypt.CompareHashAndPassword(h, tok) == nil {
				match = len(a.plain) + i
				break
			}
		}
	}
	if match < 0 {
		return auth.Principal{}, fmt.Errorf("api key: %w", domain.ErrUnauthorized)
	}
	return auth.Principal{Subject: fmt.Sprintf("key-%d", match), Method: "api_key"}, nil
}

// Hash returns a bcrypt hash of key suitable for auth.api_keys.
func Hash(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key: %w", domain.ErrValidation)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(h), nil
}

// IsHash reports whether s has the shape of a bcrypt hash.
func IsHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	switch s[:4] {
	case "$2a$", "$2b$", "$2y$":
		return true
	}
	return false
}
