// Package jwtauth implements the auth port for HS256-signed JWT bearer tokens.
package jwtauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/port/auth"
)

// Authorizer validates HS256 tokens signed with a shared secret.
type Authorizer struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// New creates an Authorizer. A non-empty issuer must match the iss claim.
func New(secret, issuer string) (*Authorizer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes: %w", domain.ErrValidation)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Authorizer{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authorize parses and verifies token.
func (a *Authorizer) Authorize(_ context.Context, token string) (auth.Principal, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return auth.Principal{}, fmt.Errorf("jwt: %w: %w", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return auth.Principal{}, fmt.Errorf("jwt: missing subject: %w", domain.ErrUnauthorized)
	}
	return auth.Principal{Subject: claims.Subject, Method: "jwt"}, nil
}

// Issue signs a token for subject valid for ttl.
func (a *Authorizer) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required: %w", domain.ErrValidation)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
