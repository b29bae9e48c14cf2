// Package auth defines the port interface for bearer token authorization.
package auth

import (
	"context"
	"errors"

	"github.com/Strob0t/tideway/internal/domain"
)

// Principal identifies the caller behind an accepted token.
type Principal struct {
	Subject string
	Method  string // "api_key" or "jwt"
}

// Authorizer decides whether a bearer token may publish or administer.
// Rejections wrap domain.ErrUnauthorized.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (Principal, error)
}

// Any accepts a token if any of the given authorizers accepts it, trying
// them in order. With no authorizers every token is rejected.
func Any(authorizers ...Authorizer) Authorizer {
	return anyOf(authorizers)
}

type anyOf []Authorizer

func (a anyOf) Authorize(ctx context.Context, token string) (Principal, error) {
	var errs []error
	for _, az := range a {
		p, err := az.Authorize(ctx, token)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Principal{}, domain.ErrUnauthorized
	}
	return Principal{}, errors.Join(errs...)
}
