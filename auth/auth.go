/*
Package auth verifies caller tokens carried in request envelope headers.
Token issuance and credential hashing live outside this module; services only consume
an already issued token through a Verifier.
*/
package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    string
}

// Verifier validates a bearer token and returns the caller identity.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) { return f(ctx, token) }

// StaticVerifier accepts a fixed token set, mainly for service-to-service credentials.
type StaticVerifier struct {
	tokens map[string]Identity
}

// NewStatic builds a StaticVerifier from token → identity pairs.
func NewStatic(tokens map[string]Identity) *StaticVerifier {
	cp := make(map[string]Identity, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}

	return &StaticVerifier{tokens: cp}
}

func (s *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	for known, id := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return id, nil
		}
	}

	return Identity{}, berr.Newf(berr.ErrUnauthorized, "Unauthorized")
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}

	return header
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
