package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails signature
// verification, has expired, or is missing required claims.
var ErrInvalidToken = errors.New("authz: invalid or expired token")

// Verifier turns a bearer token into a Principal. NewJWKSVerifier is the
// production implementation; tests can substitute a fake.
type Verifier interface {
	Verify(ctx context.Context, tokenString string) (Principal, error)
}

// JWKSVerifier verifies tokens against a remote JSON Web Key Set,
// refreshed by the keyfunc.Keyfunc it wraps.
type JWKSVerifier struct {
	jwks keyfunc.Keyfunc
}

// NewJWKSVerifier fetches and caches the key set at jwksURL. The
// returned Keyfunc handles background refresh on its own.
func NewJWKSVerifier(jwksURL string) (*JWKSVerifier, error) {
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("authz: jwks init: %w", err)
	}
	return &JWKSVerifier{jwks: jwks}, nil
}

// Verify checks tokenString's signature and expiry, then maps its
// claims onto a Principal. "sub" becomes UserID; "tier" (if present)
// becomes Tier; "roles" and "permissions" are read as string arrays.
func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, v.jwks.KeyfuncCtx(ctx))
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, ErrInvalidToken
	}

	tier, _ := claims["tier"].(string)

	return Principal{
		UserID:      sub,
		Tier:        tier,
		Roles:       stringSliceClaim(claims, "roles"),
		Permissions: stringSliceClaim(claims, "permissions"),
	}, nil
}

// DenyAllVerifier rejects every token. It exists so the gate can start
// with authentication wired in fail-closed mode when no JWKS endpoint is
// configured yet, rather than skipping the Authenticate middleware
// entirely.
type DenyAllVerifier struct{}

func (DenyAllVerifier) Verify(ctx context.Context, tokenString string) (Principal, error) {
	return Principal{}, ErrInvalidToken
}

func stringSliceClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
