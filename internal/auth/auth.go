// Package auth carries the caller identity through a context and gates write
// access to the warehouse by permission.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"salesetl/internal/config"
)

// Permission is a single capability granted to a role.
type Permission string

const (
	PermRead      Permission = "read"
	PermWrite     Permission = "write"
	PermDelete    Permission = "delete"
	PermAnalytics Permission = "analytics"
)

// Roles maps role names to their permission sets.
var Roles = map[string][]Permission{
	"admin":    {PermRead, PermWrite, PermDelete, PermAnalytics},
	"analyst":  {PermRead, PermAnalytics},
	"operator": {PermRead, PermWrite},
}

var (
	// ErrUnauthenticated is returned when no identity is attached or a
	// credential does not resolve to one.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden is returned when the identity lacks a permission.
	ErrForbidden = errors.New("auth: forbidden")
)

// Identity is an authenticated caller.
type Identity struct {
	Subject     string
	Role        string
	Permissions []Permission
}

// Has reports whether id carries p.
func (id Identity) Has(p Permission) bool {
	for _, have := range id.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// NewIdentity builds an Identity for a known role.
func NewIdentity(subject, role string) (Identity, error) {
	perms, ok := Roles[role]
	if !ok {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, role)
	}
	return Identity{Subject: subject, Role: role, Permissions: append([]Permission(nil), perms...)}, nil
}

// System is the identity used by scheduled jobs.
func System() Identity {
	id, _ := NewIdentity("system", "admin")
	return id
}

type contextKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached to ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Require checks that ctx carries an identity holding p.
func Require(ctx context.Context, p Permission) error {
	id, ok := FromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !id.Has(p) {
		return fmt.Errorf("%w: %s (role %s) lacks %s", ErrForbidden, id.Subject, id.Role, p)
	}
	return nil
}

// Authenticator resolves credentials to identities.
type Authenticator struct {
	keys   map[string]string
	secret []byte
}

// NewAuthenticator builds an Authenticator from the auth config block.
func NewAuthenticator(cfg config.Auth) *Authenticator {
	a := &Authenticator{keys: make(map[string]string, len(cfg.APIKeys))}
	for _, k := range cfg.APIKeys {
		a.keys[k.Key] = k.Role
	}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	return a
}

// APIKey resolves a static API key.
func (a *Authenticator) APIKey(key string) (Identity, error) {
	role, ok := a.keys[key]
	if !ok || key == "" {
		return Identity{}, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
	}
	return NewIdentity("apikey:"+fingerprint(key), role)
}

// Token verifies an HS256 JWT ("Bearer " prefix optional). The role claim
// selects the permission set; sub becomes the subject.
func (a *Authenticator) Token(bearer string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: jwt not configured", ErrUnauthenticated)
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearer), "Bearer "))

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid claims type", ErrUnauthenticated)
	}
	return NewIdentity(getStringClaim(claims, "sub"), getStringClaim(claims, "role"))
}

// Resolve tries the credential as an API key, then as a JWT.
func (a *Authenticator) Resolve(credential string) (Identity, error) {
	if id, err := a.APIKey(credential); err == nil {
		return id, nil
	}
	return a.Token(credential)
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

// fingerprint keeps log-safe subjects for api keys.
func fingerprint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
