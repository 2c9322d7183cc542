// Package auth gates API access with static bearer tokens. Regular tokens
// may read and ingest; the admin token additionally sees hidden nodes.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated means no valid token was presented.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden means the token lacks the required privilege.
	ErrForbidden = errors.New("auth: forbidden")
)

// Principal is the authenticated caller.
type Principal struct {
	Admin bool
}

// Gate authenticates requests.
type Gate interface {
	// Authenticate resolves the request's credentials to a Principal.
	Authenticate(r *http.Request) (Principal, error)
}

// TokenGate authenticates via static bearer tokens. An empty adminToken
// disables admin access entirely.
type TokenGate struct {
	token      string
	adminToken string
}

// NewTokenGate builds a gate from the configured tokens.
func NewTokenGate(token, adminToken string) *TokenGate {
	return &TokenGate{token: token, adminToken: adminToken}
}

// Authenticate checks the Authorization header against the known tokens.
func (g *TokenGate) Authenticate(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Principal{}, ErrUnauthenticated
	}
	if g.adminToken != "" && raw == g.adminToken {
		return Principal{Admin: true}, nil
	}
	if raw == g.token {
		return Principal{}, nil
	}
	return Principal{}, ErrUnauthenticated
}
