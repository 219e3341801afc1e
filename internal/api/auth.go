// Package api implements the HTTP surface of the collection service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	UserID    string
	Role      string // admin, operator, company
	CompanyID string
}

// getPrincipal extracts identity and role from JWT or headers.
// - If Authorization: Bearer is present, uses the configured verifier
//   (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{UserID: pr.UserID, Role: pr.Role, CompanyID: pr.CompanyID}
		}
	}
	user := r.Header.Get("X-User-Id")
	role := r.Header.Get("X-Role")
	company := r.Header.Get("X-Company-Id")
	if user == "" {
		user = "u_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{UserID: user, Role: role, CompanyID: company}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanOperate reports whether the principal may trigger assignment and
// routing runs.
func (p Principal) CanOperate() bool { return p.Role == "admin" || p.Role == "operator" }
