// Package rbac resolves the calling actor and gates routes by role.
package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-rfq/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

const (
	// HeaderActorID carries the authenticated user id set by the auth gateway.
	HeaderActorID = "X-Actor-ID"
	// HeaderActorRole carries the authenticated user's role.
	HeaderActorRole = "X-Actor-Role"
)

// Middleware wires actor resolution and role checks for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Identify reads the actor headers and stores the actor in the request context.
// Requests without a usable identity pass through anonymously; RequireRole rejects them.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		role := shared.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
		if id == "" || !role.Valid() {
			next.ServeHTTP(w, r)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole ensures the current actor holds one of roles. With no roles any
// identified actor is accepted.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
				return
			}
			if !hasRole(actor.Role, roles) {
				if m.Logger != nil {
					m.Logger.Warn("rbac role denied",
						slog.String("actor", actor.ID),
						slog.String("role", string(actor.Role)),
						slog.String("path", r.URL.Path))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(role shared.Role, allowed []shared.Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
