package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tenancy"
)

// Authenticator resolves a bearer token to the calling principal
type Authenticator interface {
	Authenticate(token string) (models.Principal, error)
}

// Authenticate resolves the caller from the Authorization header and
// injects it into the request context. Public paths skip authentication.
func Authenticate(a Authenticator, public ...string) Middleware {
	skip := make(map[string]bool, len(public))
	for _, p := range public {
		skip[p] = true
	}

	return func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request) error {
			if skip[r.URL.Path] {
				return next(w, r)
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return apperr.Unauthorized("Authentication required")
			}

			p, err := a.Authenticate(token)
			if err != nil {
				return apperr.Unauthorized("Invalid credentials").WithCause(err)
			}

			ctx := tenancy.WithPrincipal(r.Context(), p)
			return next(w, r.WithContext(ctx))
		}
	}
}

// RequireRole rejects callers that hold none of roles
func RequireRole(roles ...models.Role) Middleware {
	return func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request) error {
			if err := tenancy.RequireRole(r.Context(), roles...); err != nil {
				if errors.Is(err, tenancy.ErrNoPrincipal) {
					return apperr.Unauthorized("Authentication required").WithCause(err)
				}
				return apperr.BusinessRule(apperr.RuleForbidden, "Operation not permitted for this role").WithCause(err)
			}
			return next(w, r)
		}
	}
}
