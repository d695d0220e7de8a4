package tenancy

import (
	"context"
	"errors"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
)

type contextKey string

const principalKey contextKey = "principal"

var (
	ErrNoPrincipal    = errors.New("no authenticated principal in context")
	ErrRoleNotAllowed  = errors.New("role not allowed")
)

// WithPrincipal attaches the logged-in caller to ctx
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the logged-in caller
func PrincipalFrom(ctx context.Context) (models.Principal, error) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	if !ok || p.TenantID == "" {
		return models.Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// TenantID returns the caller's tenant
func TenantID(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", err
	}
	return p.TenantID, nil
}

// RequireRole checks that the caller holds one of roles
func RequireRole(ctx context.Context, roles ...models.Role) error {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ErrRoleNotAllowed
}
