package middleware

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/upb/authgate/models"
	"github.com/upb/authgate/token"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the resolved principal
	PrincipalKey contextKey = "principal"

	// ClaimsKey is the context key for the verified credential claims
	ClaimsKey contextKey = "claims"
)

// GetRequestIDFromContext retrieves the request ID assigned by chi's RequestID
func GetRequestIDFromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// GetPrincipalFromContext retrieves the authenticated principal, or nil
func GetPrincipalFromContext(ctx context.Context) *models.User {
	if val := ctx.Value(PrincipalKey); val != nil {
		if principal, ok := val.(*models.User); ok {
			return principal
		}
	}
	return nil
}

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal *models.User) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetClaimsFromContext retrieves the verified credential claims
func GetClaimsFromContext(ctx context.Context) *token.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*token.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified credential claims to the context
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
