package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/upb/authgate/models"
	"github.com/upb/authgate/revocation"
	"github.com/upb/authgate/services"
	"github.com/upb/authgate/token"
	"github.com/upb/authgate/utils"
)

// TokenCookieName is the cookie carrying the credential. The Authorization
// header takes precedence when both are present.
const TokenCookieName = "token"

// CredentialVerifier checks a presented credential and returns its claims
type CredentialVerifier interface {
	Inspect(credential string, now time.Time) (*token.Claims, error)
}

// PrincipalLookup resolves the identifier carried by a credential.
// A missing principal must be reported as a services not_found error so it
// can be told apart from a store failure.
type PrincipalLookup interface {
	FindPrincipal(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier    CredentialVerifier
	lookup      PrincipalLookup
	revocations revocation.Store
	clock       abtime.AbstractTime
	logger      *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. revocations may be nil.
func NewAuthMiddleware(verifier CredentialVerifier, lookup PrincipalLookup, revocations revocation.Store, clock abtime.AbstractTime, logger *zap.Logger) *AuthMiddleware {
	if revocations == nil {
		revocations = revocation.Noop{}
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &AuthMiddleware{
		verifier:    verifier,
		lookup:      lookup,
		revocations: revocations,
		clock:       clock,
		logger:      logger,
	}
}

// outcome of one authentication attempt. Exactly one of principal, reject
// or failure is set.
type outcome struct {
	principal *models.User
	claims    *token.Claims
	reject    string
	failure   error
}

func (m *AuthMiddleware) authenticate(r *http.Request) outcome {
	ctx := r.Context()
	requestID := GetRequestIDFromContext(ctx)

	credential := ExtractToken(r)
	if credential == "" {
		m.logger.Debug("missing credential",
			zap.String("request_id", requestID))
		return outcome{reject: services.MessageLoginRequired}
	}

	claims, err := m.verifier.Inspect(credential, m.clock.Now())
	if err != nil {
		m.logger.Warn("credential verification failed",
			zap.String("request_id", requestID),
			zap.Stringer("kind", token.KindOf(err)),
			zap.Error(err))
		return outcome{reject: services.MessageInvalidToken}
	}

	revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		m.logger.Error("revocation check failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		return outcome{failure: err}
	}
	if revoked {
		m.logger.Warn("revoked credential presented",
			zap.String("request_id", requestID),
			zap.String("jti", claims.ID))
		return outcome{reject: services.MessageInvalidToken}
	}

	principal, err := m.lookup.FindPrincipal(ctx, claims.PrincipalID())
	if err != nil {
		if services.IsNotFoundError(err) {
			m.logger.Warn("credential subject not found",
				zap.String("request_id", requestID),
				zap.String("sub", claims.PrincipalID()))
			return outcome{reject: services.MessageLoginRequired}
		}
		m.logger.Error("principal lookup failed",
			zap.String("request_id", requestID),
			zap.String("sub", claims.PrincipalID()),
			zap.Error(err))
		return outcome{failure: err}
	}
	if principal == nil {
		return outcome{reject: services.MessageLoginRequired}
	}

	return outcome{principal: principal, claims: claims}
}

// RequireAuth rejects requests without a valid credential for an existing
// principal with 401. Store failures produce 503.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := m.authenticate(r)
		switch {
		case res.failure != nil:
			_ = utils.WriteServiceUnavailable(w, "")
			return
		case res.reject != "":
			_ = utils.WriteUnauthorized(w, res.reject)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("sub", res.claims.PrincipalID()))

		ctx := WithPrincipal(r.Context(), res.principal)
		ctx = WithClaims(ctx, res.claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the principal when the request authenticates and
// otherwise continues without one. Store failures still produce 503.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := m.authenticate(r)
		if res.failure != nil {
			_ = utils.WriteServiceUnavailable(w, "")
			return
		}
		if res.principal != nil {
			ctx := WithPrincipal(r.Context(), res.principal)
			r = r.WithContext(WithClaims(ctx, res.claims))
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractToken extracts the credential from the Authorization header
// ("Bearer TOKEN") or the "token" cookie, in that order.
func ExtractToken(r *http.Request) string {
	if credential := extractBearerToken(r); credential != "" {
		return credential
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
