package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/upb/authgate/auth"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/models"
	"github.com/upb/authgate/revocation"
	"github.com/upb/authgate/services"
	"github.com/upb/authgate/session"
	"github.com/upb/authgate/token"
	"github.com/upb/authgate/utils"
)

// Authenticator checks login credentials against the principal store
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

// CredentialInspector verifies a credential and exposes its claims
type CredentialInspector interface {
	Inspect(credential string, now time.Time) (*token.Claims, error)
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PrincipalResponse carries a sanitized principal
type PrincipalResponse struct {
	Success bool        `json:"success"`
	User    interface{} `json:"user"`
}

// SessionResponse describes who the caller is, if anyone, and the decoded
// session envelope
type SessionResponse struct {
	Success       bool             `json:"success"`
	Authenticated bool             `json:"authenticated"`
	User          interface{}      `json:"user,omitempty"`
	Session       *session.Payload `json:"session,omitempty"`
}

// AuthHandler serves the login, logout and identity endpoints
type AuthHandler struct {
	authenticator Authenticator
	issuer        *auth.Issuer
	envelope      *session.Envelope
	credentials   CredentialInspector
	revocations   revocation.Store
	clock         abtime.AbstractTime
	logger        *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. revocations may be nil.
func NewAuthHandler(
	authenticator Authenticator,
	issuer *auth.Issuer,
	envelope *session.Envelope,
	credentials CredentialInspector,
	revocations revocation.Store,
	clock abtime.AbstractTime,
	logger *zap.Logger,
) *AuthHandler {
	if revocations == nil {
		revocations = revocation.Noop{}
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &AuthHandler{
		authenticator: authenticator,
		issuer:        issuer,
		envelope:      envelope,
		credentials:   credentials,
		revocations:   revocations,
		clock:         clock,
		logger:        logger,
	}
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.authenticator.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login rejected",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("error_type", string(services.GetErrorType(err))))
		HandleServiceError(w, err, h.logger)
		return
	}

	now := h.clock.Now()
	// The envelope refuses insecure transport and logs it; login still proceeds
	err = h.envelope.Attach(w, r, session.Payload{Subject: user.PrincipalID()}, now)
	if err != nil && !errors.Is(err, session.ErrInsecureTransport) {
		h.logger.Error("failed to attach session", zap.Error(err))
	}

	if err := h.issuer.Issue(w, r, user, now); err != nil {
		h.envelope.Clear(w, r)
		HandleServiceError(w, services.WrapInternal("failed to issue credential", err), h.logger)
	}
}

// HandleLogout handles POST /api/v1/auth/logout. Both cookies are cleared;
// a still-valid credential is also denylisted until its expiry.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var revokeErr error
	if credential := middleware.ExtractToken(r); credential != "" {
		now := h.clock.Now()
		if claims, err := h.credentials.Inspect(credential, now); err == nil {
			revokeErr = h.revocations.Revoke(r.Context(), claims.ID, claims.ExpiresAtTime(), now)
		}
	}

	h.issuer.Clear(w)
	h.envelope.Clear(w, r)

	if revokeErr != nil {
		HandleServiceError(w, services.WrapUnavailable("credential could not be revoked", revokeErr), h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{
		Success: true,
		Message: "logged out",
	})
}

// HandleMe handles GET /api/v1/auth/me. It runs behind RequireAuth.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrLoginRequired, h.logger)
		return
	}

	user, err := auth.Sanitize(principal)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to encode principal", err), h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, PrincipalResponse{Success: true, User: user})
}

// HandleSession handles GET /api/v1/auth/session. It runs behind OptionalAuth.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	response := SessionResponse{Success: true}

	if principal := middleware.GetPrincipalFromContext(r.Context()); principal != nil {
		user, err := auth.Sanitize(principal)
		if err != nil {
			HandleServiceError(w, services.WrapInternal("failed to encode principal", err), h.logger)
			return
		}
		response.Authenticated = true
		response.User = user
	}
	if payload, ok := session.FromContext(r.Context()); ok {
		response.Session = &payload
	}

	_ = utils.WriteJSON(w, http.StatusOK, response)
}
