// Package auth issues credentials to principals that have already proven
// who they are.
package auth

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/session"
	"github.com/upb/authgate/token"
	"github.com/upb/authgate/utils"
)

// Minter signs a credential for a principal identifier
type Minter interface {
	Mint(principalID string, now time.Time) (token.Minted, error)
}

// Principal is anything that can name the identifier a credential carries
type Principal interface {
	PrincipalID() string
}

// IssueResponse is the body written on successful issuance
type IssueResponse struct {
	Success bool        `json:"success"`
	Token   string      `json:"token"`
	User    interface{} `json:"user"`
}

// Issuer mints a credential, sets it as the token cookie and returns it
// together with the sanitized principal.
type Issuer struct {
	minter Minter
	policy session.CookiePolicy
	logger *zap.Logger
}

// NewIssuer creates an issuer. The cookie policy is shared with the session
// envelope.
func NewIssuer(minter Minter, policy session.CookiePolicy, logger *zap.Logger) *Issuer {
	return &Issuer{
		minter: minter,
		policy: policy,
		logger: logger,
	}
}

// Issue writes the credential cookie and a 200 response. Nothing is written
// when minting or sanitizing fails.
func (i *Issuer) Issue(w http.ResponseWriter, r *http.Request, principal Principal, now time.Time) error {
	minted, err := i.minter.Mint(principal.PrincipalID(), now)
	if err != nil {
		return fmt.Errorf("failed to mint credential: %w", err)
	}

	user, err := Sanitize(principal)
	if err != nil {
		return fmt.Errorf("failed to sanitize principal: %w", err)
	}

	http.SetCookie(w, i.policy.Cookie(middleware.TokenCookieName, minted.Token, now))

	i.logger.Info("credential issued",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("sub", minted.Subject),
		zap.String("jti", minted.ID),
		zap.Time("expires_at", minted.ExpiresAt))

	return utils.WriteJSON(w, http.StatusOK, IssueResponse{
		Success: true,
		Token:   minted.Token,
		User:    user,
	})
}

// Clear expires the credential cookie
func (i *Issuer) Clear(w http.ResponseWriter) {
	http.SetCookie(w, i.policy.Expired(middleware.TokenCookieName))
}
