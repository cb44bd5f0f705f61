// Package session implements the signed, client-held session cookie.
//
// The envelope is a JWT signed with SESSION_SECRET, independent of the
// credential secret. Its expiry is fixed at creation and never refreshed.
// Nothing is stored server-side.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	authmw "github.com/upb/authgate/middleware"
)

// CookieName is the name of the envelope cookie
const CookieName = "session"

var (
	// ErrInsecureTransport is returned by Attach when a Secure cookie would
	// be sent over a connection not judged secure.
	ErrInsecureTransport = errors.New("refusing to send secure session cookie over insecure transport")

	// ErrEmptySecret is returned by NewEnvelope when no secret is configured
	ErrEmptySecret = errors.New("session secret is empty")
)

// Payload is the decoded content of an envelope.
type Payload struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type envelopeClaims struct {
	jwt.RegisteredClaims
	Values      map[string]string `json:"vals,omitempty"`
	IssuedAtMs  int64             `json:"iat_ms"`
	ExpiresAtMs int64             `json:"exp_ms"`
}

// Envelope signs, reads and clears the session cookie.
type Envelope struct {
	secret []byte
	policy CookiePolicy
	clock  abtime.AbstractTime
	parser *jwt.Parser
	logger *zap.Logger
}

// NewEnvelope creates an envelope codec bound to one cookie policy
func NewEnvelope(secret string, policy CookiePolicy, clock abtime.AbstractTime, logger *zap.Logger) (*Envelope, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Envelope{
		secret: []byte(secret),
		policy: policy,
		clock:  clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
		logger: logger,
	}, nil
}

// Policy returns the cookie attributes used by this envelope
func (e *Envelope) Policy() CookiePolicy {
	return e.policy
}

// Attach signs payload and writes the session cookie. The expiry is
// now + TTL regardless of any ExpiresAt already set on payload.
func (e *Envelope) Attach(w http.ResponseWriter, r *http.Request, payload Payload, now time.Time) error {
	if e.policy.Secure && !authmw.IsSecureRequest(r) {
		e.logger.Warn("session cookie not sent",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(ErrInsecureTransport))
		return ErrInsecureTransport
	}

	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	expiresAt := now.Add(e.policy.TTL)

	claims := envelopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        payload.ID,
			Subject:   payload.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Values:      payload.Values,
		IssuedAtMs:  now.UnixMilli(),
		ExpiresAtMs: expiresAt.UnixMilli(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, e.policy.Cookie(CookieName, signed, now))
	return nil
}

// Read decodes the session cookie. Absent, tampered and expired envelopes
// all report ok=false.
func (e *Envelope) Read(r *http.Request, now time.Time) (Payload, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return Payload{}, false
	}

	claims := &envelopeClaims{}
	_, err = e.parser.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (interface{}, error) {
		return e.secret, nil
	})
	if err != nil {
		e.logger.Debug("session envelope rejected",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		return Payload{}, false
	}

	if claims.ExpiresAtMs == 0 || now.UnixMilli() >= claims.ExpiresAtMs {
		e.logger.Debug("session envelope expired",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("session_id", claims.ID))
		return Payload{}, false
	}

	return Payload{
		ID:        claims.ID,
		Subject:   claims.Subject,
		Values:    claims.Values,
		IssuedAt:  time.UnixMilli(claims.IssuedAtMs),
		ExpiresAt: time.UnixMilli(claims.ExpiresAtMs),
	}, true
}

// Clear expires the session cookie on the client. A session cookie already
// set on w but not yet written is dropped first.
func (e *Envelope) Clear(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	pending := header.Values("Set-Cookie")
	header.Del("Set-Cookie")
	for _, value := range pending {
		if !strings.HasPrefix(value, CookieName+"=") {
			header.Add("Set-Cookie", value)
		}
	}
	http.SetCookie(w, e.policy.Expired(CookieName))
}

// Middleware decodes the envelope, if any, into the request context
func (e *Envelope) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if payload, ok := e.Read(r, e.clock.Now()); ok {
			r = r.WithContext(WithPayload(r.Context(), payload))
		}
		next.ServeHTTP(w, r)
	})
}

type contextKey struct{}

// WithPayload stores a decoded session on ctx
func WithPayload(ctx context.Context, payload Payload) context.Context {
	return context.WithValue(ctx, contextKey{}, payload)
}

// FromContext returns the decoded session, if the request carried one
func FromContext(ctx context.Context) (Payload, bool) {
	payload, ok := ctx.Value(contextKey{}).(Payload)
	return payload, ok
}
