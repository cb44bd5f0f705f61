package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the credential lifetime when none is configured
const DefaultTTL = 7 * 24 * time.Hour

// Claims is the credential body. The millisecond fields are authoritative for
// expiry; the registered second-precision fields are kept for other readers.
type Claims struct {
	jwt.RegisteredClaims
	IssuedAtMs  int64 `json:"iat_ms"`
	ExpiresAtMs int64 `json:"exp_ms"`
}

// PrincipalID returns the subject the credential was minted for
func (c *Claims) PrincipalID() string {
	return c.Subject
}

// IssuedAtTime returns the issue instant with millisecond precision
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAtMs > 0 {
		return time.UnixMilli(c.IssuedAtMs)
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// ExpiresAtTime returns the expiry instant with millisecond precision
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAtMs > 0 {
		return time.UnixMilli(c.ExpiresAtMs)
	}
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// Minted is a freshly signed credential
type Minted struct {
	Token     string
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec mints and verifies HS256 credentials with a single shared secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// NewCodec creates a codec. A zero ttl selects DefaultTTL.
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		// Expiry is checked by the codec against the caller's clock
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}, nil
}

// TTL returns the credential lifetime
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Mint signs a credential for principalID that expires at now + TTL.
func (c *Codec) Mint(principalID string, now time.Time) (Minted, error) {
	if principalID == "" {
		return Minted{}, ErrEmptySubject
	}

	expiresAt := now.Add(c.ttl)
	id := uuid.New().String()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtMs:  now.UnixMilli(),
		ExpiresAtMs: expiresAt.UnixMilli(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Minted{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return Minted{
		Token:     signed,
		ID:        id,
		Subject:   principalID,
		IssuedAt:  time.UnixMilli(claims.IssuedAtMs),
		ExpiresAt: time.UnixMilli(claims.ExpiresAtMs),
	}, nil
}

// Verify checks the signature and expiry and returns the principal id.
// Errors are *VerificationError.
func (c *Codec) Verify(tokenString string, now time.Time) (string, error) {
	claims, err := c.Inspect(tokenString, now)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Inspect verifies the token like Verify and returns all of its claims.
func (c *Codec) Inspect(tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, c.classify(tokenString, err)
	}

	if claims.Subject == "" {
		return nil, newVerificationError(MalformedToken, errors.New("missing sub claim"))
	}
	expiresAt := claims.ExpiresAtTime()
	if expiresAt.IsZero() {
		return nil, newVerificationError(MalformedToken, errors.New("missing exp claim"))
	}
	if now.UnixMilli() >= expiresAt.UnixMilli() {
		return nil, newVerificationError(Expired, fmt.Errorf("expired at %s", expiresAt.UTC().Format(time.RFC3339Nano)))
	}

	return claims, nil
}

// classify maps a jwt parse error onto a verification kind. A token whose
// header and claims decode but whose signature segment does not is a
// signature failure, not a malformed token.
func (c *Codec) classify(tokenString string, err error) *VerificationError {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return newVerificationError(BadSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		if _, _, perr := c.parser.ParseUnverified(tokenString, &Claims{}); perr == nil {
			return newVerificationError(BadSignature, err)
		}
		return newVerificationError(MalformedToken, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return newVerificationError(BadSignature, err)
	default:
		return newVerificationError(MalformedToken, err)
	}
}
