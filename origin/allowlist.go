// Package origin decides which browser origins may call the service and
// attaches CORS response headers for the ones that may.
package origin

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/upb/authgate/utils"
)

// ErrOriginDenied matches every *DeniedError with errors.Is
var ErrOriginDenied = errors.New("origin not allowed")

// DeniedError names the rejected origin and the permitted set.
// It is meant for operator logs and never written to the client.
type DeniedError struct {
	Origin    string
	Permitted []string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("origin %q is not allowed (permitted: %s)", e.Origin, strings.Join(e.Permitted, ", "))
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrOriginDenied
}

// Decision is the outcome of validating one request origin.
type Decision struct {
	Allowed bool
	Origin  string
	// Err is set when the origin was denied
	Err *DeniedError
}

// Allowlist is an immutable set of exact origins. Membership is
// case-sensitive string equality; no wildcard or pattern matching.
type Allowlist struct {
	set     map[string]struct{}
	ordered []string
	logger  *zap.Logger
	cors    *cors.Cors
}

// NewAllowlist builds the set once. Empty entries are ignored.
func NewAllowlist(origins []string, logger *zap.Logger) *Allowlist {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Allowlist{
		set:    make(map[string]struct{}, len(origins)),
		logger: logger,
	}
	for _, o := range origins {
		if o == "" {
			continue
		}
		if _, dup := a.set[o]; dup {
			continue
		}
		a.set[o] = struct{}{}
		a.ordered = append(a.ordered, o)
	}

	a.cors = cors.New(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return a.Contains(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return a
}

// Contains reports exact membership without logging
func (a *Allowlist) Contains(origin string) bool {
	_, ok := a.set[origin]
	return ok
}

// Origins returns a copy of the permitted origins in configuration order
func (a *Allowlist) Origins() []string {
	out := make([]string, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Validate decides a single origin. The empty string means the request
// carried no Origin header, which is allowed.
func (a *Allowlist) Validate(origin string) Decision {
	return a.decide(origin)
}

func (a *Allowlist) decide(origin string, fields ...zap.Field) Decision {
	if origin == "" {
		a.logger.Debug("origin check: no origin header", fields...)
		return Decision{Allowed: true}
	}
	if a.Contains(origin) {
		a.logger.Debug("origin check: allowed", append(fields, zap.String("origin", origin))...)
		return Decision{Allowed: true, Origin: origin}
	}

	denied := &DeniedError{Origin: origin, Permitted: a.Origins()}
	a.logger.Warn("cross-origin request denied",
		append(fields,
			zap.String("origin", origin),
			zap.Strings("permitted", denied.Permitted),
			zap.Error(denied),
		)...,
	)
	return Decision{Allowed: false, Origin: origin, Err: denied}
}

// Middleware rejects requests from origins outside the set before any later
// stage runs. Allowed requests get CORS headers and continue.
func (a *Allowlist) Middleware(next http.Handler) http.Handler {
	withCORS := a.cors.Handler(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := a.decide(r.Header.Get("Origin"),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		if !decision.Allowed {
			utils.WriteForbidden(w, "origin not allowed")
			return
		}
		withCORS.ServeHTTP(w, r)
	})
}
