package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type secureTransportKey struct{}

// TrustProxy trusts exactly hops reverse proxies in front of the service.
// The original scheme and client address are read from the X-Forwarded-Proto
// and X-Forwarded-For entry that the outermost trusted proxy appended. With
// hops == 0 both headers are ignored.
func TrustProxy(hops int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secure := r.TLS != nil
			if proto := forwardedValue(r.Header.Values("X-Forwarded-Proto"), hops); proto != "" {
				secure = strings.EqualFold(proto, "https")
			}
			if ip := forwardedValue(r.Header.Values("X-Forwarded-For"), hops); ip != "" && net.ParseIP(ip) != nil {
				r.RemoteAddr = ip
			}
			next.ServeHTTP(w, r.WithContext(WithSecureTransport(r.Context(), secure)))
		})
	}
}

// forwardedValue picks the entry hops positions from the right of a
// comma-separated forwarding chain. Chains shorter than hops yield the
// leftmost entry.
func forwardedValue(values []string, hops int) string {
	if hops <= 0 || len(values) == 0 {
		return ""
	}
	var chain []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				chain = append(chain, part)
			}
		}
	}
	if len(chain) == 0 {
		return ""
	}
	idx := len(chain) - hops
	if idx < 0 {
		idx = 0
	}
	return chain[idx]
}

// WithSecureTransport records whether the original client connection was TLS
func WithSecureTransport(ctx context.Context, secure bool) context.Context {
	return context.WithValue(ctx, secureTransportKey{}, secure)
}

// IsSecureRequest reports whether the request arrived over TLS, either
// directly or as judged by TrustProxy.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	secure, _ := r.Context().Value(secureTransportKey{}).(bool)
	return secure
}
