package session

import (
	"net/http"
	"time"

	"github.com/upb/authgate/config"
)

// CookiePolicy holds the attributes shared by the session and credential
// cookies. HttpOnly is always set.
type CookiePolicy struct {
	Secure   bool
	SameSite http.SameSite
	TTL      time.Duration
	Path     string
	Domain   string
}

// PolicyFromConfig derives the cookie policy from the loaded auth settings.
// The SameSite downgrade for insecure cookies already happened in config.
func PolicyFromConfig(cfg config.AuthConfig) CookiePolicy {
	return CookiePolicy{
		Secure:   cfg.CookieSecure,
		SameSite: cfg.CookieSameSite,
		TTL:      cfg.CookieTTL,
		Path:     "/",
		Domain:   cfg.CookieDomain,
	}
}

func (p CookiePolicy) path() string {
	if p.Path == "" {
		return "/"
	}
	return p.Path
}

// Cookie builds a cookie that expires at now + TTL
func (p CookiePolicy) Cookie(name, value string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     p.path(),
		Domain:   p.Domain,
		Expires:  now.Add(p.TTL),
		MaxAge:   int(p.TTL / time.Second),
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: p.SameSite,
	}
}

// Expired builds a cookie that makes the browser drop name
func (p CookiePolicy) Expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     p.path(),
		Domain:   p.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: p.SameSite,
	}
}
