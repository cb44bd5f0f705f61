package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/authgate/models"
	"github.com/upb/authgate/services"
	"github.com/upb/authgate/token"
)

const testSecret = "gate-secret-for-tests-only-000000"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MockPrincipalLookup is a mock implementation of PrincipalLookup
type MockPrincipalLookup struct {
	mock.Mock
}

func (m *MockPrincipalLookup) FindPrincipal(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// MockRevocationStore is a mock implementation of revocation.Store
type MockRevocationStore struct {
	mock.Mock
}

func (m *MockRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt, now time.Time) error {
	return m.Called(ctx, tokenID, expiresAt, now).Error(0)
}

func (m *MockRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

type gateFixture struct {
	codec       *token.Codec
	clock       *abtime.ManualTime
	lookup      *MockPrincipalLookup
	revocations *MockRevocationStore
	gate        *AuthMiddleware
	user        *models.User
}

func newGateFixture(t *testing.T, logger *zap.Logger) *gateFixture {
	t.Helper()
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	f := &gateFixture{
		codec:       codec,
		clock:       abtime.NewManualAtTime(epoch),
		lookup:      new(MockPrincipalLookup),
		revocations: new(MockRevocationStore),
		user:        models.NewUser("Ada", "ada@example.com", "$2a$hash", epoch),
	}
	f.gate = NewAuthMiddleware(codec, f.lookup, f.revocations, f.clock, logger)
	return f
}

func (f *gateFixture) mint(t *testing.T) token.Minted {
	t.Helper()
	minted, err := f.codec.Mint(f.user.PrincipalID(), epoch)
	require.NoError(t, err)
	return minted
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func mustNotRun(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid credential in Authorization header allows request", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)

		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, nil)
		f.lookup.On("FindPrincipal", mock.Anything, f.user.PrincipalID()).Return(f.user, nil)

		handler := f.gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			require.NotNil(t, principal)
			assert.Equal(t, f.user.ID, principal.ID)

			claims := GetClaimsFromContext(r.Context())
			require.NotNil(t, claims)
			assert.Equal(t, minted.ID, claims.ID)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		f.lookup.AssertExpectations(t)
		f.revocations.AssertExpectations(t)
	})

	t.Run("valid credential in cookie allows request", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)

		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, nil)
		f.lookup.On("FindPrincipal", mock.Anything, f.user.PrincipalID()).Return(f.user, nil)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: minted.Token})
		w := httptest.NewRecorder()

		f.gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("header takes precedence over cookie", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: minted.Token})
		w := httptest.NewRecorder()

		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, services.MessageInvalidToken, decodeBody(t, w)["message"])
		f.lookup.AssertNotCalled(t, "FindPrincipal")
	})

	t.Run("missing credential returns 401 login required", func(t *testing.T) {
		f := newGateFixture(t, logger)

		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "login first to access this page", body["message"])
		f.lookup.AssertNotCalled(t, "FindPrincipal")
	})

	t.Run("non-bearer authorization header counts as missing", func(t *testing.T) {
		f := newGateFixture(t, logger)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, services.MessageLoginRequired, decodeBody(t, w)["message"])
	})

	t.Run("expired credential returns 401 invalid token", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.clock.Advance(time.Hour)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid token", decodeBody(t, w)["message"])
		f.revocations.AssertNotCalled(t, "IsRevoked")
	})

	t.Run("revoked credential returns 401 invalid token", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(true, nil)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, services.MessageInvalidToken, decodeBody(t, w)["message"])
		f.lookup.AssertNotCalled(t, "FindPrincipal")
	})

	t.Run("unknown principal returns 401 login required", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, nil)
		f.lookup.On("FindPrincipal", mock.Anything, f.user.PrincipalID()).
			Return(nil, services.ErrPrincipalNotFound)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, services.MessageLoginRequired, decodeBody(t, w)["message"])
	})

	t.Run("store failure returns 503", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, nil)
		f.lookup.On("FindPrincipal", mock.Anything, f.user.PrincipalID()).
			Return(nil, services.WrapUnavailable("principal store unavailable", errors.New("connection refused")))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("revocation store failure returns 503", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, errors.New("redis down"))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()
		f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestRequireAuth_LogsKindNotResponse(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newGateFixture(t, zap.New(core))
	minted := f.mint(t)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+minted.Token[:len(minted.Token)-4]+"AAAA")
	w := httptest.NewRecorder()
	f.gate.RequireAuth(mustNotRun(t)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "signature")

	entries := logs.FilterMessage("credential verification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, token.BadSignature.String(), entries[0].ContextMap()["kind"])
}

func TestOptionalAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("no credential continues without principal", func(t *testing.T) {
		f := newGateFixture(t, logger)

		called := false
		handler := f.gate.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Nil(t, GetPrincipalFromContext(r.Context()))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.True(t, called)
	})

	t.Run("invalid credential continues without principal", func(t *testing.T) {
		f := newGateFixture(t, logger)

		called := false
		handler := f.gate.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Nil(t, GetPrincipalFromContext(r.Context()))
		}))
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, called)
	})

	t.Run("valid credential attaches principal", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, nil)
		f.lookup.On("FindPrincipal", mock.Anything, f.user.PrincipalID()).Return(f.user, nil)

		var principal *models.User
		handler := f.gate.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal = GetPrincipalFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NotNil(t, principal)
		assert.Equal(t, f.user.Email, principal.Email)
	})

	t.Run("store failure still returns 503", func(t *testing.T) {
		f := newGateFixture(t, logger)
		minted := f.mint(t)
		f.revocations.On("IsRevoked", mock.Anything, minted.ID).Return(false, nil)
		f.lookup.On("FindPrincipal", mock.Anything, f.user.PrincipalID()).
			Return(nil, services.ErrStoreUnavailable)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+minted.Token)
		w := httptest.NewRecorder()
		f.gate.OptionalAuth(mustNotRun(t)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestNewAuthMiddleware_NilRevocations(t *testing.T) {
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	lookup := new(MockPrincipalLookup)
	user := models.NewUser("Ada", "ada@example.com", "", epoch)
	lookup.On("FindPrincipal", mock.Anything, user.PrincipalID()).Return(user, nil)

	gate := NewAuthMiddleware(codec, lookup, nil, abtime.NewManualAtTime(epoch), zap.NewNop())
	minted, err := codec.Mint(user.PrincipalID(), epoch)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+minted.Token)
	w := httptest.NewRecorder()
	gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "none"},
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "cookie", cookie: "xyz", want: "xyz"},
		{name: "header wins", header: "Bearer abc", cookie: "xyz", want: "abc"},
		{name: "malformed header falls back to cookie", header: "Token abc", cookie: "xyz", want: "xyz"},
		{name: "empty bearer falls back to cookie", header: "Bearer ", cookie: "xyz", want: "xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, ExtractToken(req))
		})
	}
}
