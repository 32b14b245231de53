package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/huddle/pkg/config"
	"github.com/a-essam23/huddle/pkg/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, sub, username string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// echoIdentity writes back what the chain put into the request metadata.
func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ := ReqMetadataFrom(r.Context())
		_, _ = w.Write([]byte(meta.UserID + "/" + meta.Username))
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := Stack{
		RequestMetadataMiddleware(false),
		NewAuthMiddleware(logging.Discard(), testSecret),
	}.Then(echoIdentity())

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantBody string
	}{
		{
			name: "cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: signToken(t, testSecret, "u1", "alice")})
			},
			wantCode: http.StatusOK,
			wantBody: "u1/alice",
		},
		{
			name: "bearer",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u2", "bob"))
			},
			wantCode: http.StatusOK,
			wantBody: "u2/bob",
		},
		{
			name:     "missing",
			prepare:  func(*http.Request) {},
			wantCode: http.StatusUnauthorized,
			wantBody: `{"event":"error","payload":{"code":"UNAUTHENTICATED","message":"missing session token"}}`,
		},
		{
			name: "wrong secret",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, "other", "u1", "alice"))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "no username",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", ""))
			},
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestConnectionLimiter(t *testing.T) {
	var cycled []string
	counter := func(string) int { return 2 }
	cycler := func(userID string) { cycled = append(cycled, userID) }

	newHandler := func(max int, mode string) http.Handler {
		return Stack{
			RequestMetadataMiddleware(false),
			NewAuthMiddleware(logging.Discard(), testSecret),
			NewConnectionLimiter(logging.Discard(), counter, cycler, config.ConnectionLimitConfig{MaxPerUser: max, Mode: mode}),
		}.Then(echoIdentity())
	}
	do := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", "alice"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rejected := do(newHandler(2, LimitModeReject))
	assert.Equal(t, http.StatusTooManyRequests, rejected.Code)
	assert.Equal(t, "application/json", rejected.Header().Get("Content-Type"))
	body := rejected.Body.String()
	assert.Equal(t, "error", gjson.Get(body, "event").String())
	assert.Equal(t, "RESOURCE_EXHAUSTED", gjson.Get(body, "payload.code").String())
	assert.Contains(t, gjson.Get(body, "payload.message").String(), "2")
	assert.Empty(t, cycled)

	assert.Equal(t, http.StatusOK, do(newHandler(2, LimitModeCycle)).Code)
	assert.Equal(t, []string{"u1"}, cycled)

	assert.Equal(t, http.StatusOK, do(newHandler(3, LimitModeReject)).Code)
	assert.Equal(t, http.StatusOK, do(newHandler(0, "bogus")).Code, "limit disabled")

	misconfigured := do(newHandler(2, "bogus"))
	assert.Equal(t, http.StatusInternalServerError, misconfigured.Code)
	assert.Equal(t, "INTERNAL", gjson.Get(misconfigured.Body.String(), "payload.code").String())
}

func TestConnectionLimiterWithoutAuthIsForbidden(t *testing.T) {
	handler := Stack{
		RequestMetadataMiddleware(false),
		NewConnectionLimiter(logging.Discard(), func(string) int { return 0 }, func(string) {}, config.ConnectionLimitConfig{MaxPerUser: 1, Mode: LimitModeReject}),
	}.Then(echoIdentity())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", gjson.Get(rec.Body.String(), "payload.code").String())
}

func TestRequestMetadata(t *testing.T) {
	echoMeta := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ := ReqMetadataFrom(r.Context())
		_, _ = w.Write([]byte(meta.RequestID + "|" + meta.IP))
	})

	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		wantIP     string
		wantID     string
	}{
		{name: "remote addr", wantIP: "192.0.2.1"},
		{name: "forwarded ignored by default", headers: map[string]string{"X-Forwarded-For": "203.0.113.9"}, wantIP: "192.0.2.1"},
		{name: "forwarded trusted", trustProxy: true, headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, wantIP: "203.0.113.9"},
		{name: "real ip trusted", trustProxy: true, headers: map[string]string{"X-Real-IP": "198.51.100.4"}, wantIP: "198.51.100.4"},
		{name: "request id kept", headers: map[string]string{RequestIDHeader: "abc-123"}, wantIP: "192.0.2.1", wantID: "abc-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			Stack{RequestMetadataMiddleware(tt.trustProxy)}.Then(echoMeta).ServeHTTP(rec, req)

			id, ip, _ := strings.Cut(rec.Body.String(), "|")
			assert.Equal(t, tt.wantIP, ip)
			assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, id)
			} else {
				_, err := uuid.Parse(id)
				assert.NoError(t, err)
			}
		})
	}
}

func TestStackOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	base := Stack{tag("a"), tag("b")}
	extended := base.With(tag("c"))
	final := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") })

	extended.Then(final).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)

	order = nil
	base.ThenFunc(final).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order, "With must not modify the base stack")
}
