package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-essam23/huddle/internal/gateway"
	"github.com/golang-jwt/jwt/v5"
)

const SessionCookie = "session-token"

// AppClaims is the session token issued by the external auth layer.
type AppClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// tokenFrom reads the session cookie, falling back to a bearer header.
func tokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// NewAuthMiddleware trusts an already-issued identity: it only checks the
// token signature and copies sub and username into the request metadata.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				reject(w, http.StatusInternalServerError, gateway.CodeInternal, "internal error")
				return
			}

			tokenString := tokenFrom(r)
			if tokenString == "" {
				logger.Warn("JWT token missing in request", slog.String("requestID", reqMeta.RequestID), slog.String("ip", reqMeta.IP))
				reject(w, http.StatusUnauthorized, gateway.CodeUnauthenticated, "missing session token")
				return
			}

			claims := &AppClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			// Reject token if invalid
			if err != nil || !token.Valid {
				logger.Warn("Invalid JWT token presented", slog.String("requestID", reqMeta.RequestID), slog.String("ip", reqMeta.IP), slog.Any("error", err))
				reject(w, http.StatusUnauthorized, gateway.CodeUnauthenticated, "invalid session token")
				return
			}

			if claims.Subject == "" || strings.TrimSpace(claims.Username) == "" {
				logger.Warn("Valid token missing 'sub' or 'username' claim", slog.String("requestID", reqMeta.RequestID), slog.String("ip", reqMeta.IP))
				reject(w, http.StatusUnauthorized, gateway.CodeUnauthenticated, "session token lacks identity claims")
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.Username = claims.Username
			next.ServeHTTP(w, r)
		})
	}
}
