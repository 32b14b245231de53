package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/a-essam23/huddle/internal/gateway"
	"github.com/a-essam23/huddle/pkg/config"
)

const (
	LimitModeReject = "reject"
	LimitModeCycle  = "cycle"
)

type UserConnectionCounter func(userID string) int
type UserConnectionCycler func(userID string)

// NewConnectionLimiter caps open sockets per user and must run after auth.
// At the cap, reject answers 429 with RESOURCE_EXHAUSTED and cycle closes
// the user's oldest socket to make room for this one.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	logger = logger.With(slog.String("component", "connection_limiter"))
	if cfg.MaxPerUser <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Request metadata missing; check middleware order")
				reject(w, http.StatusInternalServerError, gateway.CodeInternal, "internal error")
				return
			}
			if reqMeta.UserID == "" {
				logger.Warn("Limiter reached without an authenticated user", slog.String("requestID", reqMeta.RequestID))
				reject(w, http.StatusForbidden, gateway.CodeForbidden, "connection limit requires an authenticated user")
				return
			}

			count := counter(reqMeta.UserID)
			if count < cfg.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			log := logger.With(
				slog.String("requestID", reqMeta.RequestID),
				slog.String("userID", reqMeta.UserID),
				slog.Int("count", count),
				slog.Int("max", cfg.MaxPerUser),
			)
			switch cfg.Mode {
			case LimitModeReject:
				log.Warn("User connection limit reached; rejecting")
				reject(w, http.StatusTooManyRequests, gateway.CodeResourceExhausted,
					fmt.Sprintf("at most %d open connections per user", cfg.MaxPerUser))
			case LimitModeCycle:
				log.Info("User connection limit reached; cycling oldest")
				cycler(reqMeta.UserID)
				next.ServeHTTP(w, r)
			default:
				log.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				reject(w, http.StatusInternalServerError, gateway.CodeInternal, "internal error")
			}
		})
	}
}
