package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each incoming request and, at debug level, how long
// the handler held it. For /ws that is the lifetime of the socket.
func NewRequestLogger(logger *slog.Logger) Middleware {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip, requestID string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip, requestID = reqMeta.IP, reqMeta.RequestID
			}

			start := time.Now()
			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("requestID", requestID),
			)
			next.ServeHTTP(w, r)
			logger.Debug("HTTP request finished",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("requestID", requestID),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
