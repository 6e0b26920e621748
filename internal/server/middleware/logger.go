package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs each websocket handshake. It sits after the auth
// middleware in the chain so the entry names the authenticated user; requests
// auth turns away are logged by the auth middleware itself.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip, userID string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
				userID = reqMeta.UserID
			}

			logger.Info("Websocket handshake",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("userID", userID),
			)
			next.ServeHTTP(w, r)
		})
	}
}
