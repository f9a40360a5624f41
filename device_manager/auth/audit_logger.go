package auth

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ClientIp prefers the proxy headers set by the ingress over the socket address.
func ClientIp(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func routeAttrs(r *http.Request) []any {
	attrs := []any{}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			attrs = append(attrs, slog.String(key, rctx.URLParams.Values[i]))
		}
	}
	if team := r.URL.Query().Get("team_id"); team != "" {
		attrs = append(attrs, slog.String("team_id", team))
	}
	return attrs
}

type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(stream io.Writer) AuditLogger {
	return AuditLogger{logger: slog.New(slog.NewJSONHandler(stream, nil))}
}

// Middleware records every mutating request together with its outcome. Reads
// are not audited. It must run after the user has been loaded into the context.
func (a *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		user, err := UserFromContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		a.logger.Log(r.Context(), level, "audit",
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", user.Id,
			"email", user.Email,
			"client_ip", ClientIp(r),
			"method", r.Method,
			"path", r.URL.Path,
			slog.Group("resource", routeAttrs(r)...),
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
