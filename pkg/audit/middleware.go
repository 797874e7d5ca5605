package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/tally/pkg/contextkeys"
)

// Request headers read by Middleware
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
)

// Middleware stores the request metadata used by RequestContext and
// ContextResolver on the request context
type Middleware struct {
	userHeader   string
	trustProxies bool
}

// NewMiddleware creates the middleware. userHeader names the header that
// carries the acting user, empty disables it. When trustProxies is set the
// client IP is taken from X-Forwarded-For / X-Real-IP.
func NewMiddleware(userHeader string, trustProxies bool) *Middleware {
	return &Middleware{userHeader: userHeader, trustProxies: trustProxies}
}

// Handler wraps an HTTP handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		ctx = contextkeys.WithRequestID(ctx, requestID)

		ctx = contextkeys.WithRequestURL(ctx, requestURL(r))
		if ip := m.clientIP(r); ip != "" {
			ctx = contextkeys.WithIPAddress(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = contextkeys.WithUserAgent(ctx, ua)
		}
		if m.userHeader != "" {
			if user := strings.TrimSpace(r.Header.Get(m.userHeader)); user != "" {
				ctx = contextkeys.WithUserID(ctx, user)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestURL rebuilds the absolute URL of the request
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// clientIP returns the originating client address without port
func (m *Middleware) clientIP(r *http.Request) string {
	if m.trustProxies {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
