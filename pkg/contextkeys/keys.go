// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tally/pkg/contextkeys"
//	ctx = contextkeys.WithUserID(ctx, "42")
//	userID := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: audit.Middleware (pkg/audit/middleware.go)
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the acting user ID string
	// Set by: audit.Middleware from the X-User-ID header, or host auth layer
	// Used by: audit.ContextResolver
	// Type: string
	UserIDKey Key = "user_id"

	// RequestURLKey contains the full URL of the originating request
	// Set by: audit.Middleware
	// Used by: audit.Builder
	// Type: string
	RequestURLKey Key = "request_url"

	// IPAddressKey contains the client IP of the originating request
	// Set by: audit.Middleware
	// Used by: audit.Builder
	// Type: string
	IPAddressKey Key = "ip_address"

	// UserAgentKey contains the client user agent
	// Set by: audit.Middleware
	// Used by: audit.Builder
	// Type: string
	UserAgentKey Key = "user_agent"

	// AuditDisabledKey marks a call path whose records go to the null sink
	// Set by: audit.WithoutAuditing
	// Used by: audit.Auditable.RecordEvent
	// Type: bool
	AuditDisabledKey Key = "audit_disabled"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithRequestURL adds the request URL to the context
func WithRequestURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, RequestURLKey, url)
}

// WithIPAddress adds the client IP to the context
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, IPAddressKey, ip)
}

// WithUserAgent adds the client user agent to the context
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, UserAgentKey, userAgent)
}

// WithAuditDisabled marks the context so audit records are discarded
func WithAuditDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, AuditDisabledKey, true)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

// GetRequestURL retrieves the request URL from context
func GetRequestURL(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(RequestURLKey).(string)
	return v, ok
}

// GetIPAddress retrieves the client IP from context
func GetIPAddress(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(IPAddressKey).(string)
	return v, ok
}

// GetUserAgent retrieves the user agent from context
func GetUserAgent(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserAgentKey).(string)
	return v, ok
}

// IsAuditDisabled reports whether WithAuditDisabled was applied
func IsAuditDisabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(AuditDisabledKey).(bool)
	return disabled
}

func getString(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
