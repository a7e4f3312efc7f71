// Package audit records security-relevant events on the shared logger.
package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"kontakt.org/internal/auth"
	"kontakt.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names.
const (
	EventSignup         = "auth.signup"
	EventLogin          = "auth.login"
	EventLoginFailed    = "auth.login_failed"
	EventRefreshRevoked = "auth.refresh_revoked"
	EventEmailConfirmed = "auth.email_confirmed"
	EventLogout         = "auth.logout"
	EventContactDeleted = "contacts.deleted"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated user, when the context carries them.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{zap.String("type", "audit"), zap.String("event", event)}
	if rid := requestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if user, ok := auth.UserFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", user.ID))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	extra := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		extra = append(extra, zap.Any(k, fields[k]))
	}
	zf = append(zf, zap.Dict("fields", extra...))

	obs.Logger().Info("audit", zf...)
	return nil
}
