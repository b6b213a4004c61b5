package common

import "context"

type logoutReasonKey struct{}

// WithLogoutReason annotates ctx with why the session is ending, so that
// whoever clears the credential can tell the server.
func WithLogoutReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, logoutReasonKey{}, reason)
}

// LogoutReason returns the reason set by WithLogoutReason, or "".
func LogoutReason(ctx context.Context) string {
	r, _ := ctx.Value(logoutReasonKey{}).(string)
	return r
}
