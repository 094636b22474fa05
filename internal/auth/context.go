// ABOUTME: Request-context plumbing for the authenticated user identity
// ABOUTME: Only the HTTP middleware writes it; handlers read it and pass identity explicitly

package auth

import "context"

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user's ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFromContext extracts the authenticated user's ID from the context.
// The second return value is false when no identity has been attached.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}
