// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/FromContext for propagating the authenticated user ID

package auth

import (
	"context"
)

// userIDKey is the key type for storing the authenticated user ID in context.
type userIDKey struct{}

// WithUser returns a new context with the authenticated user ID attached.
func WithUser(ctx context.Context, userID uint64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// FromContext retrieves the authenticated user ID from the context.
// The second return is false if the context carries no identity.
func FromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(userIDKey{}).(uint64)
	return id, ok
}
