package auth

import (
	"context"
	"errors"
)

type identityKey struct{}

type identity struct {
	userID string
	role   string
}

// WithIdentity attaches the verified caller identity to the context.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{userID: userID, role: role})
}

// UserID returns the authenticated participant id.
func UserID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(identityKey{}).(identity)
	if !ok || id.userID == "" {
		return "", errors.New("user_id not in context")
	}
	return id.userID, nil
}

// Role returns the authenticated caller's role.
func Role(ctx context.Context) (string, error) {
	id, ok := ctx.Value(identityKey{}).(identity)
	if !ok || id.role == "" {
		return "", errors.New("role not in context")
	}
	return id.role, nil
}
