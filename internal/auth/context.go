package auth

import (
	"context"

	svcErr "github.com/oggyb/studymatch/internal/errors"
)

type userKey struct{}

func WithUser(ctx context.Context, userID uint64) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// CurrentUser returns the authenticated user id, if any.
func CurrentUser(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(userKey{}).(uint64)
	return id, ok && id != 0
}

// RequireUser is CurrentUser for handlers that cannot run anonymously.
func RequireUser(ctx context.Context) (uint64, error) {
	id, ok := CurrentUser(ctx)
	if !ok {
		return 0, svcErr.ErrUnauthenticated
	}
	return id, nil
}
