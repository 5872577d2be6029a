package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	svcErr "github.com/oggyb/studymatch/internal/errors"
	"github.com/oggyb/studymatch/internal/logger"
)

const authorizationHeader = "authorization"

// UnaryServerInterceptor authenticates every call except the gRPC health and
// reflection services.
func UnaryServerInterceptor(tokens *Tokens) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		var raw string
		if vals := md.Get(authorizationHeader); len(vals) > 0 {
			raw = vals[0]
		}
		if raw == "" {
			return nil, svcErr.Unauthenticated("missing authorization metadata")
		}
		userID, err := tokens.Verify(bearer(raw))
		if err != nil {
			return nil, svcErr.Map(err)
		}
		ctx = logger.WithContext(ctx, logger.FromContext(ctx, nil).With("user_id", userID))
		return handler(WithUser(ctx, userID), req)
	}
}

func isPublicMethod(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.") || strings.HasPrefix(method, "/grpc.reflection.")
}

func bearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// BearerCredentials attaches a session token to outgoing gRPC calls.
type BearerCredentials struct {
	Token string
	// Insecure allows sending the token over plaintext connections.
	Insecure bool
}

func (c BearerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authorizationHeader: "Bearer " + c.Token}, nil
}

func (c BearerCredentials) RequireTransportSecurity() bool {
	return !c.Insecure
}
