// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Domain errors raised at the mutation boundary. They describe a real state
// conflict and are shown to the user, unlike transient infra failures.
var (
	ErrSelfAction      = errors.New("cannot act on self")
	ErrMatchExists     = errors.New("match already exists")
	ErrBlocked         = errors.New("match is blocked")
	ErrNotFound        = errors.New("user not found")
	ErrInvalidAction   = errors.New("action must be LIKE or PASS")
	ErrUnauthenticated = errors.New("missing or invalid session")
)

// IsSemantic reports whether err is a state/input error that retrying cannot fix.
func IsSemantic(err error) bool {
	switch {
	case errors.Is(err, ErrSelfAction),
		errors.Is(err, ErrMatchExists),
		errors.Is(err, ErrBlocked),
		errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, ErrInvalidAction),
		errors.Is(err, ErrUnauthenticated):
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.AlreadyExists, codes.NotFound,
			codes.FailedPrecondition, codes.Unauthenticated, codes.PermissionDenied:
			return true
		}
	}
	return false
}

// Map converts repo/infra errors into gRPC-friendly status errors.
// Keeps service layer clean by centralizing error mapping.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrSelfAction), errors.Is(err, ErrInvalidAction):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrMatchExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, ErrBlocked):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())

	case errors.Is(err, gorm.ErrRecordNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		// fallback → bubble up error message for debugging
		return status.Error(codes.Internal, err.Error())
	}
}

// InvalidArgument creates a gRPC InvalidArgument error.
// Use this in service layer for bad input validation.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}

// Unauthenticated creates a gRPC Unauthenticated error.
func Unauthenticated(msg string) error {
	return status.Error(codes.Unauthenticated, msg)
}
