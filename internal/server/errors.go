package server

import (
	"PerpPool/internal/core"
	"PerpPool/internal/query"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps engine error kinds to gRPC status codes. Errors that already
// carry a status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, core.ErrInvalidCommand),
		errors.Is(err, core.ErrBadAssetID),
		errors.Is(err, core.ErrBadIMParameters):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrPriceNotSet),
		errors.Is(err, core.ErrNotEnoughIM),
		errors.Is(err, core.ErrNotEnoughBalance):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrOverflow),
		errors.Is(err, core.ErrAmountConvertFailed):
		return codes.OutOfRange
	case errors.Is(err, core.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, core.ErrDuplicate):
		return codes.AlreadyExists
	case errors.Is(err, core.ErrStopped):
		return codes.Unavailable
	case errors.Is(err, query.ErrNoDatabase):
		return codes.Unimplemented
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
