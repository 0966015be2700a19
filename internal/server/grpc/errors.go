package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeOf maps a store or domain error onto a gRPC code.
func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, common.ErrorNotFound):
		return codes.NotFound
	case errors.Is(err, common.ErrAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, common.ErrTenantMismatch):
		return codes.PermissionDenied
	case errors.Is(err, common.ErrDecode),
		errors.Is(err, common.ErrInvalidFilter),
		errors.Is(err, common.ErrInvalidRecord),
		errors.Is(err, common.ErrInvalidScope),
		errors.Is(err, common.ErrUnknownKind):
		return codes.InvalidArgument
	case errors.Is(err, common.ErrorUnauthorized):
		return codes.Unauthenticated
	case errors.Is(err, common.ErrTimeout):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// toStatus converts err into a status error. Internal failures do not
// leak their message to the caller.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeOf(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// statusOf is toStatus for per-item errors inside a batch response.
func statusOf(err error) *wire.Status {
	if err == nil {
		return nil
	}
	st := status.Convert(toStatus(err))
	return &wire.Status{Code: st.Code().String(), Message: st.Message()}
}
