package client

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = common.ErrorUnauthorized
)

// sentinelOf is the reverse of the server's error mapping.
func sentinelOf(code codes.Code) error {
	switch code {
	case codes.NotFound:
		return common.ErrorNotFound
	case codes.AlreadyExists:
		return common.ErrAlreadyExists
	case codes.PermissionDenied:
		return common.ErrTenantMismatch
	case codes.InvalidArgument:
		return common.ErrInvalidRecord
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return nil
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	sentinel := sentinelOf(st.Code())
	if sentinel == nil {
		return fmt.Errorf("rpc error: %w", err)
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}

// ItemError is the failure of a single record inside a batch response.
type ItemError struct {
	Code    codes.Code
	Message string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ItemError) Is(target error) bool {
	sentinel := sentinelOf(e.Code)
	return sentinel != nil && target == sentinel
}

// Retryable reports whether resending the same record may succeed.
func (e *ItemError) Retryable() bool {
	return e.Code == codes.Unavailable || e.Code == codes.DeadlineExceeded
}

func itemError(s *wire.Status) error {
	if s == nil {
		return nil
	}
	return &ItemError{Code: codeFromName(s.Code), Message: s.Message}
}

func codeFromName(name string) codes.Code {
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		if c.String() == name {
			return c
		}
	}
	return codes.Unknown
}
