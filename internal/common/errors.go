// Package common defines shared constants and sentinel errors used across
// client and server layers of homesync. Callers should use errors.Is to
// match these values and errors.As for the typed variants.
package common

import (
	"errors"
	"fmt"
)

var (
	// Store-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrTimeout is returned when a bounded store operation expires. It is
	// retryable and never implies data loss.
	ErrTimeout = errors.New("store operation timed out")

	// ErrConflict must not occur given per-key write serialization. Seeing it
	// means the serialization itself is broken, so it is fatal.
	ErrConflict = errors.New("write conflict")

	// Tenant errors. ErrTenantMismatch is an authorization failure and is
	// never retried or auto-corrected.
	ErrTenantMismatch = errors.New("tenant mismatch")
	ErrInvalidScope   = errors.New("tenant scope must set owner or household")

	// Payload errors.
	ErrDecode        = errors.New("decode error")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrInvalidRecord = errors.New("invalid record")
	ErrUnknownKind   = errors.New("unknown entity kind")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
)

// TenantMismatchError describes a write or read that crossed tenant
// boundaries.
type TenantMismatchError struct {
	Kind     string
	ID       string
	Expected string
	Actual   string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch on %s/%s: expected %s, got %s", e.Kind, e.ID, e.Expected, e.Actual)
}

func (e *TenantMismatchError) Is(target error) bool {
	return target == ErrTenantMismatch
}

// DecodeError reports why an attribute map could not be turned into a typed
// value. Field is empty when the failure is not tied to a single attribute.
type DecodeError struct {
	Kind   string
	ID     string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	target := "attributes"
	if e.Kind != "" || e.ID != "" {
		target = e.Kind + "/" + e.ID
	}
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %s", target, e.Reason)
	}
	return fmt.Sprintf("decode %s: field %q: %s", target, e.Field, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// IsRetryable reports whether err is a transient store condition the caller
// may retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}
