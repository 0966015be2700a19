package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTenantMismatchError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("put: %w", &TenantMismatchError{Kind: "chores", ID: "c1", Expected: "owner=a", Actual: "owner=b"})

	require.ErrorIs(t, err, ErrTenantMismatch)
	require.NotErrorIs(t, err, ErrorNotFound)

	var tm *TenantMismatchError
	require.True(t, errors.As(err, &tm))
	require.Equal(t, "c1", tm.ID)
	require.Contains(t, err.Error(), "chores/c1")
}

func TestDecodeError_Message(t *testing.T) {
	err := &DecodeError{Field: "amount", Reason: "missing required field"}
	require.ErrorIs(t, err, ErrDecode)
	require.Equal(t, `decode attributes: field "amount": missing required field`, err.Error())

	err = &DecodeError{Kind: "wallets", ID: "w1", Reason: "bad payload"}
	require.Equal(t, "decode wallets/w1: bad payload", err.Error())
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(fmt.Errorf("get: %w", ErrTimeout)))
	require.False(t, IsRetryable(ErrTenantMismatch))
	require.False(t, IsRetryable(nil))
}
