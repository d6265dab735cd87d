package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := New(ResourceExhausted, `mapjoin.index`, fmt.Errorf(`budget 10 bytes`))
	wrapped := fmt.Errorf(`task 3 failed: %w`, err)

	require.Equal(t, ResourceExhausted, KindOf(wrapped))
	require.True(t, IsKind(wrapped, ResourceExhausted))
	require.False(t, IsKind(wrapped, UpstreamReadFailure))
	require.False(t, IsKind(nil, ResourceExhausted))
}

func TestError_Message(t *testing.T) {
	err := New(UnsupportedExecutionEnvironment, `mapjoin.Join`, nil)
	require.Equal(t, `[mapjoin.Join] UnsupportedExecutionEnvironment`, err.Error())

	err = New(UpstreamReadFailure, `left`, context.Canceled)
	require.Contains(t, err.Error(), `UpstreamReadFailure`)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, err.Retryable())
}

func TestKindOf_Unknown(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(fmt.Errorf(`plain`)))
	require.Equal(t, `Unknown`, KindUnknown.String())
}
