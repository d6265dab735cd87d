package broadcast

import (
	"context"
	"testing"

	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend/memory"
	"github.com/pickme-go/metrics/v2"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *BackendRegistry {
	return NewBackendRegistry(
		memory.NewMemoryBackend(log.NewNoopLogger(), metrics.NoopReporter()),
		log.NewNoopLogger(),
		metrics.NoopReporter())
}

func TestBackendRegistry_RegisterFetchRelease(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	h, err := r.Register(ctx, `orders`, []byte(`blob`))
	require.NoError(t, err)
	require.Equal(t, `orders`, h.Name)
	require.Equal(t, 4, h.Size)
	require.NotEmpty(t, h.ID)

	blob, err := r.Fetch(ctx, h)
	require.NoError(t, err)
	require.Equal(t, []byte(`blob`), blob)
	require.Equal(t, []Handle{h}, r.Handles())

	require.NoError(t, r.Release(h))
	_, err = r.Fetch(ctx, h)
	require.Error(t, err)
	require.Empty(t, r.Handles())
}

func TestBackendRegistry_CanceledContext(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Register(ctx, `orders`, []byte(`blob`))
	require.ErrorIs(t, err, context.Canceled)
}
