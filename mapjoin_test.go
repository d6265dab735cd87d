package mapjoin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend/memory"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/dataset"
	"github.com/pickme-go/mapjoin/encoding"
	"github.com/pickme-go/mapjoin/env"
	mjErrors "github.com/pickme-go/mapjoin/errors"
	"github.com/pickme-go/mapjoin/graph"
	"github.com/pickme-go/mapjoin/processors"
	"github.com/pickme-go/metrics/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row = dataset.Pair[int, dataset.Joined[string, string]]

func joined(k int, l, r string) row {
	return dataset.PairOf(k, dataset.Joined[string, string]{Left: l, Right: r})
}

// countingRegistry counts registrations and fetches of a BackendRegistry.
type countingRegistry struct {
	*broadcast.BackendRegistry
	registered int32
	fetched    int32
}

func (r *countingRegistry) Register(ctx context.Context, name string, blob []byte) (broadcast.Handle, error) {
	atomic.AddInt32(&r.registered, 1)
	return r.BackendRegistry.Register(ctx, name, blob)
}

func (r *countingRegistry) Fetch(ctx context.Context, h broadcast.Handle) ([]byte, error) {
	atomic.AddInt32(&r.fetched, 1)
	return r.BackendRegistry.Fetch(ctx, h)
}

func newTestCluster(t *testing.T, workers int, budget int64) (*env.Cluster, *countingRegistry) {
	registry := &countingRegistry{
		BackendRegistry: broadcast.NewBackendRegistry(
			memory.NewMemoryBackend(log.NewNoopLogger(), metrics.NoopReporter()), log.NewNoopLogger(), metrics.NoopReporter()),
	}

	config := env.NewClusterConfig()
	config.Name = `test`
	config.Logger = log.NewNoopLogger()
	config.WorkerPool.NumOfWorkers = workers
	config.MemoryBudget = budget
	config.Broadcast.Registry = registry

	c, err := env.NewCluster(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	return c, registry
}

// countingDataset counts the partitions read from it.
type countingDataset[K comparable, V any] struct {
	dataset.Dataset[K, V]
	reads int32
}

func counting[K comparable, V any](ds dataset.Dataset[K, V]) *countingDataset[K, V] {
	return &countingDataset[K, V]{Dataset: ds}
}

func (c *countingDataset[K, V]) Read(ctx context.Context, partition int) (dataset.Iterator[K, V], error) {
	atomic.AddInt32(&c.reads, 1)
	return c.Dataset.Read(ctx, partition)
}

func customers() dataset.Dataset[int, string] {
	return dataset.FromPairs(`customers`, 2,
		dataset.PairOf(111, `John Doe`),
		dataset.PairOf(222, `Jane Doe`),
		dataset.PairOf(333, `Someone Else`),
	)
}

func orders() dataset.Dataset[int, string] {
	return dataset.FromPairs(`orders`, 3,
		dataset.PairOf(111, `Corn flakes`),
		dataset.PairOf(222, `Toilet paper`),
		dataset.PairOf(222, `Toilet plunger`),
		dataset.PairOf(333, `Toilet brush`),
	)
}

func noopLogger() Option {
	return WithLogger(log.NewNoopLogger())
}

func TestJoin_CustomersOrders(t *testing.T) {
	cluster, _ := newTestCluster(t, 3, 0)

	j, err := Join(cluster, customers(), orders(), noopLogger())
	require.NoError(t, err)
	defer j.Close()

	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.ElementsMatch(t, []row{
		joined(111, `John Doe`, `Corn flakes`),
		joined(222, `Jane Doe`, `Toilet paper`),
		joined(222, `Jane Doe`, `Toilet plunger`),
		joined(333, `Someone Else`, `Toilet brush`),
	}, rows)
}

func TestJoin_EmptyRight(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	j, err := Join(cluster, customers(), dataset.FromPairs[int, string](`orders`, 2), noopLogger())
	require.NoError(t, err)

	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Empty(t, rows)

	// right side emptied by an upstream filter
	none := processors.Filter(orders(), func(context.Context, int, string) (bool, error) {
		return false, nil
	})
	j2, err := Join(cluster, customers(), none, noopLogger())
	require.NoError(t, err)

	rows, err = env.Collect(context.Background(), cluster, j2)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestJoin_Multiplicity(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	var left, right []dataset.Pair[int, string]
	for k := 1; k <= 4; k++ {
		for i := 0; i < k; i++ {
			left = append(left, dataset.PairOf(k, fmt.Sprintf(`l%d-%d`, k, i)))
		}
		for i := 0; i < 5-k; i++ {
			right = append(right, dataset.PairOf(k, fmt.Sprintf(`r%d-%d`, k, i)))
		}
	}

	j, err := Join(cluster, dataset.FromPairs(`left`, 3, left...), dataset.FromPairs(`right`, 2, right...), noopLogger())
	require.NoError(t, err)

	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)

	perKey := map[int]int{}
	for _, r := range rows {
		perKey[r.Key]++
	}
	for k := 1; k <= 4; k++ {
		require.Equal(t, k*(5-k), perKey[k], `key %d`, k)
	}
}

func TestJoin_OrderWithinKey(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	right := dataset.FromPairs(`right`, 3,
		dataset.PairOf(1, `c`),
		dataset.PairOf(2, `x`),
		dataset.PairOf(1, `a`),
		dataset.PairOf(1, `b`),
		dataset.PairOf(1, `a`),
	)
	left := dataset.FromPairs(`left`, 2,
		dataset.PairOf(1, `first`),
		dataset.PairOf(3, `unmatched`),
		dataset.PairOf(1, `second`),
	)

	j, err := Join(cluster, left, right, noopLogger())
	require.NoError(t, err)

	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Equal(t, []row{
		joined(1, `first`, `c`), joined(1, `first`, `a`), joined(1, `first`, `b`), joined(1, `first`, `a`),
		joined(1, `second`, `c`), joined(1, `second`, `a`), joined(1, `second`, `b`), joined(1, `second`, `a`),
	}, rows)
}

func TestJoin_UnsupportedEnvironment(t *testing.T) {
	left, right := counting(customers()), counting(orders())

	_, err := Join[int, string, string](env.NewLocal(log.NewNoopLogger()), left, right, noopLogger())
	require.True(t, mjErrors.IsKind(err, mjErrors.UnsupportedExecutionEnvironment))
	require.Contains(t, err.Error(), op)
	require.Contains(t, err.Error(), env.Broadcast.String())

	_, err = Join[int, string, string](nil, left, right, noopLogger())
	require.True(t, mjErrors.IsKind(err, mjErrors.UnsupportedExecutionEnvironment))

	require.Zero(t, atomic.LoadInt32(&left.reads))
	require.Zero(t, atomic.LoadInt32(&right.reads))
}

func TestJoin_MemoryBudget(t *testing.T) {
	cluster, registry := newTestCluster(t, 2, 0)
	right := counting(orders())

	j, err := Join[int, string, string](cluster, customers(), right, noopLogger(), WithMemoryBudget(32))
	require.NoError(t, err)

	_, err = env.Collect(context.Background(), cluster, j)
	require.True(t, mjErrors.IsKind(err, mjErrors.ResourceExhausted))

	var kindErr *mjErrors.Error
	require.ErrorAs(t, err, &kindErr)
	require.False(t, kindErr.Retryable())

	// the failure is kept, the right side is not read again
	reads := atomic.LoadInt32(&right.reads)
	_, err = j.Read(context.Background(), 0)
	require.True(t, mjErrors.IsKind(err, mjErrors.ResourceExhausted))
	require.Equal(t, reads, atomic.LoadInt32(&right.reads))
	require.Zero(t, atomic.LoadInt32(&registry.registered))
}

func TestJoin_EnvironmentMemoryBudget(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 32)

	j, err := Join(cluster, customers(), orders(), noopLogger())
	require.NoError(t, err)

	_, err = env.Collect(context.Background(), cluster, j)
	require.True(t, mjErrors.IsKind(err, mjErrors.ResourceExhausted))

	j, err = Join(cluster, customers(), orders(), noopLogger(), WithMemoryBudget(1<<20))
	require.NoError(t, err)

	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

type failingDataset struct {
	dataset.Dataset[int, string]
	openErr error
	readErr error
}

func (f *failingDataset) Read(ctx context.Context, partition int) (dataset.Iterator[int, string], error) {
	if f.openErr != nil {
		return nil, f.openErr
	}

	it, err := f.Dataset.Read(ctx, partition)
	if err != nil {
		return nil, err
	}

	return dataset.FuncIterator(func() (dataset.Pair[int, string], bool, error) {
		if it.Next() {
			return it.Pair(), true, nil
		}
		return dataset.Pair[int, string]{}, false, f.readErr
	}, it.Close), nil
}

func TestJoin_UpstreamReadFailure(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)
	broken := fmt.Errorf(`corrupted record`)

	for name, left := range map[string]*failingDataset{
		`open`: {Dataset: customers(), openErr: broken},
		`read`: {Dataset: customers(), readErr: broken},
	} {
		j, err := Join[int, string, string](cluster, left, orders(), noopLogger())
		require.NoError(t, err)

		_, err = env.Collect(context.Background(), cluster, j)
		require.True(t, mjErrors.IsKind(err, mjErrors.UpstreamReadFailure), name)
		require.ErrorIs(t, err, broken, name)
	}
}

func TestJoin_BroadcastOncePerJoinIndexOncePerWorker(t *testing.T) {
	const workers = 3
	cluster, registry := newTestCluster(t, workers, 0)
	right := counting(orders())

	var left []dataset.Pair[int, string]
	for i := 0; i < 60; i++ {
		left = append(left, dataset.PairOf(111+111*(i%3), fmt.Sprint(`c`, i)))
	}

	j, err := Join[int, string, string](cluster, dataset.FromPairs(`customers`, 12, left...), right, noopLogger())
	require.NoError(t, err)

	for run := 0; run < 2; run++ {
		rows, err := env.Collect(context.Background(), cluster, j)
		require.NoError(t, err)
		require.Len(t, rows, 80)
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&registry.registered))
	require.Equal(t, int32(orders().Partitions()), atomic.LoadInt32(&right.reads))
	require.LessOrEqual(t, atomic.LoadInt32(&registry.fetched), int32(workers))
	require.GreaterOrEqual(t, atomic.LoadInt32(&registry.fetched), int32(1))
}

func TestJoin_ReadOutsideEnvironment(t *testing.T) {
	cluster, registry := newTestCluster(t, 2, 0)

	j, err := Join(cluster, customers(), orders(), noopLogger())
	require.NoError(t, err)

	wg := new(sync.WaitGroup)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dataset.ReadAll[int, dataset.Joined[string, string]](context.Background(), j)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&registry.fetched))
}

func TestJoin_Close(t *testing.T) {
	cluster, registry := newTestCluster(t, 2, 0)

	j, err := Join(cluster, customers(), orders(), noopLogger())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Join(cluster, customers(), orders(), noopLogger())
	require.NoError(t, err)
	_, err = env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Len(t, registry.Handles(), 1)

	require.NoError(t, j.Close())
	require.Empty(t, registry.Handles())
	require.NoError(t, j.Close())

	_, err = j.Read(context.Background(), 0)
	require.Error(t, err)
}

func TestJoin_Codecs(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	_, err := Join(cluster, customers(), orders(), noopLogger(), WithKeyCodec(encoding.Json[string]()))
	require.Error(t, err)

	j, err := Join(cluster, customers(), orders(), noopLogger(),
		WithKeyCodec(encoding.Typed[int](encoding.IntEncoder{})),
		WithValueCodec(encoding.Typed[string](encoding.StringEncoder{})),
	)
	require.NoError(t, err)

	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestJoin_Info(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	j, err := Join(cluster, customers(), orders(), noopLogger(), WithName(`customer_orders`), WithMemoryBudget(1024))
	require.NoError(t, err)

	info := j.Info()
	require.Contains(t, info, `customer_orders`)
	require.Contains(t, info, `1024 bytes`)
	require.Contains(t, info, `not registered`)

	_, err = env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.False(t, strings.Contains(j.Info(), `not registered`))
	require.Contains(t, graph.Plan(j), `customer_orders`)
}

func TestJoin_KeyCodecRoundTrip(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	left := dataset.FromPairs(`left`, 1, dataset.PairOf("\xff", `L`))
	right := dataset.FromPairs(`right`, 1, dataset.PairOf("\xff", `A`), dataset.PairOf("\xfe", `B`))

	// json replaces invalid utf-8 with U+FFFD
	j, err := Join(cluster, left, right, noopLogger())
	require.NoError(t, err)
	_, err = env.Collect(context.Background(), cluster, j)
	require.Error(t, err)
	require.Contains(t, err.Error(), `WithKeyCodec`)

	j, err = Join(cluster, left, right, noopLogger(), WithKeyCodec(encoding.Typed[string](encoding.StringEncoder{})))
	require.NoError(t, err)
	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Equal(t, []dataset.Pair[string, dataset.Joined[string, string]]{
		dataset.PairOf("\xff", dataset.Joined[string, string]{Left: `L`, Right: `A`}),
	}, rows)
}

func TestJoin_InterfaceKeys(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	left := dataset.FromPairs[any, string](`left`, 1, dataset.PairOf[any](111, `John Doe`))
	right := dataset.FromPairs[any, string](`right`, 1, dataset.PairOf[any](111, `Corn flakes`))

	// json decodes numbers held by interfaces as float64
	j, err := Join(cluster, left, right, noopLogger())
	require.NoError(t, err)
	_, err = env.Collect(context.Background(), cluster, j)
	require.Error(t, err)
	require.Contains(t, err.Error(), `WithKeyCodec`)

	j, err = Join(cluster, left, right, noopLogger(), WithKeyCodec(encoding.Typed[any](encoding.IntEncoder{})))
	require.NoError(t, err)
	rows, err := env.Collect(context.Background(), cluster, j)
	require.NoError(t, err)
	require.Equal(t, []dataset.Pair[any, dataset.Joined[string, string]]{
		dataset.PairOf[any](111, dataset.Joined[string, string]{Left: `John Doe`, Right: `Corn flakes`}),
	}, rows)
}

type accountKey struct {
	Region string
	id     int
}

type regionKey struct {
	Region string
	ID     int
}

func TestJoin_StructKeys(t *testing.T) {
	cluster, _ := newTestCluster(t, 2, 0)

	hidden := accountKey{Region: `LK`, id: 7}
	j, err := Join(cluster,
		dataset.FromPairs(`accounts`, 1, dataset.PairOf(hidden, `John Doe`)),
		dataset.FromPairs(`balances`, 1, dataset.PairOf(hidden, `100`)),
		noopLogger())
	require.NoError(t, err)
	_, err = env.Collect(context.Background(), cluster, j)
	require.Error(t, err)
	require.Contains(t, err.Error(), `WithKeyCodec`)

	exported := regionKey{Region: `LK`, ID: 7}
	k, err := Join(cluster,
		dataset.FromPairs(`accounts`, 1, dataset.PairOf(exported, `John Doe`)),
		dataset.FromPairs(`balances`, 1, dataset.PairOf(exported, `100`), dataset.PairOf(regionKey{Region: `IN`, ID: 7}, `5`)),
		noopLogger())
	require.NoError(t, err)
	rows, err := env.Collect(context.Background(), cluster, k)
	require.NoError(t, err)
	require.Equal(t, []dataset.Pair[regionKey, dataset.Joined[string, string]]{
		dataset.PairOf(exported, dataset.Joined[string, string]{Left: `John Doe`, Right: `100`}),
	}, rows)
}
