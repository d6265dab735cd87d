package task_pool

import (
	"context"
	"sync"
	"testing"

	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
	"github.com/stretchr/testify/require"
)

func newPool(order ExecutionOrder) *Pool {
	return NewPool(`test`, metrics.NoopReporter(), &PoolConfig{
		NumOfWorkers:     4,
		WorkerBufferSize: 2,
		Logger:           log.NewNoopLogger(),
		Order:            order,
	})
}

func TestPool_RunsEveryTask(t *testing.T) {
	for _, order := range []ExecutionOrder{OrderRandom, OrderByKey, OrderRoundRobin} {
		p := newPool(order)

		mu := new(sync.Mutex)
		done := make(map[int]bool)
		wg := new(sync.WaitGroup)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			require.NoError(t, p.Run(context.Background(), Task{Partition: i, Run: func(w *Worker) {
				defer wg.Done()
				mu.Lock()
				done[i] = true
				mu.Unlock()
			}}))
		}

		wg.Wait()
		require.Len(t, done, 20, order.String())
		p.Stop()
	}
}

func TestPool_OrderByKeyPinsPartitions(t *testing.T) {
	p := newPool(OrderByKey)
	defer p.Stop()

	for partition := 0; partition < 10; partition++ {
		first := make(chan int, 1)
		second := make(chan int, 1)
		require.NoError(t, p.Run(context.Background(), Task{Partition: partition, Run: func(w *Worker) { first <- w.ID() }}))
		require.NoError(t, p.Run(context.Background(), Task{Partition: partition, Run: func(w *Worker) { second <- w.ID() }}))
		require.Equal(t, <-first, <-second)
	}
}

func TestPool_RunAfterStop(t *testing.T) {
	p := newPool(OrderByKey)
	p.Stop()
	p.Stop()

	require.Error(t, p.Run(context.Background(), Task{Partition: 1, Run: func(*Worker) {}}))
}

func TestPool_WorkersOwnSideInputs(t *testing.T) {
	p := newPool(OrderByKey)
	defer p.Stop()

	require.Len(t, p.Workers(), 4)
	require.NotSame(t, p.Workers()[0].SideInputs(), p.Workers()[1].SideInputs())
}
