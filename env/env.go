// Package env provides the execution environments a join runs on.
package env

import (
	"context"

	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/dataset"
)

type Capability int

const (
	// Broadcast is the ability to push a materialized dataset to every worker as a
	// read only side input.
	Broadcast Capability = iota
	// Parallel means partitions run concurrently on more than one worker.
	Parallel
)

func (c Capability) String() string {
	switch c {
	case Broadcast:
		return `broadcast side inputs`
	case Parallel:
		return `parallel execution`
	}

	return `unknown capability`
}

// TaskFunc processes one partition of a stage.
type TaskFunc func(ctx context.Context, partition int) error

type Environment interface {
	Name() string
	Supports(c Capability) bool
	// Broadcasts returns the side input registry, nil when Broadcast is not supported.
	Broadcasts() broadcast.Registry
	// Execute runs fn once for every partition and returns the first failure.
	Execute(ctx context.Context, stage string, partitions int, fn TaskFunc) error
}

// MemoryBudgeter is implemented by environments that know how much memory a
// worker may spend on side inputs.
type MemoryBudgeter interface {
	MemoryBudget() int64
}

// Evicter is implemented by environments whose workers keep side inputs beyond a
// single job.
type Evicter interface {
	EvictSideInput(key string)
}

type sideInputsKey struct{}

// WithSideInputs binds the side input cache of the worker running a task.
func WithSideInputs(ctx context.Context, cache *broadcast.Cache) context.Context {
	return context.WithValue(ctx, sideInputsKey{}, cache)
}

// SideInputs returns the cache of the worker running ctx, or nil outside a task.
func SideInputs(ctx context.Context) *broadcast.Cache {
	c, _ := ctx.Value(sideInputsKey{}).(*broadcast.Cache)
	return c
}

// Collect executes every partition of ds on e and returns the pairs in partition order.
func Collect[K comparable, V any](ctx context.Context, e Environment, ds dataset.Dataset[K, V]) ([]dataset.Pair[K, V], error) {
	results := make([][]dataset.Pair[K, V], ds.Partitions())
	err := e.Execute(ctx, ds.Name(), ds.Partitions(), func(ctx context.Context, partition int) error {
		pairs, err := dataset.ReadPartition(ctx, ds, partition)
		if err != nil {
			return err
		}
		results[partition] = pairs
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []dataset.Pair[K, V]
	for _, r := range results {
		out = append(out, r...)
	}

	return out, nil
}

// Run executes every partition of ds on e writing all pairs to sink. The sink is not closed.
func Run[K comparable, V any](ctx context.Context, e Environment, ds dataset.Dataset[K, V], sink dataset.Sink[K, V]) error {
	return e.Execute(ctx, ds.Name(), ds.Partitions(), func(ctx context.Context, partition int) error {
		it, err := ds.Read(ctx, partition)
		if err != nil {
			return err
		}
		defer it.Close()

		return dataset.ForEach(ctx, it, func(p dataset.Pair[K, V]) error {
			return sink.Write(ctx, p)
		})
	})
}
