package processors

import (
	"context"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/dataset"
)

type FilterFunc[K comparable, V any] func(ctx context.Context, key K, value V) (bool, error)

// Filter keeps the pairs of ds accepted by fn. Partitioning is unchanged.
func Filter[K comparable, V any](ds dataset.Dataset[K, V], fn FilterFunc[K, V]) dataset.Dataset[K, V] {
	return &filter[K, V]{upstream: ds, filterFunc: fn}
}

type filter[K comparable, V any] struct {
	upstream   dataset.Dataset[K, V]
	filterFunc FilterFunc[K, V]
}

func (f *filter[K, V]) Name() string {
	return f.upstream.Name() + `.filter`
}

func (f *filter[K, V]) Upstream() dataset.Stage {
	return f.upstream
}

func (f *filter[K, V]) Partitions() int {
	return f.upstream.Partitions()
}

func (f *filter[K, V]) Read(ctx context.Context, partition int) (dataset.Iterator[K, V], error) {
	it, err := f.upstream.Read(ctx, partition)
	if err != nil {
		return nil, err
	}

	return dataset.FuncIterator(func() (dataset.Pair[K, V], bool, error) {
		for it.Next() {
			p := it.Pair()
			ok, err := f.filterFunc(ctx, p.Key, p.Value)
			if err != nil {
				return p, false, errors.WithPrevious(err, `process error`)
			}
			if ok {
				return p, true, nil
			}
		}

		return dataset.Pair[K, V]{}, false, it.Err()
	}, it.Close), nil
}
