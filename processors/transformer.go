package processors

import (
	"context"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/dataset"
)

type TransFunc[K comparable, V any, K2 comparable, V2 any] func(ctx context.Context, key K, value V) (K2, V2, error)

// Transform maps every pair of ds one to one, e.g. to rekey a dataset before a join.
func Transform[K comparable, V any, K2 comparable, V2 any](ds dataset.Dataset[K, V], fn TransFunc[K, V, K2, V2]) dataset.Dataset[K2, V2] {
	return &transformer[K, V, K2, V2]{upstream: ds, transFunc: fn}
}

type transformer[K comparable, V any, K2 comparable, V2 any] struct {
	upstream  dataset.Dataset[K, V]
	transFunc TransFunc[K, V, K2, V2]
}

func (t *transformer[K, V, K2, V2]) Name() string {
	return t.upstream.Name() + `.transform`
}

func (t *transformer[K, V, K2, V2]) Upstream() dataset.Stage {
	return t.upstream
}

func (t *transformer[K, V, K2, V2]) Partitions() int {
	return t.upstream.Partitions()
}

func (t *transformer[K, V, K2, V2]) Read(ctx context.Context, partition int) (dataset.Iterator[K2, V2], error) {
	it, err := t.upstream.Read(ctx, partition)
	if err != nil {
		return nil, err
	}

	return dataset.FuncIterator(func() (dataset.Pair[K2, V2], bool, error) {
		if !it.Next() {
			return dataset.Pair[K2, V2]{}, false, it.Err()
		}

		p := it.Pair()
		k, v, err := t.transFunc(ctx, p.Key, p.Value)
		if err != nil {
			return dataset.Pair[K2, V2]{}, false, errors.WithPrevious(err, `transformer error`)
		}

		return dataset.PairOf(k, v), true, nil
	}, it.Close), nil
}
