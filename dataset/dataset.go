// Package dataset is the keyed dataset abstraction consumed by the join.
//
// A Dataset is a finite, partitioned sequence of key value pairs. Reading partitions
// 0..Partitions()-1 in order yields the dataset's canonical order. Iterators are lazy
// and every partition can be read any number of times.
package dataset

import (
	"context"
	"fmt"
)

type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

func PairOf[K comparable, V any](key K, value V) Pair[K, V] {
	return Pair[K, V]{Key: key, Value: value}
}

func (p Pair[K, V]) String() string {
	return fmt.Sprintf(`(%v, %v)`, p.Key, p.Value)
}

// Joined is the value of a joined row: the streamed value and the broadcast value.
type Joined[V1, V2 any] struct {
	Left  V1
	Right V2
}

func (j Joined[V1, V2]) String() string {
	return fmt.Sprintf(`(%v, %v)`, j.Left, j.Right)
}

type Iterator[K comparable, V any] interface {
	// Next advances to the next pair and reports whether there is one.
	Next() bool
	Pair() Pair[K, V]
	// Err returns the error that stopped iteration, if any.
	Err() error
	Close() error
}

type Dataset[K comparable, V any] interface {
	Name() string
	Partitions() int
	Read(ctx context.Context, partition int) (Iterator[K, V], error)
}

// Stage is the untyped view of a dataset used to describe plans.
type Stage interface {
	Name() string
	Partitions() int
}

// Derived is implemented by datasets computed from another dataset.
type Derived interface {
	Upstream() Stage
}

// Sink receives pairs from concurrently running tasks. Implementations must be safe
// for concurrent use.
type Sink[K comparable, V any] interface {
	Write(ctx context.Context, pair Pair[K, V]) error
	Close() error
}

// ReadAll drains every partition in order into a slice.
func ReadAll[K comparable, V any](ctx context.Context, ds Dataset[K, V]) ([]Pair[K, V], error) {
	var out []Pair[K, V]
	for p := 0; p < ds.Partitions(); p++ {
		pairs, err := ReadPartition(ctx, ds, p)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}

	return out, nil
}

// ReadPartition drains a single partition.
func ReadPartition[K comparable, V any](ctx context.Context, ds Dataset[K, V], partition int) ([]Pair[K, V], error) {
	it, err := ds.Read(ctx, partition)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Pair[K, V]
	err = ForEach(ctx, it, func(p Pair[K, V]) error {
		out = append(out, p)
		return nil
	})

	return out, err
}

// ForEach calls fn for every remaining pair of it, stopping at the first error or
// when ctx is done.
func ForEach[K comparable, V any](ctx context.Context, it Iterator[K, V], fn func(Pair[K, V]) error) error {
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(it.Pair()); err != nil {
			return err
		}
	}

	return it.Err()
}
