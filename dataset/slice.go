package dataset

import (
	"context"
	"fmt"
)

type slice[K comparable, V any] struct {
	name       string
	partitions [][]Pair[K, V]
}

// FromPairs builds an in memory dataset. Pairs are split into contiguous chunks so
// reading the partitions in order reproduces the input order.
func FromPairs[K comparable, V any](name string, partitions int, pairs ...Pair[K, V]) Dataset[K, V] {
	if partitions < 1 {
		partitions = 1
	}

	s := &slice[K, V]{name: name, partitions: make([][]Pair[K, V], partitions)}
	size := (len(pairs) + partitions - 1) / partitions
	for i := 0; i < partitions; i++ {
		from, to := i*size, (i+1)*size
		if from > len(pairs) {
			from = len(pairs)
		}
		if to > len(pairs) {
			to = len(pairs)
		}
		s.partitions[i] = pairs[from:to]
	}

	return s
}

func (s *slice[K, V]) Name() string {
	return s.name
}

func (s *slice[K, V]) Partitions() int {
	return len(s.partitions)
}

func (s *slice[K, V]) Read(_ context.Context, partition int) (Iterator[K, V], error) {
	if partition < 0 || partition >= len(s.partitions) {
		return nil, fmt.Errorf(`dataset [%s] has no partition %d`, s.name, partition)
	}

	return &sliceIterator[K, V]{pairs: s.partitions[partition], cur: -1}, nil
}

type sliceIterator[K comparable, V any] struct {
	pairs []Pair[K, V]
	cur   int
}

func (i *sliceIterator[K, V]) Next() bool {
	if i.cur+1 >= len(i.pairs) {
		i.cur = len(i.pairs)
		return false
	}
	i.cur++
	return true
}

func (i *sliceIterator[K, V]) Pair() Pair[K, V] {
	return i.pairs[i.cur]
}

func (i *sliceIterator[K, V]) Err() error {
	return nil
}

func (i *sliceIterator[K, V]) Close() error {
	return nil
}

// FuncIterator adapts a pull function to an Iterator. next returns ok=false when the
// sequence is exhausted; a non nil error ends iteration and is reported by Err.
func FuncIterator[K comparable, V any](next func() (Pair[K, V], bool, error), closeFn func() error) Iterator[K, V] {
	return &funcIterator[K, V]{next: next, close: closeFn}
}

type funcIterator[K comparable, V any] struct {
	next  func() (Pair[K, V], bool, error)
	close func() error
	cur   Pair[K, V]
	err   error
	done  bool
}

func (i *funcIterator[K, V]) Next() bool {
	if i.done {
		return false
	}

	p, ok, err := i.next()
	if err != nil {
		i.err = err
		i.done = true
		return false
	}
	if !ok {
		i.done = true
		return false
	}

	i.cur = p
	return true
}

func (i *funcIterator[K, V]) Pair() Pair[K, V] {
	return i.cur
}

func (i *funcIterator[K, V]) Err() error {
	return i.err
}

func (i *funcIterator[K, V]) Close() error {
	i.done = true
	if i.close == nil {
		return nil
	}

	c := i.close
	i.close = nil
	return c()
}
