// Package text reads keyed datasets from line oriented text files, one partition
// per file.
package text

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/dataset"
	mjErrors "github.com/pickme-go/mapjoin/errors"
)

// ParseFunc turns one line into a pair.
type ParseFunc[K comparable, V any] func(line string) (K, V, error)

// Separated splits lines on the first sep and decodes both halves.
func Separated[K comparable, V any](sep string, key func(string) (K, error), value func(string) (V, error)) ParseFunc[K, V] {
	return func(line string) (K, V, error) {
		var k K
		var v V

		i := strings.Index(line, sep)
		if i < 0 {
			return k, v, errors.New(fmt.Sprintf(`separator [%s] not found`, sep))
		}

		k, err := key(line[:i])
		if err != nil {
			return k, v, errors.WithPrevious(err, `invalid key`)
		}

		v, err = value(line[i+len(sep):])
		if err != nil {
			return k, v, errors.WithPrevious(err, `invalid value`)
		}

		return k, v, nil
	}
}

// String is the identity decoder for Separated.
func String(s string) (string, error) {
	return s, nil
}

type Dataset[K comparable, V any] struct {
	name  string
	paths []string
	parse ParseFunc[K, V]
}

// NewDataset reads every path as one partition. Empty lines are skipped.
func NewDataset[K comparable, V any](name string, parse ParseFunc[K, V], paths ...string) *Dataset[K, V] {
	return &Dataset[K, V]{name: name, paths: paths, parse: parse}
}

func (d *Dataset[K, V]) Name() string {
	return d.name
}

func (d *Dataset[K, V]) Partitions() int {
	return len(d.paths)
}

func (d *Dataset[K, V]) Read(ctx context.Context, partition int) (dataset.Iterator[K, V], error) {
	if partition < 0 || partition >= len(d.paths) {
		return nil, errors.New(fmt.Sprintf(`partition %d out of range [0, %d)`, partition, len(d.paths)))
	}

	path := d.paths[partition]
	f, err := os.Open(path)
	if err != nil {
		return nil, mjErrors.New(mjErrors.UpstreamReadFailure, `text.Read`,
			errors.WithPrevious(err, fmt.Sprintf(`cannot open [%s]`, path)))
	}

	scanner := bufio.NewScanner(f)
	line := 0

	return dataset.FuncIterator(func() (dataset.Pair[K, V], bool, error) {
		for scanner.Scan() {
			line++
			text := strings.TrimRight(scanner.Text(), "\r")
			if text == `` {
				continue
			}

			k, v, err := d.parse(text)
			if err != nil {
				return dataset.Pair[K, V]{}, false, mjErrors.New(mjErrors.UpstreamReadFailure, `text.Read`,
					errors.WithPrevious(err, fmt.Sprintf(`%s:%d`, path, line)))
			}

			return dataset.PairOf(k, v), true, nil
		}

		if err := scanner.Err(); err != nil {
			return dataset.Pair[K, V]{}, false, mjErrors.New(mjErrors.UpstreamReadFailure, `text.Read`,
				errors.WithPrevious(err, fmt.Sprintf(`cannot read [%s]`, path)))
		}

		return dataset.Pair[K, V]{}, false, nil
	}, f.Close), nil
}
