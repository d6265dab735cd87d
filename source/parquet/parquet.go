// Package parquet reads keyed datasets from parquet files, one partition per file.
// Files are local paths or http(s) URLs read with range requests.
//
// Typed maps rows onto a struct through its parquet tags. Generic reads rows as
// column name to value maps following the file schema, for files whose layout is
// only known at run time.
package parquet

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/dataset"
	mjErrors "github.com/pickme-go/mapjoin/errors"
	"howett.net/ranger"
)

const batchSize = 128

// Record is a row of a Generic dataset.
type Record = map[string]interface{}

func isHTTP(path string) bool {
	return strings.HasPrefix(path, `http://`) || strings.HasPrefix(path, `https://`)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// open returns the parquet file at path and what has to be closed once it is read.
func open(path string) (*parquet.File, io.Closer, error) {
	if isHTTP(path) {
		u, err := url.Parse(path)
		if err != nil {
			return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`invalid url [%s]`, path))
		}

		reader, err := ranger.NewReader(&ranger.HTTPRanger{URL: u})
		if err != nil {
			return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`cannot reach [%s]`, path))
		}

		length, err := reader.Length()
		if err != nil {
			return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`cannot get content length of [%s]`, path))
		}

		f, err := parquet.OpenFile(reader, length)
		if err != nil {
			return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`cannot open remote parquet file [%s]`, path))
		}

		return f, nopCloser{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`cannot open [%s]`, path))
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`cannot stat [%s]`, path))
	}

	f, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		file.Close()
		return nil, nil, errors.WithPrevious(err, fmt.Sprintf(`cannot open parquet file [%s]`, path))
	}

	return f, file, nil
}

func readFailure(err error) error {
	return mjErrors.New(mjErrors.UpstreamReadFailure, `parquet.Read`, err)
}

type rowReader[R any] interface {
	next() (R, bool, error)
	close() error
}

// Dataset is a parquet backed dataset of rows R keyed by K.
type Dataset[K comparable, R any] struct {
	name   string
	paths  []string
	key    func(R) (K, error)
	reader func(f *parquet.File) rowReader[R]
}

func (d *Dataset[K, R]) Name() string {
	return d.name
}

func (d *Dataset[K, R]) Partitions() int {
	return len(d.paths)
}

func (d *Dataset[K, R]) Read(ctx context.Context, partition int) (dataset.Iterator[K, R], error) {
	if partition < 0 || partition >= len(d.paths) {
		return nil, errors.New(fmt.Sprintf(`partition %d out of range [0, %d)`, partition, len(d.paths)))
	}

	path := d.paths[partition]
	f, closer, err := open(path)
	if err != nil {
		return nil, readFailure(err)
	}

	rows := d.reader(f)
	n := 0

	return dataset.FuncIterator(func() (dataset.Pair[K, R], bool, error) {
		if err := ctx.Err(); err != nil {
			return dataset.Pair[K, R]{}, false, err
		}

		row, ok, err := rows.next()
		if err != nil {
			return dataset.Pair[K, R]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`cannot read row %d of [%s]`, n, path)))
		}
		if !ok {
			return dataset.Pair[K, R]{}, false, nil
		}

		k, err := d.key(row)
		if err != nil {
			return dataset.Pair[K, R]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`invalid key at row %d of [%s]`, n, path)))
		}
		n++

		return dataset.PairOf(k, row), true, nil
	}, func() error {
		rErr := rows.close()
		if err := closer.Close(); err != nil {
			return err
		}
		return rErr
	}), nil
}

// Typed reads rows into T using its parquet struct tags.
func Typed[K comparable, T any](name string, key func(T) (K, error), paths ...string) *Dataset[K, T] {
	return &Dataset[K, T]{
		name:  name,
		paths: paths,
		key:   key,
		reader: func(f *parquet.File) rowReader[T] {
			return &typedReader[T]{reader: parquet.NewGenericReader[T](f), buf: make([]T, batchSize)}
		},
	}
}

type typedReader[T any] struct {
	reader *parquet.GenericReader[T]
	buf    []T
	n      int
	pos    int
	eof    bool
}

func (r *typedReader[T]) next() (T, bool, error) {
	var zero T
	for r.pos >= r.n {
		if r.eof {
			return zero, false, nil
		}

		n, err := r.reader.Read(r.buf)
		if err != nil && err != io.EOF {
			return zero, false, err
		}
		r.eof = err == io.EOF || n == 0
		r.n, r.pos = n, 0
	}

	row := r.buf[r.pos]
	r.pos++

	return row, true, nil
}

func (r *typedReader[T]) close() error {
	return r.reader.Close()
}

// Generic reads rows as Records shaped by the schema of each file.
func Generic[K comparable](name string, key func(Record) (K, error), paths ...string) *Dataset[K, Record] {
	return &Dataset[K, Record]{
		name:  name,
		paths: paths,
		key:   key,
		reader: func(f *parquet.File) rowReader[Record] {
			return &genericReader{reader: parquet.NewReader(f)}
		},
	}
}

type genericReader struct {
	reader *parquet.Reader
}

func (r *genericReader) next() (Record, bool, error) {
	row := make(Record)
	if err := r.reader.Read(&row); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, err
	}

	return row, true, nil
}

func (r *genericReader) close() error {
	return r.reader.Close()
}

// Column keys Generic records by the value of column, which must hold a K.
func Column[K comparable](column string) func(Record) (K, error) {
	return func(r Record) (K, error) {
		var zero K
		v, ok := r[column]
		if !ok {
			return zero, errors.New(fmt.Sprintf(`column [%s] not found`, column))
		}

		k, ok := v.(K)
		if !ok {
			return zero, errors.New(fmt.Sprintf(`column [%s] holds %T, expected %T`, column, v, zero))
		}

		return k, nil
	}
}
