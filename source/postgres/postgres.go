// Package postgres reads the result of a query as a keyed dataset.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/dataset"
	mjErrors "github.com/pickme-go/mapjoin/errors"
)

// Querier is satisfied by *pgx.Conn and by connection pools.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ScanFunc turns the current row into a pair.
type ScanFunc[K comparable, V any] func(rows pgx.Rows) (K, V, error)

// KeyValue scans a row of exactly two columns, key first.
func KeyValue[K comparable, V any](rows pgx.Rows) (K, V, error) {
	var k K
	var v V
	err := rows.Scan(&k, &v)
	return k, v, err
}

// Connect opens a connection with the simple protocol, so the dataset also runs
// against servers and poolers without prepared statement support.
func Connect(ctx context.Context, connString string) (*pgx.Conn, error) {
	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, errors.WithPrevious(err, `invalid connection string`)
	}
	config.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot connect to [%s:%d]`, config.Host, config.Port))
	}

	return conn, nil
}

type Dataset[K comparable, V any] struct {
	name        string
	db          Querier
	query       string
	args        []any
	partitions  int
	partitioned bool
	scan        ScanFunc[K, V]
}

// NewDataset runs query once as a single partition.
func NewDataset[K comparable, V any](name string, db Querier, scan ScanFunc[K, V], query string, args ...any) *Dataset[K, V] {
	return &Dataset[K, V]{name: name, db: db, query: query, args: args, partitions: 1, scan: scan}
}

// NewPartitioned runs query once per partition. The partition number is passed as
// the first argument, e.g. `SELECT id, name FROM customers WHERE id % 4 = $1`.
func NewPartitioned[K comparable, V any](name string, db Querier, partitions int, scan ScanFunc[K, V], query string, args ...any) *Dataset[K, V] {
	return &Dataset[K, V]{name: name, db: db, query: query, args: args, partitions: partitions, partitioned: true, scan: scan}
}

func (d *Dataset[K, V]) Name() string {
	return d.name
}

func (d *Dataset[K, V]) Partitions() int {
	return d.partitions
}

func readFailure(err error) error {
	return mjErrors.New(mjErrors.UpstreamReadFailure, `postgres.Read`, err)
}

func (d *Dataset[K, V]) Read(ctx context.Context, partition int) (dataset.Iterator[K, V], error) {
	if partition < 0 || partition >= d.partitions {
		return nil, errors.New(fmt.Sprintf(`partition %d out of range [0, %d)`, partition, d.partitions))
	}

	args := d.args
	if d.partitioned {
		args = append([]any{partition}, d.args...)
	}

	rows, err := d.db.Query(ctx, d.query, args...)
	if err != nil {
		return nil, readFailure(errors.WithPrevious(err, fmt.Sprintf(`query of [%s] failed`, d.name)))
	}

	n := 0
	return dataset.FuncIterator(func() (dataset.Pair[K, V], bool, error) {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return dataset.Pair[K, V]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`cannot read [%s]`, d.name)))
			}
			return dataset.Pair[K, V]{}, false, nil
		}

		k, v, err := d.scan(rows)
		if err != nil {
			return dataset.Pair[K, V]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`cannot scan row %d of [%s]`, n, d.name)))
		}
		n++

		return dataset.PairOf(k, v), true, nil
	}, func() error {
		rows.Close()
		return nil
	}), nil
}
