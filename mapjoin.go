// Package mapjoin is a broadcast (map side) inner equi join for partitioned keyed
// datasets.
//
// The right side, the second argument of Join, is the broadcast side. It is read
// completely, registered once with the broadcast registry of the execution
// environment and indexed in memory once per worker. The left side is streamed past
// that index partition by partition and is never materialized.
//
//	j, err := mapjoin.Join(cluster, orders, customers)
//	if err != nil {
//		// UnsupportedExecutionEnvironment
//	}
//	defer j.Close()
//	rows, err := env.Collect(ctx, cluster, j)
package mapjoin

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/dataset"
	"github.com/pickme-go/mapjoin/encoding"
	"github.com/pickme-go/mapjoin/env"
	mjErrors "github.com/pickme-go/mapjoin/errors"
	"github.com/pickme-go/mapjoin/internal/join"
)

const op = `mapjoin.Join`

// MapsideJoin is the joined dataset. It has the partitioning of the left side and
// yields one row for every left pair and every right value under the same key.
type MapsideJoin[K comparable, V1, V2 any] struct {
	env    env.Environment
	left   dataset.Dataset[K, V1]
	right  dataset.Dataset[K, V2]
	config *Config
	keys   encoding.Codec[K]
	values encoding.Codec[V2]
	budget int64
	logger log.Logger

	metrics *join.Metrics
	// used when a partition is read outside of an environment task
	sideInputs *broadcast.Cache

	mu     *sync.Mutex
	handle *broadcast.Handle
	err    error
	closed bool
}

// Join checks that e can broadcast side inputs and returns the lazily evaluated
// inner join of left and right. Neither side is read before the first partition of
// the result is.
//
// Keys and right values are JSON encoded unless WithKeyCodec and WithValueCodec say
// otherwise. Every key must decode back to itself, a key that does not fails the
// broadcast. Values are not checked, so a right value type JSON cannot restore (a
// struct with unexported fields) needs WithValueCodec.
func Join[K comparable, V1, V2 any](e env.Environment, left dataset.Dataset[K, V1], right dataset.Dataset[K, V2], opts ...Option) (*MapsideJoin[K, V1, V2], error) {
	if err := CheckEnvironment(e, op); err != nil {
		return nil, err
	}

	config := newConfig(opts...)
	if config.Name == `` {
		config.Name = fmt.Sprintf(`%s_join_%s`, left.Name(), right.Name())
	}

	if config.MemoryBudget < 0 {
		return nil, errors.New(`[MemoryBudget] cannot be negative`)
	}

	if config.Logger == nil {
		return nil, errors.New(`[Logger] cannot be empty`)
	}

	if config.MetricsReporter == nil {
		return nil, errors.New(`[MetricsReporter] cannot be empty`)
	}

	j := &MapsideJoin[K, V1, V2]{
		env:        e,
		left:       left,
		right:      right,
		config:     config,
		keys:       encoding.Json[K](),
		values:     encoding.Json[V2](),
		budget:     config.MemoryBudget,
		logger:     config.Logger.NewLog(log.Prefixed(config.Name)),
		metrics:    join.NewMetrics(config.Name, config.MetricsReporter),
		sideInputs: broadcast.NewCache(),
		mu:         new(sync.Mutex),
	}

	if config.keyCodec != nil {
		keys, ok := config.keyCodec.(encoding.Codec[K])
		if !ok {
			return nil, errors.New(fmt.Sprintf(`key codec %T cannot encode keys of type %T`, config.keyCodec, *new(K)))
		}
		j.keys = keys
	}

	if config.valueCodec != nil {
		values, ok := config.valueCodec.(encoding.Codec[V2])
		if !ok {
			return nil, errors.New(fmt.Sprintf(`value codec %T cannot encode values of type %T`, config.valueCodec, *new(V2)))
		}
		j.values = values
	}

	if budgeter, ok := e.(env.MemoryBudgeter); ok && j.budget == 0 {
		j.budget = budgeter.MemoryBudget()
	}

	return j, nil
}

func (j *MapsideJoin[K, V1, V2]) Name() string {
	return j.config.Name
}

func (j *MapsideJoin[K, V1, V2]) Partitions() int {
	return j.left.Partitions()
}

// Read joins one left partition. The first Read of the join broadcasts the right
// side and the first Read on a worker builds that worker's index. Both steps are
// shared by every later Read.
func (j *MapsideJoin[K, V1, V2]) Read(ctx context.Context, partition int) (dataset.Iterator[K, dataset.Joined[V1, V2]], error) {
	if partition < 0 || partition >= j.left.Partitions() {
		return nil, errors.New(fmt.Sprintf(`partition %d out of range [0, %d)`, partition, j.left.Partitions()))
	}

	h, err := j.broadcast(ctx)
	if err != nil {
		return nil, err
	}

	index, err := j.index(ctx, h)
	if err != nil {
		return nil, err
	}

	left, err := j.left.Read(ctx, partition)
	if err != nil {
		j.logger.ErrorContext(ctx, fmt.Sprintf(`cannot read partition %d of [%s] due to %s`, partition, j.left.Name(), err))
		return nil, join.Upstream(op, err)
	}

	return join.Probe[K, V1, V2](ctx, left, index, j.metrics), nil
}

// broadcast materializes the right side and registers it, once per join. Budget
// failures are kept and returned to every later caller.
func (j *MapsideJoin[K, V1, V2]) broadcast(ctx context.Context) (broadcast.Handle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return broadcast.Handle{}, errors.New(fmt.Sprintf(`join [%s] is closed`, j.config.Name))
	}

	if j.err != nil {
		return broadcast.Handle{}, j.err
	}

	if j.handle != nil {
		return *j.handle, nil
	}

	w := broadcast.NewWriter(j.budget)
	err := j.materialize(ctx, w)
	if err != nil {
		if mjErrors.IsKind(err, mjErrors.ResourceExhausted) {
			j.err = err
		}
		j.logger.ErrorContext(ctx, fmt.Sprintf(`cannot broadcast [%s] due to %s`, j.right.Name(), err))
		return broadcast.Handle{}, err
	}

	h, err := j.env.Broadcasts().Register(ctx, j.config.Name, w.Blob())
	if err != nil {
		return broadcast.Handle{}, errors.WithPrevious(err, fmt.Sprintf(`cannot register broadcast side [%s]`, j.right.Name()))
	}

	j.handle = &h
	j.logger.InfoContext(ctx, fmt.Sprintf(`[%s] broadcast as %s with %d entries (%d bytes uncompressed)`,
		j.right.Name(), h, w.Entries(), w.Size()))

	return h, nil
}

func (j *MapsideJoin[K, V1, V2]) materialize(ctx context.Context, w *broadcast.Writer) error {
	for p := 0; p < j.right.Partitions(); p++ {
		it, err := j.right.Read(ctx, p)
		if err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`cannot read partition %d of [%s]`, p, j.right.Name()))
		}

		err = dataset.ForEach(ctx, it, func(pair dataset.Pair[K, V2]) error {
			k, err := j.keys.Encode(pair.Key)
			if err != nil {
				return errors.WithPrevious(err, fmt.Sprintf(`cannot encode key %v`, pair.Key))
			}

			// the index is keyed by decoded keys, a lossy codec would drop matches
			decoded, err := j.keys.Decode(k)
			if err != nil {
				return errors.WithPrevious(err, fmt.Sprintf(`cannot decode key %v`, pair.Key))
			}

			if decoded != pair.Key {
				return errors.New(fmt.Sprintf(`key codec %T cannot round trip key %#v of type %s, set one with WithKeyCodec`,
					j.keys, pair.Key, reflect.TypeOf((*K)(nil)).Elem()))
			}

			v, err := j.values.Encode(pair.Value)
			if err != nil {
				return errors.WithPrevious(err, fmt.Sprintf(`cannot encode value of key %v`, pair.Key))
			}

			return w.Append(k, v)
		})
		if closeErr := it.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// index returns the index of h for the worker running ctx, building it on first use.
func (j *MapsideJoin[K, V1, V2]) index(ctx context.Context, h broadcast.Handle) (*join.Index[K, V2], error) {
	cache := env.SideInputs(ctx)
	if cache == nil {
		cache = j.sideInputs
	}

	v, err := cache.Load(ctx, h.ID, func(ctx context.Context) (interface{}, error) {
		blob, err := j.env.Broadcasts().Fetch(ctx, h)
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch broadcast %s`, h))
		}

		index, err := join.BuildIndex(ctx, blob, j.keys, j.values, j.budget, j.metrics)
		if err != nil {
			return nil, err
		}

		j.logger.DebugContext(ctx, fmt.Sprintf(`index of %s built with %d keys and %d entries`, h, index.Keys(), index.Entries()))

		return index, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*join.Index[K, V2]), nil
}

// Handle returns the broadcast handle once the right side has been registered.
func (j *MapsideJoin[K, V1, V2]) Handle() (broadcast.Handle, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.handle == nil {
		return broadcast.Handle{}, false
	}

	return *j.handle, true
}

// Close discards the broadcast side and every index built from it. Reads after
// Close fail.
func (j *MapsideJoin[K, V1, V2]) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if j.handle == nil {
		return nil
	}

	j.sideInputs.Evict(j.handle.ID)
	if evicter, ok := j.env.(env.Evicter); ok {
		evicter.EvictSideInput(j.handle.ID)
	}

	if releaser, ok := j.env.Broadcasts().(broadcast.Releaser); ok {
		if err := releaser.Release(*j.handle); err != nil {
			return err
		}
	}

	j.logger.Debug(fmt.Sprintf(`broadcast %s released`, j.handle))

	return nil
}

// Left is the streamed side.
func (j *MapsideJoin[K, V1, V2]) Left() dataset.Stage {
	return j.left
}

// Right is the broadcast side.
func (j *MapsideJoin[K, V1, V2]) Right() dataset.Stage {
	return j.right
}

func (j *MapsideJoin[K, V1, V2]) Environment() string {
	return j.env.Name()
}
