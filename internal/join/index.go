package join

import (
	"context"
	"fmt"
	"time"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/encoding"
	mjErrors "github.com/pickme-go/mapjoin/errors"
)

// Index is the in memory multimap of a broadcast side. Values keep the order they
// were read in and duplicates are kept. An Index is never modified after
// BuildIndex returns, so any number of probes may share it.
type Index[K comparable, V any] struct {
	values  map[K][]V
	entries int
	size    int64
}

// BuildIndex decodes every frame of blob into a new Index. budget > 0 caps the
// number of encoded bytes the index may hold.
func BuildIndex[K comparable, V any](ctx context.Context, blob []byte, keys encoding.Codec[K], values encoding.Codec[V], budget int64, m *Metrics) (*Index[K, V], error) {
	begin := time.Now()
	idx := &Index[K, V]{values: make(map[K][]V)}

	err := broadcast.Decode(blob, func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx.size += broadcast.Charge(k, v)
		if budget > 0 && idx.size > budget {
			return mjErrors.New(mjErrors.ResourceExhausted, `join.BuildIndex`,
				errors.New(fmt.Sprintf(`index exceeds memory budget of %d bytes after %d entries`, budget, idx.entries)))
		}

		key, err := keys.Decode(k)
		if err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`cannot decode key of entry %d`, idx.entries))
		}

		val, err := values.Decode(v)
		if err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`cannot decode value of entry %d`, idx.entries))
		}

		idx.values[key] = append(idx.values[key], val)
		idx.entries++

		return nil
	})
	if err != nil {
		return nil, err
	}

	if m != nil {
		m.buildLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
		m.keys.Count(float64(len(idx.values)), m.labels())
		m.entries.Count(float64(idx.entries), m.labels())
	}

	return idx, nil
}

// Lookup returns the values under key in read order. The slice must not be modified.
func (i *Index[K, V]) Lookup(key K) []V {
	return i.values[key]
}

func (i *Index[K, V]) Keys() int {
	return len(i.values)
}

func (i *Index[K, V]) Entries() int {
	return i.entries
}

// Size is the number of encoded bytes the index was built from.
func (i *Index[K, V]) Size() int64 {
	return i.size
}
