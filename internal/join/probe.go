package join

import (
	"context"
	"errors"

	"github.com/pickme-go/mapjoin/dataset"
	mjErrors "github.com/pickme-go/mapjoin/errors"
)

// Probe streams left past index. Every left pair yields one row per value under
// its key, in index order, so a key repeated m times on the left and n times in the
// index yields m*n rows. Left pairs without a match yield nothing.
//
// Failures of the left iterator are reported as UpstreamReadFailure.
func Probe[K comparable, V1, V2 any](ctx context.Context, left dataset.Iterator[K, V1], index *Index[K, V2], m *Metrics) dataset.Iterator[K, dataset.Joined[V1, V2]] {
	return &probe[K, V1, V2]{ctx: ctx, left: left, index: index, metrics: m}
}

type probe[K comparable, V1, V2 any] struct {
	ctx     context.Context
	left    dataset.Iterator[K, V1]
	index   *Index[K, V2]
	metrics *Metrics

	current dataset.Pair[K, V1]
	matches []V2
	pos     int
	row     dataset.Pair[K, dataset.Joined[V1, V2]]
	err     error
	done    bool
}

func (p *probe[K, V1, V2]) Next() bool {
	if p.done {
		return false
	}

	for p.pos >= len(p.matches) {
		if err := p.ctx.Err(); err != nil {
			return p.stop(err)
		}

		if !p.left.Next() {
			if err := p.left.Err(); err != nil {
				return p.stop(Upstream(`join.Probe`, err))
			}
			return p.stop(nil)
		}

		p.current = p.left.Pair()
		p.matches = p.index.Lookup(p.current.Key)
		p.pos = 0

		if p.metrics != nil {
			if len(p.matches) == 0 {
				p.metrics.unmatched.Count(1, p.metrics.labels())
			} else {
				p.metrics.matched.Count(1, p.metrics.labels())
			}
		}
	}

	p.row = dataset.PairOf(p.current.Key, dataset.Joined[V1, V2]{
		Left:  p.current.Value,
		Right: p.matches[p.pos],
	})
	p.pos++

	if p.metrics != nil {
		p.metrics.emitted.Count(1, p.metrics.labels())
	}

	return true
}

func (p *probe[K, V1, V2]) stop(err error) bool {
	p.err = err
	p.done = true
	p.matches = nil
	return false
}

func (p *probe[K, V1, V2]) Pair() dataset.Pair[K, dataset.Joined[V1, V2]] {
	return p.row
}

func (p *probe[K, V1, V2]) Err() error {
	return p.err
}

func (p *probe[K, V1, V2]) Close() error {
	return p.left.Close()
}

// Upstream marks err as a failure of the streamed side unless it already carries a
// kind or is a cancellation.
func Upstream(op string, err error) error {
	if mjErrors.KindOf(err) != mjErrors.KindUnknown || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return mjErrors.New(mjErrors.UpstreamReadFailure, op, err)
}
