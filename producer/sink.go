package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/dataset"
	"github.com/pickme-go/mapjoin/encoding"
)

// Sink writes dataset pairs to a topic. Pairs are sent in batches of batchSize, the
// last incomplete batch is sent on Flush or Close. It is safe for concurrent use.
type Sink[K comparable, V any] struct {
	producer  Producer
	topic     string
	keys      encoding.Codec[K]
	values    encoding.Codec[V]
	batchSize int

	mu      *sync.Mutex
	pending []*Record
	closed  bool
}

func NewSink[K comparable, V any](producer Producer, topic string, keys encoding.Codec[K], values encoding.Codec[V], batchSize int) *Sink[K, V] {
	if batchSize < 1 {
		batchSize = 1
	}

	return &Sink[K, V]{
		producer:  producer,
		topic:     topic,
		keys:      keys,
		values:    values,
		batchSize: batchSize,
		mu:        new(sync.Mutex),
	}
}

func (s *Sink[K, V]) Write(ctx context.Context, pair dataset.Pair[K, V]) error {
	k, err := s.keys.Encode(pair.Key)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot encode key %v`, pair.Key))
	}

	v, err := s.values.Encode(pair.Value)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot encode value of key %v`, pair.Key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(fmt.Sprintf(`sink [%s] closed`, s.topic))
	}

	s.pending = append(s.pending, &Record{Key: k, Value: v, Topic: s.topic, Partition: -1})
	if len(s.pending) < s.batchSize {
		return nil
	}

	return s.flush(ctx)
}

func (s *Sink[K, V]) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(ctx)
}

func (s *Sink[K, V]) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	var err error
	if len(s.pending) == 1 {
		_, _, err = s.producer.Produce(ctx, s.pending[0])
	} else {
		err = s.producer.ProduceBatch(ctx, s.pending)
	}
	s.pending = nil

	return err
}

// Close flushes pending pairs and closes the producer.
func (s *Sink[K, V]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.flush(context.Background()); err != nil {
		_ = s.producer.Close()
		return err
	}

	return s.producer.Close()
}
