/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

// Package kafka reads a topic as a keyed dataset. Every topic partition is one
// dataset partition, read from the oldest offset up to the high watermark seen when
// the partition is opened.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/dataset"
	"github.com/pickme-go/mapjoin/encoding"
	mjErrors "github.com/pickme-go/mapjoin/errors"
	"github.com/pickme-go/mapjoin/logger"
	"github.com/pickme-go/metrics/v2"
	saramaMetrics "github.com/rcrowley/go-metrics"
)

type Config struct {
	Id               string
	BootstrapServers []string
	// IdleTimeout ends a partition that has gone quiet once the consumer has fetched past
	// the high watermark. The offsets left are transaction markers, which are never delivered.
	IdleTimeout      time.Duration
	Logger           log.Logger
	MetricsReporter  metrics.Reporter
	*sarama.Config
}

func NewConfig() *Config {
	c := new(Config)
	c.Config = sarama.NewConfig()
	c.Id = `mapjoin-source`
	c.IdleTimeout = time.Second
	c.Logger = logger.DefaultLogger
	c.MetricsReporter = metrics.NoopReporter()
	return c
}

func (c *Config) validate() error {
	if c.Id == `` {
		return errors.New(`[Id] cannot be empty`)
	}

	if len(c.BootstrapServers) < 1 {
		return errors.New(`[BootstrapServers] cannot be empty`)
	}

	if c.IdleTimeout <= 0 {
		return errors.New(`[IdleTimeout] must be positive`)
	}

	if c.Logger == nil {
		return errors.New(`[Logger] cannot be empty`)
	}

	if c.MetricsReporter == nil {
		return errors.New(`[MetricsReporter] cannot be empty`)
	}

	return nil
}

type Dataset[K comparable, V any] struct {
	topic      string
	partitions []int32
	offsets    *offsetManager
	consumer   sarama.Consumer
	keys       encoding.Codec[K]
	values     encoding.Codec[V]
	close      func() error
	idle       time.Duration
	logger     log.Logger
	metrics    struct {
		consumed metrics.Counter
	}
}

// NewDataset connects to the cluster in config and reads topic.
func NewDataset[K comparable, V any](config *Config, topic string, keys encoding.Codec[K], values encoding.Codec[V]) (*Dataset[K, V], error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid kafka source config`)
	}

	// sarama keeps its own metrics registry which is never read
	saramaMetrics.UseNilMetrics = true

	config.Config.ClientID = config.Id
	client, err := sarama.NewClient(config.BootstrapServers, config.Config)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] cannot connect`, config.Id))
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] cannot create consumer`, config.Id))
	}

	d, err := newDataset(client, consumer, topic, keys, values, config.Logger, config.MetricsReporter)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, err
	}

	d.idle = config.IdleTimeout
	d.close = func() error {
		if err := consumer.Close(); err != nil {
			return err
		}
		return client.Close()
	}

	return d, nil
}

func newDataset[K comparable, V any](offsets Offsets, consumer sarama.Consumer, topic string, keys encoding.Codec[K], values encoding.Codec[V], l log.Logger, reporter metrics.Reporter) (*Dataset[K, V], error) {
	partitions, err := offsets.Partitions(topic)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot get partitions of [%s]`, topic))
	}

	d := &Dataset[K, V]{
		topic:      topic,
		partitions: partitions,
		offsets:    &offsetManager{client: offsets},
		consumer:   consumer,
		keys:       keys,
		values:     values,
		close:      consumer.Close,
		idle:       time.Second,
		logger:     l.NewLog(log.Prefixed(fmt.Sprintf(`kafka-source.%s`, topic))),
	}

	d.metrics.consumed = reporter.Counter(metrics.MetricConf{
		Path:   `mapjoin_kafka_source_consumed_records`,
		Labels: []string{`topic`, `partition`},
	})

	return d, nil
}

func (d *Dataset[K, V]) Name() string {
	return d.topic
}

func (d *Dataset[K, V]) Partitions() int {
	return len(d.partitions)
}

func readFailure(err error) error {
	return mjErrors.New(mjErrors.UpstreamReadFailure, `kafka.Read`, err)
}

func (d *Dataset[K, V]) Read(ctx context.Context, partition int) (dataset.Iterator[K, V], error) {
	if partition < 0 || partition >= len(d.partitions) {
		return nil, errors.New(fmt.Sprintf(`partition %d out of range [0, %d)`, partition, len(d.partitions)))
	}

	p := d.partitions[partition]
	oldest, highWatermark, err := d.offsets.bounds(d.topic, p)
	if err != nil {
		return nil, readFailure(err)
	}

	if highWatermark <= oldest {
		d.logger.DebugContext(ctx, fmt.Sprintf(`partition %s[%d] is empty`, d.topic, p))
		return dataset.FuncIterator(func() (dataset.Pair[K, V], bool, error) {
			return dataset.Pair[K, V]{}, false, nil
		}, nil), nil
	}

	pc, err := d.consumer.ConsumePartition(d.topic, p, oldest)
	if err != nil {
		return nil, readFailure(errors.WithPrevious(err, fmt.Sprintf(`cannot consume %s[%d]`, d.topic, p)))
	}

	labels := map[string]string{`topic`: d.topic, `partition`: fmt.Sprint(p)}
	done := false
	idle := time.NewTimer(d.idle)

	return dataset.FuncIterator(func() (dataset.Pair[K, V], bool, error) {
		for !done {
			idle.Reset(d.idle)

			select {
			case <-ctx.Done():
				return dataset.Pair[K, V]{}, false, ctx.Err()
			case err := <-pc.Errors():
				return dataset.Pair[K, V]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`cannot read %s[%d]`, d.topic, p)))
			case <-idle.C:
				if pc.HighWaterMarkOffset() < highWatermark {
					continue
				}
				d.logger.Warn(fmt.Sprintf(`%s[%d] ended before offset %d, the offsets left hold no records`, d.topic, p, highWatermark-1))
				done = true
			case msg, ok := <-pc.Messages():
				if !ok {
					return dataset.Pair[K, V]{}, false, readFailure(errors.New(fmt.Sprintf(`%s[%d] closed before offset %d`, d.topic, p, highWatermark-1)))
				}

				done = msg.Offset >= highWatermark-1

				k, err := d.keys.Decode(msg.Key)
				if err != nil {
					return dataset.Pair[K, V]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`invalid key at %s[%d]@%d`, d.topic, p, msg.Offset)))
				}

				v, err := d.values.Decode(msg.Value)
				if err != nil {
					return dataset.Pair[K, V]{}, false, readFailure(errors.WithPrevious(err, fmt.Sprintf(`invalid value at %s[%d]@%d`, d.topic, p, msg.Offset)))
				}

				d.metrics.consumed.Count(1, labels)

				return dataset.PairOf(k, v), true, nil
			}
		}

		return dataset.Pair[K, V]{}, false, nil
	}, func() error {
		idle.Stop()
		return pc.Close()
	}), nil
}

func (d *Dataset[K, V]) Close() error {
	return d.close()
}
