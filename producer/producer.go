/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
	saramaMetrics "github.com/rcrowley/go-metrics"
)

type Builder func(configs *Config) (Producer, error)

type RequiredAcks int

const (
	// NoResponse doesn't send any response, the TCP ACK is all you get.
	NoResponse RequiredAcks = 0

	// WaitForLeader waits for only the local commit to succeed before responding.
	WaitForLeader RequiredAcks = 1

	// WaitForAll waits for all in-sync replicas to commit before responding.
	// The minimum number of in-sync replicas is configured on the broker via
	// the `min.insync.replicas` configuration key.
	WaitForAll RequiredAcks = -1
)

func (ack RequiredAcks) String() string {
	a := `NoResponse`

	if ack == WaitForLeader {
		a = `WaitForLeader`
	}

	if ack == WaitForAll {
		a = `WaitForAll`
	}

	return a
}

type Partitioner int

const (
	HashBased Partitioner = iota
	Manual
	Random
)

// Record is a message to be produced. A Partition < 0 leaves the choice to the
// partitioner.
type Record struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int32
	Timestamp time.Time
}

type Producer interface {
	Produce(ctx context.Context, message *Record) (partition int32, offset int64, err error)
	ProduceBatch(ctx context.Context, messages []*Record) error
	Close() error
}

type saramaProducer struct {
	id             string
	config         *Config
	saramaProducer sarama.SyncProducer
	logger         log.Logger
	metrics        *metricsReporter
}

type metricsReporter struct {
	produceLatency      metrics.Observer
	batchProduceLatency metrics.Observer
}

func NewProducer(configs *Config) (Producer, error) {
	if err := configs.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid producer config`)
	}

	// sarama keeps its own metrics registry which is never read
	saramaMetrics.UseNilMetrics = true

	configs.Logger.Info(fmt.Sprintf(`producer [%s] initiating...`, configs.Id))
	prd, err := sarama.NewSyncProducer(configs.BootstrapServers, configs.saramaConfig())
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] init failed`, configs.Id))
	}

	defer configs.Logger.Info(fmt.Sprintf(`producer [%s] initiated`, configs.Id))

	return newSaramaProducer(configs, prd), nil
}

func newSaramaProducer(configs *Config, prd sarama.SyncProducer) *saramaProducer {
	labels := []string{`topic`, `partition`}
	return &saramaProducer{
		id:             configs.Id,
		config:         configs,
		saramaProducer: prd,
		logger:         configs.Logger.NewLog(log.Prefixed(`producer`)),
		metrics: &metricsReporter{
			produceLatency: configs.MetricsReporter.Observer(metrics.MetricConf{
				Path:   `mapjoin_producer_produced_latency_microseconds`,
				Labels: labels,
			}),
			batchProduceLatency: configs.MetricsReporter.Observer(metrics.MetricConf{
				Path:   `mapjoin_producer_batch_produced_latency_microseconds`,
				Labels: append(labels, `size`),
			}),
		},
	}
}

func (p *saramaProducer) Close() error {
	defer p.logger.Info(fmt.Sprintf(`producer [%s] closed`, p.id))
	return p.saramaProducer.Close()
}

func (p *saramaProducer) message(t time.Time, record *Record) *sarama.ProducerMessage {
	m := &sarama.ProducerMessage{
		Topic:     record.Topic,
		Key:       sarama.ByteEncoder(record.Key),
		Value:     sarama.ByteEncoder(record.Value),
		Timestamp: t,
	}

	if !record.Timestamp.IsZero() {
		m.Timestamp = record.Timestamp
	}

	if record.Partition >= 0 {
		m.Partition = record.Partition
	}

	return m
}

func (p *saramaProducer) Produce(ctx context.Context, message *Record) (partition int32, offset int64, err error) {
	t := time.Now()

	pr, o, err := p.saramaProducer.SendMessage(p.message(t, message))
	if err != nil {
		return 0, 0, errors.WithPrevious(err, `cannot send message`)
	}

	p.metrics.produceLatency.Observe(float64(time.Since(t).Nanoseconds()/1e3), map[string]string{
		`topic`:     message.Topic,
		`partition`: fmt.Sprint(pr),
	})

	p.logger.TraceContext(ctx, fmt.Sprintf("Delivered message to topic %s [%d] at offset %d",
		message.Topic, pr, o))

	return pr, o, nil
}

func (p *saramaProducer) ProduceBatch(ctx context.Context, messages []*Record) error {
	if len(messages) == 0 {
		return nil
	}

	t := time.Now()
	saramaMessages := make([]*sarama.ProducerMessage, 0, len(messages))
	for _, message := range messages {
		saramaMessages = append(saramaMessages, p.message(t, message))
	}

	err := p.saramaProducer.SendMessages(saramaMessages)
	if err != nil {
		return errors.WithPrevious(err, `cannot produce batch`)
	}

	partition := fmt.Sprint(messages[0].Partition)
	p.metrics.batchProduceLatency.Observe(float64(time.Since(t).Nanoseconds()/1e3), map[string]string{
		`topic`:     messages[0].Topic,
		`partition`: partition,
		`size`:      fmt.Sprint(len(messages)),
	})
	p.logger.TraceContext(ctx, fmt.Sprintf("Message bulk delivered %s[%s]", messages[0].Topic, partition))
	return nil
}
