/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package producer

import (
	"time"

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/logger"
	"github.com/pickme-go/metrics/v2"
)

type Config struct {
	Id               string
	BootstrapServers []string
	RequiredAcks     RequiredAcks
	Partitioner      Partitioner
	Retry            int
	RetryBackOff     time.Duration
	Logger           log.Logger
	MetricsReporter  metrics.Reporter
	*sarama.Config
}

func NewConfig() *Config {
	c := new(Config)
	c.Config = sarama.NewConfig()
	c.Id = `mapjoin-producer`
	c.RequiredAcks = WaitForAll
	c.Partitioner = HashBased
	c.Retry = 5
	c.RetryBackOff = 30 * time.Millisecond
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

	if c.Logger == nil {
		return errors.New(`[Logger] cannot be empty`)
	}

	if c.MetricsReporter == nil {
		return errors.New(`[MetricsReporter] cannot be empty`)
	}

	return nil
}

// saramaConfig copies the producer settings onto the embedded sarama config. A
// SyncProducer needs successes to be returned.
func (c *Config) saramaConfig() *sarama.Config {
	sc := c.Config
	if sc == nil {
		sc = sarama.NewConfig()
	}

	sc.ClientID = c.Id
	sc.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	sc.Producer.Retry.Max = c.Retry
	sc.Producer.Retry.Backoff = c.RetryBackOff
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	switch c.Partitioner {
	case Manual:
		sc.Producer.Partitioner = sarama.NewManualPartitioner
	case Random:
		sc.Producer.Partitioner = sarama.NewRandomPartitioner
	default:
		sc.Producer.Partitioner = sarama.NewHashPartitioner
	}

	return sc
}
