package mapjoin

import (
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/encoding"
	"github.com/pickme-go/mapjoin/logger"
	"github.com/pickme-go/metrics/v2"
)

type Config struct {
	// Name labels the broadcast blob, the logs and the metrics of the join.
	// Defaults to <left>_join_<right>.
	Name string
	// MemoryBudget caps the encoded size of the broadcast side in bytes. Zero falls
	// back to the environment budget, if any.
	MemoryBudget    int64
	Logger          log.Logger
	MetricsReporter metrics.Reporter

	keyCodec   interface{}
	valueCodec interface{}
}

type Option func(config *Config)

func newConfig(opts ...Option) *Config {
	config := &Config{
		Logger:          logger.DefaultLogger,
		MetricsReporter: metrics.NoopReporter(),
	}

	for _, opt := range opts {
		opt(config)
	}

	return config
}

func WithName(name string) Option {
	return func(config *Config) {
		config.Name = name
	}
}

func WithMemoryBudget(bytes int64) Option {
	return func(config *Config) {
		config.MemoryBudget = bytes
	}
}

func WithLogger(logger log.Logger) Option {
	return func(config *Config) {
		config.Logger = logger
	}
}

func WithMetricsReporter(reporter metrics.Reporter) Option {
	return func(config *Config) {
		config.MetricsReporter = reporter
	}
}

// WithKeyCodec sets how keys are serialized into the broadcast blob. Decoded keys
// must compare equal to the keys of the streamed side. Defaults to encoding.Json.
func WithKeyCodec[K any](codec encoding.Codec[K]) Option {
	return func(config *Config) {
		config.keyCodec = codec
	}
}

// WithValueCodec sets how broadcast side values are serialized. Defaults to encoding.Json.
func WithValueCodec[V any](codec encoding.Codec[V]) Option {
	return func(config *Config) {
		config.valueCodec = codec
	}
}
