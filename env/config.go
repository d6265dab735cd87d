package env

import (
	"fmt"
	"os"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend"
	"github.com/pickme-go/mapjoin/backend/memory"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/logger"
	"github.com/pickme-go/mapjoin/task_pool"
	"github.com/pickme-go/metrics/v2"
	"gopkg.in/yaml.v3"
)

type ClusterConfig struct {
	Name       string
	WorkerPool task_pool.PoolConfig
	// MemoryBudget is the number of bytes a worker may spend on one side input.
	// Zero leaves the budget to the caller.
	MemoryBudget int64
	Broadcast    struct {
		BackendBuilder backend.Builder
		// Registry replaces the backend registry, e.g. with a broadcast.HTTPClient
		// when the blobs are served by another process.
		Registry broadcast.Registry
	}
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewClusterConfig() *ClusterConfig {
	config := &ClusterConfig{}
	config.Name = `cluster`

	config.WorkerPool.Order = task_pool.OrderByKey
	config.WorkerPool.NumOfWorkers = 4
	config.WorkerPool.WorkerBufferSize = 10

	config.Logger = logger.DefaultLogger
	config.Broadcast.BackendBuilder = memory.Builder(memory.NewConfig())

	// default metrics reporter
	config.MetricsReporter = metrics.NoopReporter()

	return config
}

func (c *ClusterConfig) validate() error {
	if c.Name == `` {
		return errors.New(`[Name] cannot be empty`)
	}

	if c.WorkerPool.Order > task_pool.OrderRoundRobin || c.WorkerPool.Order < task_pool.OrderRandom {
		return errors.New(`invalid WorkerPool Order`)
	}

	if c.WorkerPool.NumOfWorkers < 1 {
		return errors.New(`WorkerPool NumOfWorkers should be greater than 0`)
	}

	if c.WorkerPool.WorkerBufferSize < 1 {
		return errors.New(`WorkerPool WorkerBufferSize should be greater than 0`)
	}

	if c.MemoryBudget < 0 {
		return errors.New(`[MemoryBudget] cannot be negative`)
	}

	if c.Broadcast.Registry == nil && c.Broadcast.BackendBuilder == nil {
		return errors.New(`[Broadcast.BackendBuilder] cannot be empty`)
	}

	if c.Logger == nil {
		return errors.New(`[Logger] cannot be empty`)
	}

	if c.MetricsReporter == nil {
		return errors.New(`[MetricsReporter] cannot be empty`)
	}

	return nil
}

type fileConfig struct {
	Name         string `yaml:"name"`
	MemoryBudget int64  `yaml:"memory_budget"`
	Workers      struct {
		Count      int    `yaml:"count"`
		BufferSize int    `yaml:"buffer_size"`
		Order      string `yaml:"order"`
	} `yaml:"workers"`
	Broadcast struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"broadcast"`
}

// LoadClusterConfig reads a yaml file on top of NewClusterConfig defaults.
//
//	name: orders-join
//	memory_budget: 268435456
//	workers:
//	  count: 8
//	  buffer_size: 10
//	  order: by_key        # random | by_key | round_robin
//	broadcast:
//	  backend: rocksdb     # memory, or any registered backend
//	  dir: /var/lib/mapjoin
func LoadClusterConfig(path string) (*ClusterConfig, error) {
	byt, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot read config [%s]`, path))
	}

	file := fileConfig{}
	if err := yaml.Unmarshal(byt, &file); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`invalid config [%s]`, path))
	}

	config := NewClusterConfig()
	if file.Name != `` {
		config.Name = file.Name
	}
	config.MemoryBudget = file.MemoryBudget

	if file.Workers.Count != 0 {
		config.WorkerPool.NumOfWorkers = file.Workers.Count
	}
	if file.Workers.BufferSize != 0 {
		config.WorkerPool.WorkerBufferSize = file.Workers.BufferSize
	}

	switch file.Workers.Order {
	case ``, `by_key`:
		config.WorkerPool.Order = task_pool.OrderByKey
	case `random`:
		config.WorkerPool.Order = task_pool.OrderRandom
	case `round_robin`:
		config.WorkerPool.Order = task_pool.OrderRoundRobin
	default:
		return nil, errors.New(fmt.Sprintf(`unknown worker order [%s]`, file.Workers.Order))
	}

	if file.Broadcast.Backend != `` {
		// backends other than memory register themselves when their package is imported
		factory, ok := backend.Lookup(file.Broadcast.Backend)
		if !ok {
			return nil, errors.New(fmt.Sprintf(`unknown broadcast backend [%s]`, file.Broadcast.Backend))
		}
		config.Broadcast.BackendBuilder = factory(file.Broadcast.Dir, config.Logger)
	}

	return config, config.validate()
}
