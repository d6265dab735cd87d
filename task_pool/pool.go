package task_pool

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/metrics/v2"
)

type ExecutionOrder int

const (
	OrderRandom ExecutionOrder = iota
	// OrderByKey pins a partition to the same worker for the lifetime of the pool.
	OrderByKey
	OrderRoundRobin
)

func (eo ExecutionOrder) String() string {
	o := `OrderRandom`

	if eo == OrderByKey {
		o = `OrderByKey`
	}

	if eo == OrderRoundRobin {
		o = `OrderRoundRobin`
	}

	return o
}

// Task is one partition of a stage.
type Task struct {
	Partition int
	Run       func(w *Worker)
}

type PoolConfig struct {
	NumOfWorkers     int
	WorkerBufferSize int
	Logger           log.Logger
	Order            ExecutionOrder
}

type Pool struct {
	id      string
	size    int
	workers []*Worker
	logger  log.Logger
	order   ExecutionOrder
	next    uint32
	mu      *sync.RWMutex
	stopped bool
}

func NewPool(id string, metricsReporter metrics.Reporter, config *PoolConfig) *Pool {

	p := &Pool{
		id:      id,
		size:    config.NumOfWorkers,
		order:   config.Order,
		logger:  config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`task-pool.%s`, id))),
		workers: make([]*Worker, config.NumOfWorkers),
		mu:      new(sync.RWMutex),
	}

	bufferUsage := metricsReporter.Counter(metrics.MetricConf{
		Path:   `mapjoin_task_pool_worker_buffer`,
		Labels: []string{`pool_id`, `worker`},
	})

	for i := config.NumOfWorkers - 1; i >= 0; i-- {
		p.workers[i] = &Worker{
			id:          i,
			pool:        p,
			tasks:       make(chan Task, config.WorkerBufferSize),
			stop:        make(chan struct{}),
			sideInputs:  broadcast.NewCache(),
			logger:      p.logger.NewLog(log.Prefixed(fmt.Sprintf(`worker-%d`, i))),
			bufferUsage: bufferUsage,
		}
	}

	for _, w := range p.workers {
		go w.start()
	}

	p.logger.Info(fmt.Sprintf(`pool started with %d workers (%s)`, p.size, p.order))

	return p
}

// Run queues t on a worker, blocking while the worker buffer is full.
func (p *Pool) Run(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return errors.New(fmt.Sprintf(`task pool [%s] stopped`, p.id))
	}

	w := p.worker(t.Partition)
	select {
	case w.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Workers() []*Worker {
	return p.workers
}

func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true

	for _, w := range p.workers {
		w.close()
	}

	p.logger.Info(`pool stopped`)
}

func (p *Pool) worker(partition int) *Worker {
	var w int
	switch p.order {
	case OrderRandom:
		w = rand.Intn(p.size)
	case OrderRoundRobin:
		w = int(atomic.AddUint32(&p.next, 1)-1) % p.size
	default:
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(strconv.Itoa(partition)))
		w = int(hasher.Sum32() % uint32(p.size))
	}

	return p.workers[w]
}

// Worker runs tasks sequentially and owns the side inputs it has built.
type Worker struct {
	id          int
	pool        *Pool
	tasks       chan Task
	stop        chan struct{}
	sideInputs  *broadcast.Cache
	logger      log.Logger
	bufferUsage metrics.Counter
}

func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) SideInputs() *broadcast.Cache {
	return w.sideInputs
}

func (w *Worker) start() {

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				w.bufferUsage.Count((float64(len(w.tasks))/float64(cap(w.tasks)))*100, map[string]string{
					`pool_id`: w.pool.id,
					`worker`:  strconv.Itoa(w.id),
				})
			case <-w.stop:
				return
			}
		}
	}()

	for task := range w.tasks {
		task.Run(w)
	}

	w.logger.Debug(`worker stopped`)
}

func (w *Worker) close() {
	close(w.tasks)
	close(w.stop)
}
