package env

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend"
	"github.com/pickme-go/mapjoin/broadcast"
	kContext "github.com/pickme-go/mapjoin/context"
	"github.com/pickme-go/mapjoin/task_pool"
	"github.com/pickme-go/metrics/v2"
)

// Cluster runs partitions on a fixed pool of workers. Every worker owns its own side
// input cache, so a broadcast side is indexed once per worker and shared by all the
// tasks that worker runs.
type Cluster struct {
	config   *ClusterConfig
	pool     *task_pool.Pool
	registry broadcast.Registry
	backend  backend.Backend
	logger   log.Logger
	metrics  struct {
		taskLatency metrics.Observer
		failures    metrics.Counter
	}
}

func NewCluster(config *ClusterConfig) (*Cluster, error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid cluster config`)
	}

	c := &Cluster{
		config: config,
		logger: config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`cluster.%s`, config.Name))),
	}

	c.registry = config.Broadcast.Registry
	if c.registry == nil {
		b, err := config.Broadcast.BackendBuilder(fmt.Sprintf(`%s_broadcasts`, config.Name))
		if err != nil {
			return nil, errors.WithPrevious(err, `cannot build broadcast backend`)
		}
		c.backend = b
		c.registry = broadcast.NewBackendRegistry(b, config.Logger, config.MetricsReporter)
	}

	poolConfig := config.WorkerPool
	poolConfig.Logger = config.Logger
	c.pool = task_pool.NewPool(config.Name, config.MetricsReporter, &poolConfig)

	c.metrics.taskLatency = config.MetricsReporter.Observer(metrics.MetricConf{
		Path:   `mapjoin_cluster_task_latency_microseconds`,
		Labels: []string{`stage`},
	})
	c.metrics.failures = config.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `mapjoin_cluster_task_failures`,
		Labels: []string{`stage`},
	})

	return c, nil
}

func (c *Cluster) Name() string {
	return c.config.Name
}

func (c *Cluster) Supports(capability Capability) bool {
	switch capability {
	case Broadcast:
		return c.registry != nil
	case Parallel:
		return c.config.WorkerPool.NumOfWorkers > 1
	}

	return false
}

func (c *Cluster) Broadcasts() broadcast.Registry {
	return c.registry
}

func (c *Cluster) MemoryBudget() int64 {
	return c.config.MemoryBudget
}

type job struct {
	id        uuid.UUID
	stage     string
	mu        *sync.Mutex
	completed *roaring.Bitmap
	err       error
	failed    int
}

func (j *job) fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed++
	if j.err == nil {
		j.err = err
		return true
	}
	return false
}

func (j *job) done(partition int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed.Add(uint32(partition))
}

// Execute schedules every partition on the pool. The first failing task cancels the
// job; its error is returned unchanged.
func (c *Cluster) Execute(ctx context.Context, stage string, partitions int, fn TaskFunc) error {
	begin := time.Now()
	j := &job{
		id:        uuid.New(),
		stage:     stage,
		mu:        new(sync.Mutex),
		completed: roaring.New(),
	}

	jobCtx, cancel := kContext.JobContext(ctx, j.id)
	defer cancel()

	wg := new(sync.WaitGroup)
	for p := 0; p < partitions; p++ {
		wg.Add(1)
		partition := p
		err := c.pool.Run(jobCtx, task_pool.Task{Partition: partition, Run: func(w *task_pool.Worker) {
			defer wg.Done()
			if jobCtx.Err() != nil {
				return
			}

			taskCtx := WithSideInputs(kContext.FromTask(jobCtx, &kContext.TaskMeta{
				Job:       j.id,
				Stage:     stage,
				Partition: partition,
				Worker:    w.ID(),
			}), w.SideInputs())

			taskBegin := time.Now()
			if err := fn(taskCtx, partition); err != nil {
				c.metrics.failures.Count(1, map[string]string{`stage`: stage})
				if j.fail(err) {
					c.logger.ErrorContext(taskCtx, fmt.Sprintf(`stage [%s] partition %d failed on worker %d due to %s`,
						stage, partition, w.ID(), err))
					cancel()
				}
				return
			}

			c.metrics.taskLatency.Observe(float64(time.Since(taskBegin).Nanoseconds()/1e3), map[string]string{`stage`: stage})
			j.done(partition)
		}})
		if err != nil {
			wg.Done()
			j.fail(err)
			break
		}
	}

	wg.Wait()
	c.print(j, partitions, time.Since(begin))

	if j.err != nil {
		return j.err
	}

	// the caller may have canceled between the last task and here
	if err := ctx.Err(); err != nil {
		return err
	}

	if j.completed.GetCardinality() != uint64(partitions) {
		return errors.New(fmt.Sprintf(`stage [%s] completed %d of %d partitions`, stage, j.completed.GetCardinality(), partitions))
	}

	return nil
}

func (c *Cluster) print(j *job, partitions int, elapsed time.Duration) {
	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`Job`, j.id.String()})

	status := `succeeded`
	if j.err != nil {
		status = `failed`
	}

	tableData := [][]string{
		{`stage`, j.stage},
		{`partitions`, fmt.Sprint(partitions)},
		{`completed`, fmt.Sprint(j.completed.GetCardinality())},
		{`failed`, fmt.Sprint(j.failed)},
		{`workers`, fmt.Sprint(c.config.WorkerPool.NumOfWorkers)},
		{`elapsed`, elapsed.String()},
		{`status`, status},
	}

	for _, v := range tableData {
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
		table.Append(v)
	}
	table.Render()
	c.logger.Info("\n" + b.String())
}

// EvictSideInput drops key from the side input cache of every worker.
func (c *Cluster) EvictSideInput(key string) {
	for _, w := range c.pool.Workers() {
		w.SideInputs().Evict(key)
	}
}

// Close stops the workers and drops every side input still registered.
func (c *Cluster) Close() error {
	c.pool.Stop()

	if c.backend != nil {
		return c.backend.Close()
	}

	return nil
}
