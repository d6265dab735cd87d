package broadcast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend"
	"github.com/pickme-go/metrics/v2"
)

// Handle identifies a registered blob. It is valid in every task of the job that
// registered it.
type Handle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

func (h Handle) String() string {
	return fmt.Sprintf(`%s[%s]`, h.Name, h.ID)
}

// Registry is the side input primitive of an execution environment: a fully
// materialized blob is registered once and fetched, read only, by every worker.
type Registry interface {
	Register(ctx context.Context, name string, blob []byte) (Handle, error)
	Fetch(ctx context.Context, handle Handle) ([]byte, error)
}

// Releaser is implemented by registries that can discard a blob once the job that
// registered it is done.
type Releaser interface {
	Release(handle Handle) error
}

// BackendRegistry keeps blobs in a backend.Backend.
type BackendRegistry struct {
	backend backend.Backend
	mu      *sync.RWMutex
	handles map[string]Handle
	logger  log.Logger
	metrics struct {
		registered   metrics.Counter
		fetched      metrics.Counter
		fetchLatency metrics.Observer
	}
}

func NewBackendRegistry(b backend.Backend, logger log.Logger, reporter metrics.Reporter) *BackendRegistry {
	r := &BackendRegistry{
		backend: b,
		mu:      new(sync.RWMutex),
		handles: make(map[string]Handle),
		logger:  logger.NewLog(log.Prefixed(`broadcast-registry`)),
	}

	r.metrics.registered = reporter.Counter(metrics.MetricConf{
		Path:   `mapjoin_broadcast_registered_bytes`,
		Labels: []string{`name`},
	})
	r.metrics.fetched = reporter.Counter(metrics.MetricConf{
		Path:   `mapjoin_broadcast_fetched_bytes`,
		Labels: []string{`name`},
	})
	r.metrics.fetchLatency = reporter.Observer(metrics.MetricConf{
		Path:   `mapjoin_broadcast_fetch_latency_microseconds`,
		Labels: []string{`name`},
	})

	return r
}

func (r *BackendRegistry) Register(ctx context.Context, name string, blob []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	h := Handle{ID: uuid.New().String(), Name: name, Size: len(blob)}
	if err := r.backend.Set([]byte(h.ID), blob); err != nil {
		return Handle{}, errors.WithPrevious(err, fmt.Sprintf(`cannot register broadcast [%s]`, name))
	}

	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()

	r.metrics.registered.Count(float64(len(blob)), map[string]string{`name`: name})
	r.logger.InfoContext(ctx, fmt.Sprintf(`broadcast %s registered with %d bytes`, h, len(blob)))

	return h, nil
}

func (r *BackendRegistry) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	begin := time.Now()
	blob, err := r.backend.Get([]byte(h.ID))
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch broadcast %s`, h))
	}

	if blob == nil {
		return nil, errors.New(fmt.Sprintf(`broadcast %s dose not exist`, h))
	}

	r.metrics.fetched.Count(float64(len(blob)), map[string]string{`name`: h.Name})
	r.metrics.fetchLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), map[string]string{`name`: h.Name})
	r.logger.TraceContext(ctx, fmt.Sprintf(`broadcast %s fetched`, h))

	return blob, nil
}

// Release discards a blob once its job is done.
func (r *BackendRegistry) Release(h Handle) error {
	r.mu.Lock()
	delete(r.handles, h.ID)
	r.mu.Unlock()

	if err := r.backend.Delete([]byte(h.ID)); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot release broadcast %s`, h))
	}

	r.logger.Debug(fmt.Sprintf(`broadcast %s released`, h))

	return nil
}

// Handles lists the registered blobs ordered by name.
func (r *BackendRegistry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		list = append(list, h)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name == list[j].Name {
			return list[i].ID < list[j].ID
		}
		return list[i].Name < list[j].Name
	})

	return list
}

// Handle looks up a registered handle by id.
func (r *BackendRegistry) Handle(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}
