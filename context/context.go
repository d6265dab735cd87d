package context

import (
	"context"

	"github.com/google/uuid"
	"github.com/pickme-go/traceable-context"
)

var taskMeta = `task_meta`

// TaskMeta describes the task a context belongs to.
type TaskMeta struct {
	Job       uuid.UUID
	Stage     string
	Partition int
	Worker    int
}

// JobContext returns a traceable root context for job id that is canceled when
// parent is done or when the returned cancel func is called.
func JobContext(parent context.Context, id uuid.UUID) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(traceable_context.WithUUID(id))
	stop := context.AfterFunc(parent, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

// FromTask attaches meta to a job context.
func FromTask(job context.Context, meta *TaskMeta) context.Context {
	return traceable_context.WithValue(job, &taskMeta, meta)
}

// Meta returns the task meta of ctx, or nil outside of a task.
func Meta(ctx context.Context) *TaskMeta {
	if meta, ok := ctx.Value(&taskMeta).(*TaskMeta); ok {
		return meta
	}

	return nil
}
