package env

import (
	"context"
	"fmt"

	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/logger"
)

// Local runs every partition sequentially in the calling goroutine. It has no side
// input distribution, so operators that depend on Broadcast are rejected.
type Local struct {
	sideInputs *broadcast.Cache
	logger     log.Logger
}

func NewLocal(l log.Logger) *Local {
	return &Local{
		sideInputs: broadcast.NewCache(),
		logger:     logger.OrDefault(l).NewLog(log.Prefixed(`local-env`)),
	}
}

func (l *Local) Name() string {
	return `local`
}

func (l *Local) Supports(Capability) bool {
	return false
}

func (l *Local) Broadcasts() broadcast.Registry {
	return nil
}

func (l *Local) Execute(ctx context.Context, stage string, partitions int, fn TaskFunc) error {
	ctx = WithSideInputs(ctx, l.sideInputs)
	for p := 0; p < partitions; p++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(ctx, p); err != nil {
			l.logger.ErrorContext(ctx, fmt.Sprintf(`stage [%s] partition %d failed due to %s`, stage, p, err))
			return err
		}
	}

	l.logger.DebugContext(ctx, fmt.Sprintf(`stage [%s] done with %d partitions`, stage, partitions))

	return nil
}

func (l *Local) EvictSideInput(key string) {
	l.sideInputs.Evict(key)
}
