package jobs

import (
	"context"

	logx "govbot/pkg/logx"
)

// Handler executes one kind of job. Each handler owns the schema of its
// job metadata and decodes it itself.
type Handler interface {
	// Name is the stable job name the handler answers to.
	Name() string
	Run(ctx context.Context, job Job) error
}

// Dispatcher routes a due job to its handler.
//
// The handler set is closed at construction time. An unknown job name is
// never an error: the job is skipped with a trace log, so rows left behind
// by retired handlers don't poison a sweep.
type Dispatcher struct {
	log      logx.Logger
	handlers map[string]Handler
}

func NewDispatcher(log logx.Logger, handlers ...Handler) *Dispatcher {
	m := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Name()] = h
	}
	return &Dispatcher{log: log, handlers: m}
}

// Dispatch runs the job's handler and returns its error.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	h, ok := d.handlers[job.Name]
	if !ok {
		d.log.Trace("no handler for job; skipping",
			logx.String("job", job.Name),
			logx.String("id", job.ID.String()),
		)
		return nil
	}
	return h.Run(ctx, job)
}
