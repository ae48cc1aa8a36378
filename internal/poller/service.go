// Package poller periodically sweeps the job store for due jobs and hands
// them to the dispatcher.
//
// One sweep never overlaps another, and a failing job never prevents the
// rest of the sweep: its error is recorded and the loop moves on. The
// store's retry backoff decides when a failed job becomes due again.
package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"govbot/internal/jobs"
	logx "govbot/pkg/logx"
)

type Config struct {
	Enabled    bool
	Interval   time.Duration // sweep cadence; default 1m
	JobTimeout time.Duration // per-job execution budget; 0 disables
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store      jobs.Store
	dispatcher *jobs.Dispatcher

	c        *cron.Cron
	sweeping bool

	now func() time.Time
}

func New(cfg Config, store jobs.Store, dispatcher *jobs.Dispatcher, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Service{
		cfg:        cfg,
		log:        log,
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates poller settings at runtime. A changed interval restarts the
// cadence; toggling Enabled starts or stops the sweep loop.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	case running && old.Interval != cfg.Interval:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("poller disabled")
		return
	}

	interval := s.cfg.Interval
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.sweep(ctx) }); err != nil {
		s.log.Error("registering sweep cadence", logx.Err(err))
		return
	}
	s.c = c
	c.Start()

	// Catch up on anything that came due while the bot was down.
	go s.sweep(ctx)

	s.log.Info("poller started", logx.Duration("interval", interval))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// stop continues in background
	}
	s.log.Info("poller stopped")
}

// sweep runs one pass over the due jobs. Overlap is skipped: a slow sweep
// just delays the next one.
func (s *Service) sweep(ctx context.Context) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.log.Debug("previous sweep still running; skipping")
		return
	}
	s.sweeping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	now := s.now()
	due, err := s.store.DueJobs(ctx, now)
	if err != nil {
		s.log.Error("selecting due jobs", logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Debug("sweep", logx.Int("due", len(due)))

	for _, job := range due {
		s.runJob(ctx, job)
	}
}

// runJob executes one job and settles its row: failures are recorded and
// left for the backoff window; successes are deleted, with cron jobs
// re-queued one interval later first so a crash in between can't lose them.
func (s *Service) runJob(ctx context.Context, job jobs.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job handler",
				logx.String("job", job.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			s.settleFailure(ctx, job, fmt.Sprintf("panic: %v", r))
		}
	}()

	s.mu.Lock()
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.dispatcher.Dispatch(runCtx, job)
	if err != nil {
		s.log.Warn("job failed",
			logx.String("job", job.Name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
		)
		s.settleFailure(ctx, job, err.Error())
		return
	}

	if err := s.store.RecordJobExecuted(ctx, job.ID); err != nil {
		s.log.Error("recording job execution", logx.String("job", job.Name), logx.Err(err))
		return
	}

	if job.Kind == jobs.KindCron && job.Cron != nil {
		next := job.ExpectedTime.Add(job.Cron.Interval())
		if err := s.store.UpsertJob(ctx, job.Name, job.Kind, next, job.Cron, job.Metadata); err != nil {
			// Keep the executed row rather than losing the schedule.
			s.log.Error("re-queueing cron job", logx.String("job", job.Name), logx.Err(err))
			return
		}
	}

	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		s.log.Error("deleting executed job", logx.String("job", job.Name), logx.Err(err))
		return
	}

	s.log.Info("job ok", logx.String("job", job.Name), logx.Duration("took", time.Since(start)))
}

// settleFailure records a failed attempt. Both marks matter: the error
// message flags the job as failing, and executed_at stamps the attempt.
// The backoff window is measured from executed_at, so a failure without
// the stamp would never become due again.
func (s *Service) settleFailure(ctx context.Context, job jobs.Job, message string) {
	if err := s.store.RecordJobError(ctx, job.ID, message); err != nil {
		s.log.Error("recording job error", logx.String("job", job.Name), logx.Err(err))
	}
	if err := s.store.RecordJobExecuted(ctx, job.ID); err != nil {
		s.log.Error("recording job attempt", logx.String("job", job.Name), logx.Err(err))
	}
}
