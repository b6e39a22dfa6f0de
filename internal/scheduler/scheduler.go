// Package scheduler runs periodic jobs so that one instance at a time executes each job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

var ErrUnknownJob = errors.New("unknown job")

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type Job struct {
	Name       string
	Interval   time.Duration
	LockTTL    time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type Scheduler struct {
	locker Locker
	jobs   []Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(locker Locker) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{locker: locker, ctx: ctx, cancel: cancel}
}

func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.LockTTL <= 0 {
		job.LockTTL = job.Interval
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(job)
	}
	logger.Info("scheduler started", "jobs", len(s.jobs))
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.execute(s.ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.execute(s.ctx, job)
		}
	}
}

// RunNow executes a registered job immediately under the same lock as its schedule.
// It reports redis.ErrLockNotAcquired when another instance is running it.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.execute(ctx, job)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	key := "scheduler:" + job.Name
	token, err := s.locker.TryLock(ctx, key, job.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			prom.IncJobRun(job.Name, "skipped")
			logger.Debug("job is running elsewhere", "job", job.Name)
		} else {
			prom.IncJobRun(job.Name, "lock_error")
			logger.Error("failed to lock job", "job", job.Name, "error", err)
		}
		return err
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn("failed to unlock job", "job", job.Name, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, job.LockTTL)
	defer cancel()

	start := time.Now()
	err = s.safeRun(runCtx, job)
	if err != nil {
		prom.IncJobRun(job.Name, "error")
		logger.Error("job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return err
	}
	prom.IncJobRun(job.Name, "ok")
	logger.Debug("job finished", "job", job.Name, "duration", time.Since(start))
	return nil
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// Stop cancels running jobs and waits for the loops to exit.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("scheduler stopped")
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for scheduled jobs to stop")
	}
}
