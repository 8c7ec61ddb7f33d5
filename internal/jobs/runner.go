// Package jobs runs durable background work stored in the jobs table. Jobs
// are delivered at least once: a worker leases a job, and a lease that runs
// out before completion makes the job claimable again.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/observability"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

// ErrPermanent marks handler errors that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Handler processes one job.
type Handler func(ctx context.Context, job *domain.Job) error

// Options tune a Runner.
type Options struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	LockTTL      time.Duration
	// Backoff is multiplied by the attempt number to schedule a retry.
	Backoff time.Duration
}

// Runner polls for jobs with a fixed pool of workers.
type Runner struct {
	db       *gorm.DB
	handlers map[string]Handler
	opts     Options
	log      zerolog.Logger

	// Now is the runner clock.
	Now func() time.Time
}

// NewRunner returns a Runner with defaults applied to zero options.
func NewRunner(db *gorm.DB, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Runner{
		db:       db,
		handlers: make(map[string]Handler),
		opts:     opts,
		log:      log.With().Str("component", "jobs").Logger(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle registers h for jobs of kind. Call before Run.
func (r *Runner) Handle(kind string, h Handler) { r.handlers[kind] = h }

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current job.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id)
		}(i)
	}
	r.log.Info().Int("workers", r.opts.Workers).Msg("job runner started")
	wg.Wait()
	r.log.Info().Msg("job runner stopped")
}

func (r *Runner) worker(ctx context.Context, id int) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// Drain the queue before sleeping again.
		for ctx.Err() == nil {
			did, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Error().Err(err).Int("worker", id).Msg("claim job")
				break
			}
			if !did {
				break
			}
		}
		timer.Reset(r.opts.PollInterval)
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := repo.ClaimJob(ctx, r.db, r.Now(), r.opts.LockTTL)
	if err != nil || job == nil {
		return false, err
	}
	r.process(ctx, job)
	return true, nil
}

func (r *Runner) process(ctx context.Context, job *domain.Job) {
	logger := r.log.With().Str("job_id", job.ID).Str("kind", job.Kind).Int("attempt", job.Attempts).Logger()

	err := r.invoke(ctx, job)
	// Bookkeeping must land even when shutdown cancelled ctx.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err == nil {
		if cerr := repo.CompleteJob(bctx, r.db, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("complete job")
			return
		}
		observability.JobsProcessed.WithLabelValues("done").Inc()
		return
	}

	if errors.Is(err, ErrPermanent) || job.Attempts >= r.opts.MaxAttempts {
		if ferr := repo.FailJob(bctx, r.db, job.ID, err.Error(), nil); ferr != nil {
			logger.Error().Err(ferr).Msg("fail job")
		}
		observability.JobsProcessed.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("job failed permanently")
		return
	}

	retryAt := r.Now().Add(time.Duration(job.Attempts) * r.opts.Backoff)
	if ferr := repo.FailJob(bctx, r.db, job.ID, err.Error(), &retryAt); ferr != nil {
		logger.Error().Err(ferr).Msg("reschedule job")
	}
	observability.JobsProcessed.WithLabelValues("retry").Inc()
	logger.Warn().Err(err).Time("retry_at", retryAt).Msg("job failed; will retry")
}

// invoke runs the handler under the lease deadline and turns panics into
// errors.
func (r *Runner) invoke(ctx context.Context, job *domain.Job) (err error) {
	h, ok := r.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("%w: no handler for kind %q", ErrPermanent, job.Kind)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	hctx, cancel := context.WithTimeout(ctx, r.opts.LockTTL)
	defer cancel()
	return h(hctx, job)
}
