package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/observability"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

// DoneJobRetention is how long completed jobs are kept.
const DoneJobRetention = 24 * time.Hour

// sweeper is implemented by stores that expire keys lazily.
type sweeper interface {
	Sweep() int
}

// Housekeeper prunes finished jobs and expired idempotency records, sweeps
// an in-process KV store and samples the job backlog gauge.
type Housekeeper struct {
	db   *gorm.DB
	kv   any
	cron *cron.Cron
	Now  func() time.Time
}

// NewHousekeeper schedules RunOnce on spec. kv may be any store; it is swept
// only when it expires keys lazily.
func NewHousekeeper(db *gorm.DB, kv any, spec string) (*Housekeeper, error) {
	h := &Housekeeper{db: db, kv: kv, cron: cron.New(), Now: func() time.Time { return time.Now().UTC() }}
	if _, err := h.cron.AddFunc(spec, func() { h.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return h, nil
}

// Start begins the schedule.
func (h *Housekeeper) Start() { h.cron.Start() }

// Stop halts the schedule, waiting for a running pass or ctx.
func (h *Housekeeper) Stop(ctx context.Context) {
	select {
	case <-h.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Report summarizes one housekeeping pass.
type Report struct {
	JobsPurged        int64
	IdempotencyPurged int64
	KeysSwept         int
	Pending           int64
}

// RunOnce performs one housekeeping pass. Failures are logged and do not
// stop the remaining tasks.
func (h *Housekeeper) RunOnce(ctx context.Context) Report {
	logger := log.With().Str("component", "housekeeping").Logger()
	now := h.Now()
	var rep Report
	var err error

	if rep.JobsPurged, err = repo.PurgeDoneJobs(ctx, h.db, now.Add(-DoneJobRetention)); err != nil {
		logger.Error().Err(err).Msg("purge done jobs")
	}
	if rep.IdempotencyPurged, err = repo.PurgeExpiredIdempotency(ctx, h.db, now); err != nil {
		logger.Error().Err(err).Msg("purge idempotency records")
	}
	if s, ok := h.kv.(sweeper); ok {
		rep.KeysSwept = s.Sweep()
	}
	if rep.Pending, err = repo.CountJobs(ctx, h.db, domain.JobPending); err != nil {
		logger.Error().Err(err).Msg("count pending jobs")
	} else {
		observability.JobsBacklog.Set(float64(rep.Pending))
	}

	logger.Debug().
		Int64("jobs_purged", rep.JobsPurged).
		Int64("idempotency_purged", rep.IdempotencyPurged).
		Int("keys_swept", rep.KeysSwept).
		Int64("pending", rep.Pending).
		Msg("housekeeping pass")
	return rep
}
