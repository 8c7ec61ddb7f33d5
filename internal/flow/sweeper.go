package flow

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically resumes waiting executions whose timeout elapsed.
type Sweeper struct {
	engine  *Engine
	cron    *cron.Cron
	running atomic.Bool
}

// NewSweeper schedules engine.ResumeDue on spec (standard cron or
// descriptors such as "@every 1s").
func NewSweeper(engine *Engine, spec string) (*Sweeper, error) {
	s := &Sweeper{engine: engine, cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// tick skips a run while the previous one is still in progress.
func (s *Sweeper) tick() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	n, err := s.engine.ResumeDue(context.Background(), s.engine.now())
	if err != nil {
		log.Error().Err(err).Str("component", "flow-sweeper").Msg("resume due executions")
		return
	}
	if n > 0 {
		log.Debug().Str("component", "flow-sweeper").Int("resumed", n).Msg("wait timeouts handled")
	}
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
