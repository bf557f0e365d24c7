package engine

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers ticks on a fixed cadence: either every N minutes or
// once a day at a fixed time, expressed as a cron spec by the config
// layer. Overlap protection lives in Engine.Tick, so a slow tick makes
// the next trigger a recorded no-op rather than a pile-up.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	log    *slog.Logger
}

// NewScheduler creates a Scheduler that runs the engine's tick on spec.
func NewScheduler(eng *Engine, spec string, log *slog.Logger) (*Scheduler, error) {
	c := cron.New()

	s := &Scheduler{
		cron:   c,
		engine: eng,
		log:    log,
	}

	if _, err := c.AddFunc(spec, s.runTick); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins running scheduled ticks.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop gracefully stops the scheduler. The returned context is done once
// running jobs have finished, so in-flight notification commits complete
// before shutdown.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// Entries returns the registered cron entries for inspection.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) runTick() {
	ctx := context.Background()
	s.log.Info("scheduled tick starting")
	if err := s.engine.Tick(ctx); err != nil {
		s.log.Error("scheduled tick failed", "error", err)
	}
}
