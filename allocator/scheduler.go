package allocator

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSchedule runs a sweep every 15 seconds.
const DefaultSchedule = "*/15 * * * * *"

// cronLogger routes cron's internal logging into zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("scheduler: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("scheduler: " + msg)
}

// Scheduler runs periodic jobs with seconds precision. A job that is still
// running when its next tick fires is skipped rather than overlapped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewScheduler(ctx context.Context) *Scheduler {
	logger := cronLogger{l: log.Logger}
	return &Scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Add registers fn under spec; fn receives the scheduler's context.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		if s.ctx.Err() != nil {
			return
		}
		log.Debug().Str("job", name).Msg("scheduler: running job")
		fn(s.ctx)
	})
	if err != nil {
		return eris.Wrapf(err, "schedule %s with %q", name, spec)
	}
	log.Info().Str("job", name).Str("schedule", spec).Msg("scheduler: job registered")
	return nil
}

// AddSweep schedules c.Sweep.
func (s *Scheduler) AddSweep(spec string, c *Controller) error {
	return s.Add("sweep", spec, func(ctx context.Context) {
		if _, err := c.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler: sweep failed")
		}
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("scheduler: timed out waiting for running jobs")
	}
}
