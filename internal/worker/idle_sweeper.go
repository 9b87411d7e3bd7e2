package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// IdleEvicter is the part of the attempt service driven by IdleSweeper.
type IdleEvicter interface {
	SweepIdle(ctx context.Context, idle time.Duration) int
}

// IdleSweeper evicts attempt sessions nobody has touched for a while. Their
// state is saved first and rehydrated on the next start.
type IdleSweeper struct {
	attempts IdleEvicter
	spec     string
	idle     time.Duration
	log      zerolog.Logger
}

func NewIdleSweeper(attempts IdleEvicter, spec string, idle time.Duration, log zerolog.Logger) *IdleSweeper {
	return &IdleSweeper{
		attempts: attempts,
		spec:     spec,
		idle:     idle,
		log:      log.With().Str("component", "idle_sweeper").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is cancelled.
func (w *IdleSweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(w.spec, func() {
		w.attempts.SweepIdle(ctx, w.idle)
	})
	if err != nil {
		w.log.Error().Err(err).Str("spec", w.spec).Msg("Failed to add cron job")
		return err
	}

	c.Start()
	w.log.Info().Str("spec", w.spec).Dur("idle", w.idle).Msg("IdleSweeper started")

	<-ctx.Done()

	<-c.Stop().Done()
	w.log.Info().Msg("IdleSweeper stopped")
	return nil
}
