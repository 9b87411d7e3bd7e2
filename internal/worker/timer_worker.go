package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AttemptClock is the part of the attempt service driven by TimerWorker.
type AttemptClock interface {
	Tick(ctx context.Context) int
	SyncAll(ctx context.Context, fresh time.Duration) int
}

// TimerWorker drives the countdown of every live attempt and the periodic
// autosave. The two loops run apart so a slow Redis round never holds up
// the clock.
type TimerWorker struct {
	attempts AttemptClock
	tick     time.Duration
	autosave time.Duration
	log      zerolog.Logger
}

func NewTimerWorker(attempts AttemptClock, autosave time.Duration, log zerolog.Logger) *TimerWorker {
	return &TimerWorker{
		attempts: attempts,
		tick:     time.Second,
		autosave: autosave,
		log:      log.With().Str("component", "timer_worker").Logger(),
	}
}

// Start runs until ctx is cancelled, then saves every live attempt once more.
func (w *TimerWorker) Start(ctx context.Context) {
	w.log.Info().Dur("autosave", w.autosave).Msg("TimerWorker started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.runClock(ctx)
	}()
	go func() {
		defer wg.Done()
		w.runAutosave(ctx)
	}()
	wg.Wait()

	saved := w.attempts.SyncAll(context.Background(), 0)
	w.log.Info().Int("saved", saved).Msg("TimerWorker stopped")
}

func (w *TimerWorker) runClock(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.attempts.Tick(ctx); n > 0 {
				w.log.Info().Int("submitted", n).Msg("Attempts auto-submitted on time up")
			}
		}
	}
}

func (w *TimerWorker) runAutosave(ctx context.Context) {
	ticker := time.NewTicker(w.autosave)
	defer ticker.Stop()

	// Attempts synced by the client within half an interval are skipped.
	fresh := w.autosave / 2
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.attempts.SyncAll(ctx, fresh); n > 0 {
				w.log.Debug().Int("saved", n).Msg("Autosaved live attempts")
			}
		}
	}
}
