package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// errInvalidJob marks a queued job that can never be persisted. Such jobs
// are dropped instead of requeued.
var errInvalidJob = errors.New("invalid job")

// AutosaveStore persists attempt snapshots.
type AutosaveStore interface {
	SaveAutosave(ctx context.Context, id uuid.UUID, snap attempt.Snapshot) error
}

// AutosaveWorker consumes persist_answers_queue and writes snapshots to PostgreSQL.
type AutosaveWorker struct {
	store AutosaveStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AutosaveStore, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	job, err := decodeAutosave(result[1])
	if err != nil {
		w.log.Error().Err(err).Msg("Dropping invalid autosave job")
		metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistAnswersQueue, "invalid").Inc()
		return
	}

	if err := w.store.SaveAutosave(ctx, job.id, job.Snapshot); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", job.AttemptID).
			Int("student_id", job.StudentID).
			Msg("Persist error, retrying in 5s")
		metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistAnswersQueue, "retry").Inc()
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result[1])
		time.Sleep(5 * time.Second)
		return
	}
	metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistAnswersQueue, "ok").Inc()
}

// autosaveJob is a decoded queue entry with its attempt id parsed.
type autosaveJob struct {
	model.AutosaveJob
	id uuid.UUID
}

func decodeAutosave(raw string) (*autosaveJob, error) {
	var job autosaveJob
	if err := json.Unmarshal([]byte(raw), &job.AutosaveJob); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJob, err)
	}
	id, err := uuid.Parse(job.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("%w: attempt_id %q: %v", errInvalidJob, job.AttemptID, err)
	}
	job.id = id
	if job.Snapshot.AttemptID == "" {
		job.Snapshot.AttemptID = job.AttemptID
	}
	return &job, nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		job, err := decodeAutosave(result)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain dropped invalid job")
			metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistAnswersQueue, "invalid").Inc()
			continue
		}

		if err := w.store.SaveAutosave(ctx, job.id, job.Snapshot); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
