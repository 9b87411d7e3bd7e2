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
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	SubmitBatchSize    = 50
	SubmitBatchTimeout = 2 * time.Second
	SubmitPollTimeout  = 1 * time.Second
)

// SubmissionStore persists final answers and closes attempts.
type SubmissionStore interface {
	SubmitBatch(ctx context.Context, jobs []model.SubmissionJob) error
}

// SubmissionWorker consumes persist_submissions_queue in batches.
type SubmissionWorker struct {
	store SubmissionStore
	rdb   *redis.Client
	log   zerolog.Logger
}

func NewSubmissionWorker(store SubmissionStore, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "submission_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")

	batch := make([]model.SubmissionJob, 0, SubmitBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= SubmitBatchSize || time.Since(lastFlush) >= SubmitBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			return

		default:
			item, err := w.rdb.BLPop(ctx, SubmitPollTimeout, config.WorkerKey.PersistSubmissionsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			job, err := decodeSubmission(item[1])
			if err != nil {
				w.log.Error().Err(err).Msg("Dropping invalid submission job")
				metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistSubmissionsQueue, "invalid").Inc()
				continue
			}

			batch = append(batch, *job)
		}
	}
}

// decodeSubmission parses a queued submission. A job whose attempt id is not
// a UUID would fail every batch it joins, so it is rejected here.
func decodeSubmission(raw string) (*model.SubmissionJob, error) {
	var job model.SubmissionJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJob, err)
	}
	if _, err := uuid.Parse(job.AttemptID); err != nil {
		return nil, fmt.Errorf("%w: attempt_id %q: %v", errInvalidJob, job.AttemptID, err)
	}
	return &job, nil
}

// ----------------------------------------------------------------
// Batch write with per-job fallback
// ----------------------------------------------------------------

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []model.SubmissionJob) {
	if len(batch) == 0 {
		return
	}

	err := w.store.SubmitBatch(ctx, batch)
	if err == nil {
		metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistSubmissionsQueue, "ok").Add(float64(len(batch)))
		w.clearPending(ctx, batch)
		return
	}
	w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk submission failed, using fallback")

	done := make([]model.SubmissionJob, 0, len(batch))
	for _, job := range batch {
		if err := w.store.SubmitBatch(ctx, []model.SubmissionJob{job}); err != nil {
			w.log.Error().Err(err).Str("attempt_id", job.AttemptID).Msg("single submission failed, requeueing")
			metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistSubmissionsQueue, "retry").Inc()
			raw, _ := json.Marshal(job)
			w.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, raw)
			continue
		}
		metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistSubmissionsQueue, "ok").Inc()
		done = append(done, job)
	}
	w.clearPending(ctx, done)
}

// clearPending drops the submitted markers once the status is in PostgreSQL.
func (w *SubmissionWorker) clearPending(ctx context.Context, jobs []model.SubmissionJob) {
	if len(jobs) == 0 {
		return
	}

	pipe := w.rdb.Pipeline()
	for _, job := range jobs {
		pipe.Del(ctx, config.CacheKey.AttemptSubmittedKey(job.AttemptID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear submitted markers")
	}
}

// drain flushes what is queued at shutdown. Jobs requeued by a failed
// flush are left for the next start.
func (w *SubmissionWorker) drain(ctx context.Context) {
	pending, err := w.rdb.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue).Result()
	if err != nil || pending == 0 {
		return
	}

	batch := make([]model.SubmissionJob, 0, SubmitBatchSize)
	drained := 0
	for i := int64(0); i < pending; i++ {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSubmissionsQueue).Result()
		if err != nil {
			break
		}
		job, err := decodeSubmission(raw)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain dropped invalid job")
			metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistSubmissionsQueue, "invalid").Inc()
			continue
		}
		batch = append(batch, *job)
		if len(batch) >= SubmitBatchSize {
			w.flushSafe(ctx, batch)
			drained += len(batch)
			batch = batch[:0]
		}
	}
	w.flushSafe(ctx, batch)
	drained += len(batch)

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining submissions")
	}
}
