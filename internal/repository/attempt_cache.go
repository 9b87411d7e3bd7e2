package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ErrCacheMiss is returned when a key is absent from Redis.
var ErrCacheMiss = errors.New("cache miss")

// AttemptCache keeps the hot attempt data in Redis: the exam tree, the last
// autosave snapshot, and the persistence queues.
type AttemptCache struct {
	rdb         *redis.Client
	treeTTL     time.Duration
	snapshotTTL time.Duration
}

// NewAttemptCache creates a new AttemptCache.
func NewAttemptCache(rdb *redis.Client, treeTTL, snapshotTTL time.Duration) *AttemptCache {
	return &AttemptCache{rdb: rdb, treeTTL: treeTTL, snapshotTTL: snapshotTTL}
}

// GetExamTree retrieves the cached exam tree.
func (c *AttemptCache) GetExamTree(ctx context.Context, examID uuid.UUID) (*model.ExamTree, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.ExamTreeKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get exam tree: %w", err)
	}

	var tree model.ExamTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal exam tree: %w", err)
	}
	relinkPassages(&tree)
	return &tree, nil
}

// SetExamTree caches an exam tree.
func (c *AttemptCache) SetExamTree(ctx context.Context, tree *model.ExamTree) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal exam tree: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.ExamTreeKey(tree.ExamID.String()), data, c.treeTTL).Err()
}

// GetSnapshot retrieves the last autosaved snapshot of an attempt.
func (c *AttemptCache) GetSnapshot(ctx context.Context, attemptID string) (*attempt.Snapshot, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.AttemptSnapshotKey(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap attempt.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// PushAutosave stores the snapshot and queues it for PostgreSQL in one
// pipeline.
func (c *AttemptCache) PushAutosave(ctx context.Context, job model.AutosaveJob) error {
	snap, err := json.Marshal(job.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal autosave job: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AttemptSnapshotKey(job.AttemptID), snap, c.snapshotTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push autosave: %w", err)
	}
	return nil
}

// PushSubmission queues the final answers, drops the snapshot and flags the
// attempt as submitted until the worker persists it.
func (c *AttemptCache) PushSubmission(ctx context.Context, job model.SubmissionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal submission job: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AttemptSubmittedKey(job.AttemptID), string(job.Reason), c.snapshotTTL)
	pipe.Del(ctx, config.CacheKey.AttemptSnapshotKey(job.AttemptID))
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push submission: %w", err)
	}
	return nil
}

// IsSubmitted reports whether a submission of the attempt is pending.
func (c *AttemptCache) IsSubmitted(ctx context.Context, attemptID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, config.CacheKey.AttemptSubmittedKey(attemptID)).Result()
	if err != nil {
		return false, fmt.Errorf("check submitted: %w", err)
	}
	return n > 0, nil
}

// relinkPassages restores pointer sharing of passages lost by JSON decoding.
func relinkPassages(tree *model.ExamTree) {
	seen := make(map[string]*attempt.Passage)
	for si := range tree.Sections {
		qs := tree.Sections[si].Questions
		for qi := range qs {
			p := qs[qi].Passage
			if p == nil {
				continue
			}
			if shared, ok := seen[p.ID]; ok {
				qs[qi].Passage = shared
				continue
			}
			seen[p.ID] = p
		}
	}
}
