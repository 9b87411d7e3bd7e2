package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// AttemptRepository handles attempt and answer data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetAttempt retrieves an attempt by id. Returns pgx.ErrNoRows when absent.
func (r *AttemptRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.AttemptRecord, error) {
	a := &model.AttemptRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, section_index, question_index, time_remaining,
		        language, started_at, submitted_at, submit_reason, updated_at
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.SectionIndex, &a.QuestionIndex, &a.TimeRemaining,
		&a.Language, &a.StartedAt, &a.SubmittedAt, &a.SubmitReason, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnswers retrieves every stored answer of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]attempt.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id::text, selected_options, time_taken, marked_for_review, visited_at, answered_at
		 FROM attempt_answers WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []attempt.Answer
	for rows.Next() {
		var a attempt.Answer
		if err := rows.Scan(&a.QuestionID, &a.SelectedOptions, &a.TimeTaken, &a.MarkedForReview, &a.VisitedAt, &a.AnsweredAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// MarkOpened stamps the first open of an attempt and stores its initial
// countdown. Later calls leave both values alone.
func (r *AttemptRepository) MarkOpened(ctx context.Context, id uuid.UUID, timeRemaining int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET started_at = COALESCE(started_at, NOW()),
		     time_remaining = COALESCE(time_remaining, $2),
		     updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, timeRemaining, model.AttemptStatusInProgress)
	return err
}

// SaveAutosave writes a snapshot's answers and progress in one transaction.
// Snapshots of submitted attempts, and snapshots older than the stored
// progress, are ignored.
func (r *AttemptRepository) SaveAutosave(ctx context.Context, id uuid.UUID, snap attempt.Snapshot) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE attempts
			 SET section_index = $2, question_index = $3, time_remaining = $4, language = $5, updated_at = $6
			 WHERE id = $1 AND status = $7 AND updated_at <= $6`,
			id, snap.Cursor.Section, snap.Cursor.Question, snap.TimeRemaining, string(snap.Language),
			snap.TakenAt, model.AttemptStatusInProgress)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return upsertAnswers(ctx, tx, id, snap.Answers)
	})
}

// SubmitBatch stores the final answers of every job and marks the attempts
// SUBMITTED. Attempts already submitted keep their first submission.
func (r *AttemptRepository) SubmitBatch(ctx context.Context, jobs []model.SubmissionJob) error {
	n := len(jobs)
	ids := make([]uuid.UUID, 0, n)
	times := make([]int, 0, n)
	reasons := make([]string, 0, n)
	submittedAts := make([]time.Time, 0, n)

	for _, j := range jobs {
		id, err := uuid.Parse(j.AttemptID)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		times = append(times, j.TimeRemaining)
		reasons = append(reasons, string(j.Reason))
		submittedAts = append(submittedAts, j.SubmittedAt)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for i, j := range jobs {
			if err := upsertAnswers(ctx, tx, ids[i], j.Answers); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			UPDATE attempts AS a
			SET status = 'SUBMITTED',
			    time_remaining = t.time_remaining,
			    submit_reason = t.reason,
			    submitted_at = t.submitted_at,
			    updated_at = NOW()
			FROM (
				SELECT u.id, u.time_remaining, u.reason, u.submitted_at
				FROM UNNEST(
					$1::uuid[],
					$2::int[],
					$3::text[],
					$4::timestamptz[]
				) AS u (id, time_remaining, reason, submitted_at)
			) AS t
			WHERE a.id = t.id
			  AND a.status = 'IN_PROGRESS'`,
			ids, times, reasons, submittedAts)
		return err
	})
}

// upsertAnswers writes answers of an attempt that is still in progress.
func upsertAnswers(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, answers []attempt.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range answers {
		qid, err := uuid.Parse(a.QuestionID)
		if err != nil {
			continue
		}
		selected := a.SelectedOptions
		if selected == nil {
			selected = []string{}
		}
		batch.Queue(
			`INSERT INTO attempt_answers
			     (attempt_id, question_id, selected_options, time_taken, marked_for_review, visited_at, answered_at)
			 SELECT $1, $2, $3, $4, $5, $6, $7
			 WHERE EXISTS (SELECT 1 FROM attempts WHERE id = $1 AND status = 'IN_PROGRESS')
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_options = EXCLUDED.selected_options,
			     time_taken = EXCLUDED.time_taken,
			     marked_for_review = EXCLUDED.marked_for_review,
			     visited_at = COALESCE(attempt_answers.visited_at, EXCLUDED.visited_at),
			     answered_at = EXCLUDED.answered_at,
			     updated_at = NOW()`,
			attemptID, qid, selected, a.TimeTaken, a.MarkedForReview, a.VisitedAt, a.AnsweredAt,
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}
