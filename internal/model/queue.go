package model

import (
	"time"

	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// AutosaveJob is pushed to config.WorkerKey.PersistAnswersQueue.
type AutosaveJob struct {
	AttemptID string           `json:"attempt_id"`
	StudentID int              `json:"student_id"`
	Snapshot  attempt.Snapshot `json:"snapshot"`
}

// SubmissionJob is pushed to config.WorkerKey.PersistSubmissionsQueue.
type SubmissionJob struct {
	AttemptID     string           `json:"attempt_id"`
	StudentID     int              `json:"student_id"`
	Reason        SubmitReason     `json:"reason"`
	Answers       []attempt.Answer `json:"answers"`
	TimeRemaining int              `json:"time_remaining"`
	SubmittedAt   time.Time        `json:"submitted_at"`
}
