package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// SubmitReason records why an attempt was submitted.
type SubmitReason string

const (
	SubmitReasonManual SubmitReason = "manual"
	SubmitReasonTimeUp SubmitReason = "time_up"
)

// AttemptRecord is a row of the attempts table.
type AttemptRecord struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	StudentID     int           `json:"student_id"`
	Status        AttemptStatus `json:"status"`
	SectionIndex  int           `json:"section_index"`
	QuestionIndex int           `json:"question_index"`
	// TimeRemaining is nil until the attempt is first opened.
	TimeRemaining *int          `json:"time_remaining,omitempty"`
	Language      string        `json:"language"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	SubmitReason  *SubmitReason `json:"submit_reason,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// AttemptPayload is everything needed to initialise an attempt session.
type AttemptPayload struct {
	AttemptID            uuid.UUID         `json:"attempt_id"`
	Exam                 attempt.ExamInfo  `json:"exam"`
	Sections             []attempt.Section `json:"sections"`
	Answers              []attempt.Answer  `json:"answers"`
	CurrentSectionIndex  int               `json:"current_section_index"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	TimeRemaining        int               `json:"time_remaining"`
	Language             attempt.Language  `json:"language"`
}
