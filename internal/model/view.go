package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// SectionSummary is one entry of the section tabs.
type SectionSummary struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	NameHi string               `json:"name_hi,omitempty"`
	Stats  attempt.SectionStats `json:"stats"`
}

// AttemptView is the read projection rendered by the exam screen.
type AttemptView struct {
	AttemptID              uuid.UUID                 `json:"attempt_id"`
	ExamID                 string                    `json:"exam_id"`
	Title                  string                    `json:"title"`
	TitleHi                string                    `json:"title_hi,omitempty"`
	AllowSectionNavigation bool                      `json:"allow_section_navigation"`
	Cursor                 attempt.Cursor            `json:"cursor"`
	CurrentSection         *SectionSummary           `json:"current_section,omitempty"`
	Instructions           string                    `json:"instructions,omitempty"`
	InstructionsHi         string                    `json:"instructions_hi,omitempty"`
	CurrentQuestion        *attempt.Question         `json:"current_question,omitempty"`
	CurrentAnswer          *attempt.Answer           `json:"current_answer,omitempty"`
	Statuses               map[string]attempt.Status `json:"statuses"`
	Sections               []SectionSummary          `json:"sections"`
	TimeRemaining          int                       `json:"time_remaining"`
	Language               attempt.Language          `json:"language"`
	// Moved is set by navigation calls only.
	Moved *bool `json:"moved,omitempty"`
}

// SubmissionReceipt acknowledges a queued submission.
type SubmissionReceipt struct {
	AttemptID     uuid.UUID    `json:"attempt_id"`
	Reason        SubmitReason `json:"reason"`
	Answered      int          `json:"answered"`
	Total         int          `json:"total"`
	TimeRemaining int          `json:"time_remaining"`
	SubmittedAt   time.Time    `json:"submitted_at"`
}

// AttemptEventType enumerates server-initiated attempt events.
type AttemptEventType string

const (
	AttemptEventTime      AttemptEventType = "time"
	AttemptEventSubmitted AttemptEventType = "submitted"
)

// AttemptEvent is pushed to subscribers of a live attempt.
type AttemptEvent struct {
	Type          AttemptEventType   `json:"type"`
	TimeRemaining int                `json:"time_remaining"`
	Receipt       *SubmissionReceipt `json:"receipt,omitempty"`
}
