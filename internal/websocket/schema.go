package websocket

import (
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionMark     Action = "mark"
	ActionVisit    Action = "visit"
	ActionNavigate Action = "navigate"
	ActionNext     Action = "next"
	ActionPrev     Action = "prev"
	ActionLanguage Action = "language"
	ActionSync     Action = "sync"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// MetricLabel returns the action for use as a metric label. Anything the
// server does not handle collapses into "unknown".
func (a Action) MetricLabel() string {
	switch a {
	case ActionAnswer, ActionMark, ActionVisit, ActionNavigate, ActionNext,
		ActionPrev, ActionLanguage, ActionSync, ActionSubmit, ActionPing:
		return string(a)
	}
	return "unknown"
}

// Request is every client message. Which fields are read depends on Action;
// RequestID is echoed back on the reply.
type Request struct {
	Action          Action           `json:"action"`
	RequestID       string           `json:"request_id,omitempty"`
	QuestionID      string           `json:"question_id,omitempty"`
	SelectedOptions []string         `json:"selected_options,omitempty"`
	SectionIndex    *int             `json:"section_index,omitempty"`
	QuestionIndex   *int             `json:"question_index,omitempty"`
	Language        attempt.Language `json:"language,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventSubmitted Event = "submitted"
	EventTime      Event = "time"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StateResponse carries the attempt view after an action.
type StateResponse struct {
	Event     Event              `json:"event"`
	RequestID string             `json:"request_id,omitempty"`
	View      *model.AttemptView `json:"view"`
}

// SubmittedResponse is sent once when the attempt is submitted, by the
// student or by the timer.
type SubmittedResponse struct {
	Event   Event                    `json:"event"`
	Receipt *model.SubmissionReceipt `json:"receipt"`
}

// TimeResponse resynchronises the client countdown.
type TimeResponse struct {
	Event         Event `json:"event"`
	TimeRemaining int   `json:"time_remaining"`
}

type ErrorResponse struct {
	Event     Event             `json:"event"`
	RequestID string            `json:"request_id,omitempty"`
	Code      response.ErrCode  `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
}
