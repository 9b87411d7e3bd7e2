package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptAPI is the attempt service as seen by the transport layer.
type AttemptAPI interface {
	Start(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error)
	View(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error)
	SetAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID string, selected []string) (*model.AttemptView, error)
	ToggleMark(ctx context.Context, attemptID uuid.UUID, studentID int, questionID string) (*model.AttemptView, error)
	Visit(ctx context.Context, attemptID uuid.UUID, studentID int, questionID string) (*model.AttemptView, error)
	Navigate(ctx context.Context, attemptID uuid.UUID, studentID int, sectionIndex, questionIndex int) (*model.AttemptView, error)
	Next(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error)
	Prev(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error)
	SetLanguage(ctx context.Context, attemptID uuid.UUID, studentID int, lang attempt.Language) (*model.AttemptView, error)
	Answers(ctx context.Context, attemptID uuid.UUID, studentID int) ([]attempt.Answer, error)
	Sync(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error)
	Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.SubmissionReceipt, error)
	Touch(attemptID uuid.UUID, studentID int) error
	Subscribe(attemptID uuid.UUID) (<-chan model.AttemptEvent, func())
}

// AttemptHandler serves the REST surface of a student's exam attempt.
type AttemptHandler struct {
	attempts AttemptAPI
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptAPI, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// errorStatus maps service errors to an HTTP status and error code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, service.ErrNotAttemptOwner):
		return http.StatusForbidden, response.ErrNotAttemptOwner
	case errors.Is(err, service.ErrAttemptSubmitted):
		return http.StatusConflict, response.ErrAttemptSubmitted
	case errors.Is(err, service.ErrSessionNotStarted):
		return http.StatusConflict, response.ErrSessionNotStarted
	case errors.Is(err, service.ErrTimeUp):
		return http.StatusConflict, response.ErrTimeUp
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrInvalidSelection):
		return http.StatusUnprocessableEntity, response.ErrInvalidSelection
	case errors.Is(err, attempt.ErrUnknownLanguage):
		return http.StatusUnprocessableEntity, response.ErrUnknownLanguage
	case errors.Is(err, attempt.ErrNoSections),
		errors.Is(err, attempt.ErrEmptySection),
		errors.Is(err, attempt.ErrDuplicateQuestion):
		return http.StatusUnprocessableEntity, response.ErrExamMisconfigured
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError || code == response.ErrExamMisconfigured {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Attempt request failed")
	}
	response.Fail(c, status, code)
}

// target resolves the attempt id and the caller. It writes the error
// response itself and reports false on failure.
func target(c *gin.Context) (uuid.UUID, int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, 0, false
	}
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	return id, claims.UserID, true
}

func (h *AttemptHandler) respond(c *gin.Context, view *model.AttemptView, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Start godoc
// POST /api/v1/student/attempts/:attempt_id/start
// Opens the attempt, or returns it as it is when already open.
func (h *AttemptHandler) Start(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.Start(c.Request.Context(), id, studentID)
	h.respond(c, view, err)
}

// View godoc
// GET /api/v1/student/attempts/:attempt_id
func (h *AttemptHandler) View(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.View(c.Request.Context(), id, studentID)
	h.respond(c, view, err)
}

// SetAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers/:question_id
func (h *AttemptHandler) SetAnswer(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	var req model.SetAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	view, err := h.attempts.SetAnswer(c.Request.Context(), id, studentID, c.Param("question_id"), req.SelectedOptions)
	h.respond(c, view, err)
}

// ToggleMark godoc
// POST /api/v1/student/attempts/:attempt_id/answers/:question_id/mark
func (h *AttemptHandler) ToggleMark(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.ToggleMark(c.Request.Context(), id, studentID, c.Param("question_id"))
	h.respond(c, view, err)
}

// Visit godoc
// POST /api/v1/student/attempts/:attempt_id/answers/:question_id/visit
func (h *AttemptHandler) Visit(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.Visit(c.Request.Context(), id, studentID, c.Param("question_id"))
	h.respond(c, view, err)
}

// Navigate godoc
// POST /api/v1/student/attempts/:attempt_id/navigate
// Out-of-range targets succeed with moved=false.
func (h *AttemptHandler) Navigate(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	view, err := h.attempts.Navigate(c.Request.Context(), id, studentID, *req.SectionIndex, *req.QuestionIndex)
	h.respond(c, view, err)
}

// Next godoc
// POST /api/v1/student/attempts/:attempt_id/next
func (h *AttemptHandler) Next(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.Next(c.Request.Context(), id, studentID)
	h.respond(c, view, err)
}

// Prev godoc
// POST /api/v1/student/attempts/:attempt_id/prev
func (h *AttemptHandler) Prev(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.Prev(c.Request.Context(), id, studentID)
	h.respond(c, view, err)
}

// SetLanguage godoc
// PUT /api/v1/student/attempts/:attempt_id/language
func (h *AttemptHandler) SetLanguage(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	var req model.LanguageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	view, err := h.attempts.SetLanguage(c.Request.Context(), id, studentID, req.Language)
	h.respond(c, view, err)
}

// Answers godoc
// GET /api/v1/student/attempts/:attempt_id/answers
func (h *AttemptHandler) Answers(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	answers, err := h.attempts.Answers(c.Request.Context(), id, studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if answers == nil {
		answers = []attempt.Answer{}
	}
	response.Success(c, http.StatusOK, answers)
}

// Sync godoc
// POST /api/v1/student/attempts/:attempt_id/sync
func (h *AttemptHandler) Sync(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.attempts.Sync(c.Request.Context(), id, studentID)
	h.respond(c, view, err)
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *AttemptHandler) Submit(c *gin.Context) {
	id, studentID, ok := target(c)
	if !ok {
		return
	}
	receipt, err := h.attempts.Submit(c.Request.Context(), id, studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, receipt)
}
