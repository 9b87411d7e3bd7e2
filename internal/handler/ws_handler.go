package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
	"golang.org/x/time/rate"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt over a WebSocket.
type WSHandler struct {
	attempts AttemptAPI
	log      zerolog.Logger
	upgrader websocket.Upgrader
	msgRate  rate.Limit
	msgBurst int
}

// NewWSHandler creates a new WSHandler. Each connection may send ratePerSec
// messages per second with bursts of burst.
func NewWSHandler(attempts AttemptAPI, log zerolog.Logger, allowedOrigins []string, ratePerSec float64, burst int) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
		msgRate:  rate.Limit(ratePerSec),
		msgBurst: burst,
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Opens the attempt and accepts state machine actions until the attempt is
// submitted or the client goes away.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, studentID, ok := target(c)
	if !ok {
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(rawConn)
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	view, err := h.attempts.Start(ctx, attemptID, studentID)
	if err != nil {
		_, code := errorStatus(err)
		_ = conn.WriteError("", code, nil)
		return
	}
	if err := conn.WriteTyped(ws.StateResponse{Event: ws.EventState, View: view}); err != nil {
		return
	}

	var once sync.Once
	finish := func(receipt *model.SubmissionReceipt) {
		once.Do(func() {
			_ = conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Receipt: receipt})
			metrics.StreamMessages.WithLabelValues(string(ws.EventSubmitted), "out").Inc()
			cancel()
			_ = conn.CloseWith(websocket.CloseNormalClosure, "attempt submitted")
		})
	}

	events, unsubscribe := h.attempts.Subscribe(attemptID)
	defer unsubscribe()
	go h.forwardEvents(ctx, conn, events, finish)

	wsLog.Info().Msg("Student connected")
	submitted := h.readLoop(ctx, conn, attemptID, studentID, wsLog, finish)

	if !submitted {
		// Keep what the student did before the connection dropped.
		if _, err := h.attempts.Sync(context.Background(), attemptID, studentID); err != nil &&
			!errors.Is(err, service.ErrSessionNotStarted) {
			wsLog.Warn().Err(err).Msg("Sync on disconnect failed")
		}
	}
	wsLog.Info().Bool("submitted", submitted).Msg("Student disconnected")
}

// forwardEvents relays timer and submission events. A submission closes
// the stream.
func (h *WSHandler) forwardEvents(ctx context.Context, conn *ws.Conn, events <-chan model.AttemptEvent, finish func(*model.SubmissionReceipt)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case model.AttemptEventTime:
				_ = conn.WriteTyped(ws.TimeResponse{Event: ws.EventTime, TimeRemaining: ev.TimeRemaining})
				metrics.StreamMessages.WithLabelValues(string(ws.EventTime), "out").Inc()
			case model.AttemptEventSubmitted:
				finish(ev.Receipt)
				return
			}
		}
	}
}

// readLoop dispatches client actions until the connection ends. It reports
// whether the attempt was submitted.
func (h *WSHandler) readLoop(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, wsLog zerolog.Logger, finish func(*model.SubmissionReceipt)) bool {
	limiter := rate.NewLimiter(h.msgRate, h.msgBurst)

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return true
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return false
		}
		if !limiter.Allow() {
			_ = conn.WriteError(msg.RequestID, response.ErrRateLimitExceeded, nil)
			continue
		}
		metrics.StreamMessages.WithLabelValues(msg.Action.MetricLabel(), "in").Inc()

		if h.dispatch(ctx, conn, attemptID, studentID, &msg, finish) {
			return true
		}
	}
}

// dispatch runs one action and writes the reply. It reports true once the
// attempt is submitted.
func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, msg *ws.Request, finish func(*model.SubmissionReceipt)) bool {
	var (
		view *model.AttemptView
		err  error
	)

	switch msg.Action {
	case ws.ActionPing:
		if err := h.attempts.Touch(attemptID, studentID); err != nil {
			h.writeErr(conn, msg.RequestID, err)
			return false
		}
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong, RequestID: msg.RequestID})
		return false

	case ws.ActionAnswer:
		view, err = h.attempts.SetAnswer(ctx, attemptID, studentID, msg.QuestionID, msg.SelectedOptions)
	case ws.ActionMark:
		view, err = h.attempts.ToggleMark(ctx, attemptID, studentID, msg.QuestionID)
	case ws.ActionVisit:
		view, err = h.attempts.Visit(ctx, attemptID, studentID, msg.QuestionID)
	case ws.ActionNavigate:
		if msg.SectionIndex == nil || msg.QuestionIndex == nil {
			_ = conn.WriteError(msg.RequestID, response.ErrValidation, map[string]string{
				"section_index":  "section_index and question_index are required",
				"question_index": "section_index and question_index are required",
			})
			return false
		}
		view, err = h.attempts.Navigate(ctx, attemptID, studentID, *msg.SectionIndex, *msg.QuestionIndex)
	case ws.ActionNext:
		view, err = h.attempts.Next(ctx, attemptID, studentID)
	case ws.ActionPrev:
		view, err = h.attempts.Prev(ctx, attemptID, studentID)
	case ws.ActionLanguage:
		view, err = h.attempts.SetLanguage(ctx, attemptID, studentID, msg.Language)
	case ws.ActionSync:
		view, err = h.attempts.Sync(ctx, attemptID, studentID)

	case ws.ActionSubmit:
		receipt, err := h.attempts.Submit(ctx, attemptID, studentID)
		if err != nil {
			h.writeErr(conn, msg.RequestID, err)
			return false
		}
		finish(receipt)
		return true

	default:
		_ = conn.WriteError(msg.RequestID, response.ErrUnknownAction, map[string]string{"action": string(msg.Action)})
		return false
	}

	if err != nil {
		h.writeErr(conn, msg.RequestID, err)
		return false
	}
	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, RequestID: msg.RequestID, View: view})
	return false
}

func (h *WSHandler) writeErr(conn *ws.Conn, requestID string, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Attempt action failed")
	}
	_ = conn.WriteError(requestID, code, nil)
}
