package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// Domain Errors
var (
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAttemptSubmitted  = errors.New("attempt already submitted")
	ErrNotAttemptOwner   = errors.New("attempt belongs to another student")
	ErrSessionNotStarted = errors.New("attempt session not started")
	ErrUnknownQuestion   = errors.New("question is not part of this exam")
	ErrInvalidSelection  = errors.New("selection does not match question options")
	ErrTimeUp            = errors.New("attempt time is up")
)

// AttemptStore is the persistent attempt state.
type AttemptStore interface {
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.AttemptRecord, error)
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]attempt.Answer, error)
	MarkOpened(ctx context.Context, id uuid.UUID, timeRemaining int) error
}

// ExamStore loads exam content.
type ExamStore interface {
	LoadExamTree(ctx context.Context, examID uuid.UUID) (*model.ExamTree, error)
}

// AttemptCache is the hot state in Redis plus the persistence queues.
type AttemptCache interface {
	GetExamTree(ctx context.Context, examID uuid.UUID) (*model.ExamTree, error)
	SetExamTree(ctx context.Context, tree *model.ExamTree) error
	GetSnapshot(ctx context.Context, attemptID string) (*attempt.Snapshot, error)
	PushAutosave(ctx context.Context, job model.AutosaveJob) error
	PushSubmission(ctx context.Context, job model.SubmissionJob) error
	IsSubmitted(ctx context.Context, attemptID string) (bool, error)
}

// AttemptService hosts one attempt.Session per active attempt and connects
// it to storage, the countdown and the submission pipeline.
type AttemptService struct {
	attempts AttemptStore
	exams    ExamStore
	cache    AttemptCache
	registry *Registry
	events   *eventHub
	now      func() time.Time
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	exams ExamStore,
	cache AttemptCache,
	registry *Registry,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		exams:    exams,
		cache:    cache,
		registry: registry,
		events:   newEventHub(),
		now:      time.Now,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start loads an attempt into memory, or returns the already live session.
func (s *AttemptService) Start(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	if la, ok := s.registry.Get(attemptID); ok {
		view, err := s.withLive(la, studentID, "start", func(*liveAttempt) error { return nil })
		if !errors.Is(err, ErrSessionNotStarted) {
			return view, err
		}
	}

	rec, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if rec.StudentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	if rec.Status == model.AttemptStatusSubmitted {
		return nil, ErrAttemptSubmitted
	}
	pending, err := s.cache.IsSubmitted(ctx, attemptID.String())
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrAttemptSubmitted
	}

	tree, err := s.examTree(ctx, rec.ExamID)
	if err != nil {
		return nil, err
	}

	payload, source, err := s.buildPayload(ctx, rec, tree)
	if err != nil {
		return nil, err
	}

	sess := attempt.New(attempt.WithClock(s.now))
	err = sess.Initialize(
		payload.AttemptID.String(),
		payload.Exam,
		payload.Sections,
		payload.Answers,
		attempt.Cursor{Section: payload.CurrentSectionIndex, Question: payload.CurrentQuestionIndex},
		payload.TimeRemaining,
		payload.Language,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize attempt %s: %w", attemptID, err)
	}

	now := s.now()
	la, added := s.registry.Add(&liveAttempt{
		id:         attemptID,
		studentID:  studentID,
		session:    sess,
		lastActive: now,
		lastSaved:  now,
		lastTick:   now,
	})
	if !added {
		return s.withLive(la, studentID, "start", func(*liveAttempt) error { return nil })
	}

	metrics.AttemptsStarted.WithLabelValues(source).Inc()
	metrics.LiveSessions.Set(float64(s.registry.Len()))
	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("student_id", studentID).
		Str("source", source).
		Int("time_remaining", payload.TimeRemaining).
		Msg("Attempt session started")

	la.mu.Lock()
	defer la.mu.Unlock()
	return buildView(la.id, la.session), nil
}

// examTree reads the exam from Redis, falling back to PostgreSQL and
// refilling the cache.
func (s *AttemptService) examTree(ctx context.Context, examID uuid.UUID) (*model.ExamTree, error) {
	tree, err := s.cache.GetExamTree(ctx, examID)
	if err == nil {
		return tree, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam tree cache read failed, using database")
	}

	tree, err = s.exams.LoadExamTree(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load exam tree: %w", err)
	}
	if err := s.cache.SetExamTree(ctx, tree); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache exam tree")
	}
	return tree, nil
}

// buildPayload merges the stored attempt with the newest autosave snapshot.
// Wall time elapsed since the state was saved is charged to the countdown.
func (s *AttemptService) buildPayload(ctx context.Context, rec *model.AttemptRecord, tree *model.ExamTree) (*model.AttemptPayload, string, error) {
	p := &model.AttemptPayload{
		AttemptID:            rec.ID,
		Exam:                 tree.Exam,
		Sections:             tree.Sections,
		CurrentSectionIndex:  rec.SectionIndex,
		CurrentQuestionIndex: rec.QuestionIndex,
		Language:             attempt.Language(rec.Language),
	}
	now := s.now()

	snap, err := s.cache.GetSnapshot(ctx, rec.ID.String())
	if err != nil && !errors.Is(err, repository.ErrCacheMiss) {
		s.log.Warn().Err(err).Str("attempt_id", rec.ID.String()).Msg("Snapshot read failed, using database")
	}

	source := "database"
	switch {
	case snap != nil && rec.TimeRemaining != nil && !snap.TakenAt.Before(rec.UpdatedAt):
		source = "snapshot"
		p.Answers = snap.Answers
		p.CurrentSectionIndex = snap.Cursor.Section
		p.CurrentQuestionIndex = snap.Cursor.Question
		p.Language = snap.Language
		p.TimeRemaining = snap.TimeRemaining - elapsedSeconds(snap.TakenAt, now)

	case rec.TimeRemaining == nil:
		source = "new"
		p.TimeRemaining = tree.Exam.DurationSeconds()
		if err := s.attempts.MarkOpened(ctx, rec.ID, p.TimeRemaining); err != nil {
			return nil, "", fmt.Errorf("mark opened: %w", err)
		}

	default:
		answers, err := s.attempts.ListAnswers(ctx, rec.ID)
		if err != nil {
			return nil, "", fmt.Errorf("list answers: %w", err)
		}
		p.Answers = answers
		p.TimeRemaining = *rec.TimeRemaining - elapsedSeconds(rec.UpdatedAt, now)
	}

	if p.TimeRemaining < 0 {
		p.TimeRemaining = 0
	}
	if !p.Language.Valid() {
		p.Language = attempt.LanguageEnglish
	}
	if !cursorInRange(tree.Sections, p.CurrentSectionIndex, p.CurrentQuestionIndex) {
		p.CurrentSectionIndex, p.CurrentQuestionIndex = 0, 0
	}
	return p, source, nil
}

func elapsedSeconds(since, now time.Time) int {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / time.Second)
}

func cursorInRange(sections []attempt.Section, si, qi int) bool {
	return si >= 0 && si < len(sections) && qi >= 0 && qi < len(sections[si].Questions)
}

// withAttempt runs fn on the live session of attemptID and returns the
// resulting view.
func (s *AttemptService) withAttempt(attemptID uuid.UUID, studentID int, op string, fn func(*liveAttempt) error) (*model.AttemptView, error) {
	la, ok := s.registry.Get(attemptID)
	if !ok {
		return nil, ErrSessionNotStarted
	}
	return s.withLive(la, studentID, op, fn)
}

func (s *AttemptService) withLive(la *liveAttempt, studentID int, op string, fn func(*liveAttempt) error) (*model.AttemptView, error) {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.closed {
		return nil, ErrSessionNotStarted
	}
	if la.studentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	if err := fn(la); err != nil {
		return nil, err
	}
	la.lastActive = s.now()
	metrics.AttemptOps.WithLabelValues(op).Inc()
	return buildView(la.id, la.session), nil
}

// mutateAttempt is withAttempt for operations that change the answer sheet
// or the cursor. They are refused once the countdown has reached zero.
func (s *AttemptService) mutateAttempt(attemptID uuid.UUID, studentID int, op string, fn func(*liveAttempt) error) (*model.AttemptView, error) {
	return s.withAttempt(attemptID, studentID, op, func(la *liveAttempt) error {
		if la.session.Expired() {
			return ErrTimeUp
		}
		return fn(la)
	})
}

// SetAnswer replaces the selection of a question. An empty selection clears it.
func (s *AttemptService) SetAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID string, selected []string) (*model.AttemptView, error) {
	return s.mutateAttempt(attemptID, studentID, "answer", func(la *liveAttempt) error {
		q, err := findQuestion(la.session, questionID)
		if err != nil {
			return err
		}
		if err := checkSelection(q, selected); err != nil {
			return err
		}
		la.session.SetAnswer(questionID, selected)
		return nil
	})
}

// ToggleMark flips the review flag of a question.
func (s *AttemptService) ToggleMark(ctx context.Context, attemptID uuid.UUID, studentID int, questionID string) (*model.AttemptView, error) {
	return s.mutateAttempt(attemptID, studentID, "mark", func(la *liveAttempt) error {
		if _, err := findQuestion(la.session, questionID); err != nil {
			return err
		}
		la.session.ToggleMarkForReview(questionID)
		return nil
	})
}

// Visit records that a question was displayed without moving the cursor.
func (s *AttemptService) Visit(ctx context.Context, attemptID uuid.UUID, studentID int, questionID string) (*model.AttemptView, error) {
	return s.mutateAttempt(attemptID, studentID, "visit", func(la *liveAttempt) error {
		if _, err := findQuestion(la.session, questionID); err != nil {
			return err
		}
		la.session.MarkAsVisited(questionID)
		return nil
	})
}

// Navigate jumps to a question. The view reports whether the cursor moved.
func (s *AttemptService) Navigate(ctx context.Context, attemptID uuid.UUID, studentID int, sectionIndex, questionIndex int) (*model.AttemptView, error) {
	return s.move(attemptID, studentID, "navigate", func(sess *attempt.Session) bool {
		return sess.NavigateTo(sectionIndex, questionIndex)
	})
}

// Next advances to the following question.
func (s *AttemptService) Next(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	return s.move(attemptID, studentID, "next", (*attempt.Session).NextQuestion)
}

// Prev steps back to the preceding question.
func (s *AttemptService) Prev(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	return s.move(attemptID, studentID, "prev", (*attempt.Session).PrevQuestion)
}

func (s *AttemptService) move(attemptID uuid.UUID, studentID int, op string, fn func(*attempt.Session) bool) (*model.AttemptView, error) {
	var moved bool
	view, err := s.mutateAttempt(attemptID, studentID, op, func(la *liveAttempt) error {
		moved = fn(la.session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	view.Moved = &moved
	return view, nil
}

// SetLanguage switches the display language.
func (s *AttemptService) SetLanguage(ctx context.Context, attemptID uuid.UUID, studentID int, lang attempt.Language) (*model.AttemptView, error) {
	return s.mutateAttempt(attemptID, studentID, "language", func(la *liveAttempt) error {
		return la.session.SetLanguage(lang)
	})
}

// View returns the current projection of a live attempt.
func (s *AttemptService) View(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	return s.withAttempt(attemptID, studentID, "view", func(*liveAttempt) error { return nil })
}

// Answers returns every recorded answer of a live attempt.
func (s *AttemptService) Answers(ctx context.Context, attemptID uuid.UUID, studentID int) ([]attempt.Answer, error) {
	var answers []attempt.Answer
	_, err := s.withAttempt(attemptID, studentID, "answers", func(la *liveAttempt) error {
		answers = la.session.AllAnswers()
		return nil
	})
	return answers, err
}

// Sync writes the attempt snapshot to Redis and queues it for PostgreSQL.
func (s *AttemptService) Sync(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	return s.withAttempt(attemptID, studentID, "sync", func(la *liveAttempt) error {
		return s.syncLocked(ctx, la)
	})
}

func (s *AttemptService) syncLocked(ctx context.Context, la *liveAttempt) error {
	err := s.cache.PushAutosave(ctx, model.AutosaveJob{
		AttemptID: la.id.String(),
		StudentID: la.studentID,
		Snapshot:  la.session.Snapshot(),
	})
	if err != nil {
		return err
	}
	la.lastSaved = s.now()
	return nil
}

// Submit hands the final answers to the submission queue and closes the
// session.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.SubmissionReceipt, error) {
	la, ok := s.registry.Get(attemptID)
	if !ok {
		return nil, ErrSessionNotStarted
	}

	la.mu.Lock()
	defer la.mu.Unlock()
	if la.closed {
		return nil, ErrSessionNotStarted
	}
	if la.studentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	return s.submitLocked(ctx, la, model.SubmitReasonManual)
}

func (s *AttemptService) submitLocked(ctx context.Context, la *liveAttempt, reason model.SubmitReason) (*model.SubmissionReceipt, error) {
	sess := la.session
	answers := sess.AllAnswers()
	now := s.now()

	job := model.SubmissionJob{
		AttemptID:     la.id.String(),
		StudentID:     la.studentID,
		Reason:        reason,
		Answers:       answers,
		TimeRemaining: sess.TimeRemaining(),
		SubmittedAt:   now,
	}
	if err := s.cache.PushSubmission(ctx, job); err != nil {
		return nil, err
	}

	answered := 0
	for _, a := range answers {
		if a.Answered() {
			answered++
		}
	}
	receipt := &model.SubmissionReceipt{
		AttemptID:     la.id,
		Reason:        reason,
		Answered:      answered,
		Total:         countQuestions(sess.Sections()),
		TimeRemaining: job.TimeRemaining,
		SubmittedAt:   now,
	}

	sess.Reset()
	s.closeLocked(la)

	metrics.AttemptsSubmitted.WithLabelValues(string(reason)).Inc()
	s.events.publish(la.id, model.AttemptEvent{Type: model.AttemptEventSubmitted, Receipt: receipt})
	s.log.Info().
		Str("attempt_id", la.id.String()).
		Int("student_id", la.studentID).
		Str("reason", string(reason)).
		Int("answered", answered).
		Msg("Attempt submitted")
	return receipt, nil
}

func (s *AttemptService) closeLocked(la *liveAttempt) {
	la.closed = true
	s.registry.Remove(la)
	metrics.LiveSessions.Set(float64(s.registry.Len()))
}

// Touch refreshes the idle clock of a live attempt.
func (s *AttemptService) Touch(attemptID uuid.UUID, studentID int) error {
	_, err := s.withAttempt(attemptID, studentID, "ping", func(*liveAttempt) error { return nil })
	return err
}

// Subscribe streams server-side events of an attempt until cancel is called.
func (s *AttemptService) Subscribe(attemptID uuid.UUID) (<-chan model.AttemptEvent, func()) {
	return s.events.subscribe(attemptID)
}

// Tick advances every live countdown by one second, charges the second to
// the question on screen, and submits attempts that ran out of time.
// It returns the number of attempts submitted.
func (s *AttemptService) Tick(ctx context.Context) int {
	submitted := 0
	for _, la := range s.registry.List() {
		la.mu.Lock()
		if la.closed {
			la.mu.Unlock()
			continue
		}

		// Whole seconds of wall time since the last charge. A late tick
		// charges every second it missed.
		sess := la.session
		if elapsed := elapsedSeconds(la.lastTick, s.now()); elapsed > 0 {
			la.lastTick = la.lastTick.Add(time.Duration(elapsed) * time.Second)
			if q := sess.CurrentQuestion(); q != nil {
				if charge := min(elapsed, sess.TimeRemaining()); charge > 0 {
					sess.AddTimeSpent(q.ID, charge)
				}
			}
			sess.DecrementTimerBy(elapsed)
		}
		if sess.Expired() {
			if _, err := s.submitLocked(ctx, la, model.SubmitReasonTimeUp); err != nil {
				s.log.Error().Err(err).Str("attempt_id", la.id.String()).Msg("Auto-submit failed, will retry")
			} else {
				submitted++
			}
		}
		la.mu.Unlock()
	}
	return submitted
}

// SyncAll autosaves every live attempt not saved within fresh and broadcasts
// the remaining time of all of them. A zero fresh saves everything. It
// returns the number of attempts saved.
func (s *AttemptService) SyncAll(ctx context.Context, fresh time.Duration) int {
	saved := 0
	for _, la := range s.registry.List() {
		la.mu.Lock()
		if la.closed {
			la.mu.Unlock()
			continue
		}
		if fresh <= 0 || s.now().Sub(la.lastSaved) >= fresh {
			if err := s.syncLocked(ctx, la); err != nil {
				s.log.Error().Err(err).Str("attempt_id", la.id.String()).Msg("Autosave failed")
			} else {
				saved++
			}
		}
		s.events.publish(la.id, model.AttemptEvent{
			Type:          model.AttemptEventTime,
			TimeRemaining: la.session.TimeRemaining(),
		})
		la.mu.Unlock()
	}
	return saved
}

// SweepIdle saves and evicts attempts without activity for longer than idle.
// Evicted attempts resume from the saved state on the next Start.
func (s *AttemptService) SweepIdle(ctx context.Context, idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	evicted := 0
	for _, la := range s.registry.List() {
		la.mu.Lock()
		if !la.closed && la.lastActive.Before(cutoff) {
			if err := s.syncLocked(ctx, la); err != nil {
				s.log.Error().Err(err).Str("attempt_id", la.id.String()).Msg("Idle save failed, keeping session")
			} else {
				la.session.Reset()
				s.closeLocked(la)
				evicted++
			}
		}
		la.mu.Unlock()
	}
	if evicted > 0 {
		s.log.Info().Int("evicted", evicted).Int("live", s.registry.Len()).Msg("Idle attempt sessions evicted")
	}
	return evicted
}

func findQuestion(sess *attempt.Session, questionID string) (*attempt.Question, error) {
	c, ok := sess.Locate(questionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", questionID, ErrUnknownQuestion)
	}
	return &sess.Sections()[c.Section].Questions[c.Question], nil
}

func checkSelection(q *attempt.Question, selected []string) error {
	if q.Type == attempt.QuestionTypeSingleChoice && len(selected) > 1 {
		return fmt.Errorf("single choice question %s: %w", q.ID, ErrInvalidSelection)
	}
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("option %s repeated: %w", id, ErrInvalidSelection)
		}
		seen[id] = struct{}{}
		if !hasOption(q, id) {
			return fmt.Errorf("option %s: %w", id, ErrInvalidSelection)
		}
	}
	return nil
}

func hasOption(q *attempt.Question, id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func countQuestions(sections []attempt.Section) int {
	n := 0
	for _, sec := range sections {
		n += len(sec.Questions)
	}
	return n
}
