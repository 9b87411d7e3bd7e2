// Package attempt holds the state machine of a single timed exam attempt:
// navigation, per-question answer/visited/marked bookkeeping and the
// countdown. It performs no I/O and is not safe for concurrent use; the
// owner serialises every call.
package attempt

import (
	"fmt"
	"time"
)

// Session is the in-memory state of one exam attempt.
type Session struct {
	attemptID string
	exam      ExamInfo
	sections  []Section
	positions map[string]Cursor

	answers map[string]*Answer
	visited map[string]struct{}
	marked  map[string]struct{}

	cursor        Cursor
	timeRemaining int
	startTime     time.Time
	language      Language
	initialized   bool

	now func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// New returns an empty session. Call Initialize before use.
func New(opts ...SessionOption) *Session {
	s := &Session{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s
}

// Initialize replaces all state with the given attempt data. Prior answers
// rebuild the visited and marked sets, and the question under the cursor is
// marked visited. On error the session is left unchanged.
func (s *Session) Initialize(
	attemptID string,
	exam ExamInfo,
	sections []Section,
	priorAnswers []Answer,
	cursor Cursor,
	timeRemaining int,
	language Language,
) error {
	positions, err := validate(attemptID, sections, cursor, timeRemaining, language)
	if err != nil {
		return err
	}

	s.attemptID = attemptID
	s.exam = exam
	s.sections = sections
	s.positions = positions
	s.answers = make(map[string]*Answer, len(priorAnswers))
	s.visited = make(map[string]struct{}, len(priorAnswers))
	s.marked = make(map[string]struct{})

	for _, a := range priorAnswers {
		rec := a.clone()
		s.answers[rec.QuestionID] = &rec
		if rec.VisitedAt != nil {
			s.visited[rec.QuestionID] = struct{}{}
		}
		if rec.MarkedForReview {
			s.marked[rec.QuestionID] = struct{}{}
		}
	}

	s.cursor = cursor
	s.timeRemaining = timeRemaining
	s.startTime = s.now()
	s.language = language
	s.initialized = true

	s.MarkAsVisited(sections[cursor.Section].Questions[cursor.Question].ID)
	return nil
}

func validate(attemptID string, sections []Section, cursor Cursor, timeRemaining int, language Language) (map[string]Cursor, error) {
	if attemptID == "" {
		return nil, ErrMissingAttemptID
	}
	if len(sections) == 0 {
		return nil, ErrNoSections
	}

	positions := make(map[string]Cursor)
	sectionIDs := make(map[string]struct{}, len(sections))
	for si, sec := range sections {
		if _, dup := sectionIDs[sec.ID]; dup {
			return nil, fmt.Errorf("section %q: %w", sec.ID, ErrDuplicateSection)
		}
		sectionIDs[sec.ID] = struct{}{}
		if len(sec.Questions) == 0 {
			return nil, fmt.Errorf("section %q: %w", sec.ID, ErrEmptySection)
		}
		for qi, q := range sec.Questions {
			if _, dup := positions[q.ID]; dup {
				return nil, fmt.Errorf("question %q: %w", q.ID, ErrDuplicateQuestion)
			}
			positions[q.ID] = Cursor{Section: si, Question: qi}
		}
	}

	if cursor.Section < 0 || cursor.Section >= len(sections) ||
		cursor.Question < 0 || cursor.Question >= len(sections[cursor.Section].Questions) {
		return nil, fmt.Errorf("cursor (%d,%d): %w", cursor.Section, cursor.Question, ErrCursorOutOfRange)
	}
	if timeRemaining < 0 {
		return nil, fmt.Errorf("%d seconds: %w", timeRemaining, ErrNegativeTime)
	}
	if !language.Valid() {
		return nil, fmt.Errorf("%q: %w", language, ErrUnknownLanguage)
	}
	return positions, nil
}

// Reset discards every field and returns the session to its empty state.
func (s *Session) Reset() {
	s.attemptID = ""
	s.exam = ExamInfo{}
	s.sections = nil
	s.positions = map[string]Cursor{}
	s.answers = map[string]*Answer{}
	s.visited = map[string]struct{}{}
	s.marked = map[string]struct{}{}
	s.cursor = Cursor{}
	s.timeRemaining = 0
	s.startTime = time.Time{}
	s.language = LanguageEnglish
	s.initialized = false
}

// SetAnswer replaces the selection of a question and stamps AnsweredAt.
// An empty selection clears the answer but keeps the record.
func (s *Session) SetAnswer(questionID string, selected []string) {
	now := s.now()
	rec := s.ensureAnswer(questionID)
	rec.SelectedOptions = append([]string{}, selected...)
	rec.AnsweredAt = &now
}

// ToggleMarkForReview flips the review flag of a question.
func (s *Session) ToggleMarkForReview(questionID string) {
	_, marked := s.marked[questionID]
	s.setMarked(questionID, !marked)
}

// MarkAsVisited records the first visit of a question. Later calls never
// move the visit timestamp.
func (s *Session) MarkAsVisited(questionID string) {
	s.visited[questionID] = struct{}{}
	rec := s.ensureAnswer(questionID)
	if rec.VisitedAt == nil {
		now := s.now()
		rec.VisitedAt = &now
	}
}

// AddTimeSpent adds seconds to the time taken on a question that already
// has an answer record.
func (s *Session) AddTimeSpent(questionID string, seconds int) {
	if seconds <= 0 {
		return
	}
	if rec, ok := s.answers[questionID]; ok {
		rec.TimeTaken += seconds
	}
}

// NavigateTo moves the cursor to the given question, marking it visited.
// It reports false and leaves the cursor alone when the target does not exist.
func (s *Session) NavigateTo(sectionIndex, questionIndex int) bool {
	if sectionIndex < 0 || sectionIndex >= len(s.sections) {
		return false
	}
	if questionIndex < 0 || questionIndex >= len(s.sections[sectionIndex].Questions) {
		return false
	}
	s.MarkAsVisited(s.sections[sectionIndex].Questions[questionIndex].ID)
	s.cursor = Cursor{Section: sectionIndex, Question: questionIndex}
	return true
}

// NextQuestion advances within the section, or into the next section when
// the exam allows section navigation.
func (s *Session) NextQuestion() bool {
	if !s.initialized {
		return false
	}
	c := s.cursor
	if c.Question+1 < len(s.sections[c.Section].Questions) {
		return s.NavigateTo(c.Section, c.Question+1)
	}
	if s.exam.AllowSectionNavigation && c.Section+1 < len(s.sections) {
		return s.NavigateTo(c.Section+1, 0)
	}
	return false
}

// PrevQuestion steps back within the section, or onto the last question of
// the previous section when the exam allows section navigation.
func (s *Session) PrevQuestion() bool {
	if !s.initialized {
		return false
	}
	c := s.cursor
	if c.Question > 0 {
		return s.NavigateTo(c.Section, c.Question-1)
	}
	if s.exam.AllowSectionNavigation && c.Section > 0 {
		prev := c.Section - 1
		return s.NavigateTo(prev, len(s.sections[prev].Questions)-1)
	}
	return false
}

// DecrementTimer takes one second off the countdown, floored at zero, and
// returns what is left.
func (s *Session) DecrementTimer() int {
	return s.DecrementTimerBy(1)
}

// DecrementTimerBy takes n seconds off the countdown, stopping at zero.
func (s *Session) DecrementTimerBy(n int) int {
	if n <= 0 {
		return s.timeRemaining
	}
	s.timeRemaining = max(s.timeRemaining-n, 0)
	return s.timeRemaining
}

// SetLanguage switches the display language.
func (s *Session) SetLanguage(lang Language) error {
	if !lang.Valid() {
		return fmt.Errorf("%q: %w", lang, ErrUnknownLanguage)
	}
	s.language = lang
	return nil
}

// ensureAnswer returns the record for questionID, creating it with the
// current review flag when absent.
func (s *Session) ensureAnswer(questionID string) *Answer {
	rec, ok := s.answers[questionID]
	if !ok {
		_, marked := s.marked[questionID]
		rec = &Answer{
			QuestionID:      questionID,
			SelectedOptions: []string{},
			MarkedForReview: marked,
		}
		s.answers[questionID] = rec
	}
	return rec
}

// setMarked is the only writer of review state; it keeps the marked set and
// the answer flag in step.
func (s *Session) setMarked(questionID string, marked bool) {
	if marked {
		s.marked[questionID] = struct{}{}
	} else {
		delete(s.marked, questionID)
	}
	if rec, ok := s.answers[questionID]; ok {
		rec.MarkedForReview = marked
	}
}
