package attempt

import (
	"sort"
	"time"
)

// Initialized reports whether the session holds an attempt.
func (s *Session) Initialized() bool { return s.initialized }

// AttemptID returns the id of the loaded attempt.
func (s *Session) AttemptID() string { return s.attemptID }

// Exam returns the exam configuration.
func (s *Session) Exam() ExamInfo { return s.exam }

// Sections returns the section tree. Callers must not modify it.
func (s *Session) Sections() []Section { return s.sections }

func (s *Session) Cursor() Cursor { return s.cursor }

func (s *Session) TimeRemaining() int { return s.timeRemaining }

// StartTime is the wall-clock time the attempt was loaded into the session.
func (s *Session) StartTime() time.Time { return s.startTime }

func (s *Session) Language() Language { return s.language }

// Expired reports whether an initialized attempt has run out of time.
func (s *Session) Expired() bool { return s.initialized && s.timeRemaining == 0 }

// CurrentSection resolves the cursor's section, or nil when out of range.
func (s *Session) CurrentSection() *Section {
	if s.cursor.Section < 0 || s.cursor.Section >= len(s.sections) {
		return nil
	}
	return &s.sections[s.cursor.Section]
}

// CurrentQuestion resolves the cursor's question, or nil when out of range.
func (s *Session) CurrentQuestion() *Question {
	sec := s.CurrentSection()
	if sec == nil || s.cursor.Question < 0 || s.cursor.Question >= len(sec.Questions) {
		return nil
	}
	return &sec.Questions[s.cursor.Question]
}

// Locate returns the cursor position of a question id.
func (s *Session) Locate(questionID string) (Cursor, bool) {
	c, ok := s.positions[questionID]
	return c, ok
}

// Answer returns a copy of the answer recorded for a question.
func (s *Session) Answer(questionID string) (Answer, bool) {
	rec, ok := s.answers[questionID]
	if !ok {
		return Answer{}, false
	}
	return rec.clone(), true
}

// Visited reports whether the question has been displayed.
func (s *Session) Visited(questionID string) bool {
	_, ok := s.visited[questionID]
	return ok
}

// Marked reports whether the question is flagged for review.
func (s *Session) Marked(questionID string) bool {
	_, ok := s.marked[questionID]
	return ok
}

// QuestionStatus derives the palette status of a question. Precedence is
// marked_answered, marked, answered, visited, not_visited.
func (s *Session) QuestionStatus(questionID string) Status {
	answered := false
	if rec, ok := s.answers[questionID]; ok {
		answered = rec.Answered()
	}
	switch {
	case s.Marked(questionID) && answered:
		return StatusMarkedAnswered
	case s.Marked(questionID):
		return StatusMarked
	case answered:
		return StatusAnswered
	case s.Visited(questionID):
		return StatusVisited
	default:
		return StatusNotVisited
	}
}

// SectionStats tallies the questions of a section. The second value is false
// when the section is unknown.
func (s *Session) SectionStats(sectionID string) (SectionStats, bool) {
	for i := range s.sections {
		if s.sections[i].ID != sectionID {
			continue
		}
		var st SectionStats
		for _, q := range s.sections[i].Questions {
			st.Total++
			if rec, ok := s.answers[q.ID]; ok && rec.Answered() {
				st.Answered++
			}
			if s.Marked(q.ID) {
				st.Marked++
			}
			if !s.Visited(q.ID) {
				st.NotVisited++
			}
		}
		return st, true
	}
	return SectionStats{}, false
}

// AllAnswers returns copies of every recorded answer, exam order first and
// answers for questions outside the exam after, sorted by id.
func (s *Session) AllAnswers() []Answer {
	out := make([]Answer, 0, len(s.answers))
	seen := make(map[string]struct{}, len(s.answers))
	for _, sec := range s.sections {
		for _, q := range sec.Questions {
			if rec, ok := s.answers[q.ID]; ok {
				out = append(out, rec.clone())
				seen[q.ID] = struct{}{}
			}
		}
	}

	var extra []string
	for id := range s.answers {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, s.answers[id].clone())
	}
	return out
}

// Snapshot copies the mutable state for autosave.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		AttemptID:     s.attemptID,
		Answers:       s.AllAnswers(),
		Cursor:        s.cursor,
		TimeRemaining: s.timeRemaining,
		Language:      s.language,
		TakenAt:       s.now(),
	}
}
