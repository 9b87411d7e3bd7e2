package attempt

import "time"

// DurationUnit tells how ExamInfo.Duration is expressed.
type DurationUnit string

const (
	DurationSeconds DurationUnit = "seconds"
	DurationMinutes DurationUnit = "minutes"
)

// ExamInfo is the immutable configuration of an exam for one attempt.
type ExamInfo struct {
	ID                     string       `json:"id"`
	Title                  string       `json:"title"`
	TitleHi                string       `json:"title_hi,omitempty"`
	Duration               int          `json:"duration"`
	DurationUnit           DurationUnit `json:"duration_unit"`
	TotalQuestions         int          `json:"total_questions"`
	TotalMarks             float64      `json:"total_marks"`
	PositiveMarks          float64      `json:"positive_marks"`
	NegativeMarks          float64      `json:"negative_marks"`
	AllowSectionNavigation bool         `json:"allow_section_navigation"`
	ShuffleQuestions       bool         `json:"shuffle_questions"`
	ShuffleOptions         bool         `json:"shuffle_options"`
}

// DurationSeconds returns the total exam duration in seconds.
func (e ExamInfo) DurationSeconds() int {
	if e.DurationUnit == DurationMinutes {
		return e.Duration * 60
	}
	return e.Duration
}

// QuestionType enumerates the kinds of question an exam can hold.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeComprehension  QuestionType = "comprehension"
)

// Passage is a reading passage shared by comprehension questions.
type Passage struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	TextHi   string `json:"text_hi,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Option is one labeled choice of a question.
type Option struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Text     string `json:"text"`
	TextHi   string `json:"text_hi,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Question is a single exam question. Passage is shared, never owned.
type Question struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	TextHi   string       `json:"text_hi,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	Options  []Option     `json:"options"`
	Passage  *Passage     `json:"passage,omitempty"`
}

// Section is an ordered group of questions.
type Section struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	NameHi         string     `json:"name_hi,omitempty"`
	Instructions   string     `json:"instructions,omitempty"`
	InstructionsHi string     `json:"instructions_hi,omitempty"`
	Questions      []Question `json:"questions"`
}

// Answer is the mutable per-question record of an attempt.
type Answer struct {
	QuestionID      string     `json:"question_id"`
	SelectedOptions []string   `json:"selected_options"`
	TimeTaken       int        `json:"time_taken"`
	MarkedForReview bool       `json:"marked_for_review"`
	VisitedAt       *time.Time `json:"visited_at,omitempty"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
}

// Answered reports whether the answer carries a selection.
func (a Answer) Answered() bool {
	return len(a.SelectedOptions) > 0
}

func (a Answer) clone() Answer {
	c := a
	c.SelectedOptions = append([]string{}, a.SelectedOptions...)
	if a.VisitedAt != nil {
		t := *a.VisitedAt
		c.VisitedAt = &t
	}
	if a.AnsweredAt != nil {
		t := *a.AnsweredAt
		c.AnsweredAt = &t
	}
	return c
}

// Language is the display language of the attempt.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
)

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageHindi
}

// Status is the palette status of a question.
type Status string

const (
	StatusNotVisited     Status = "not_visited"
	StatusVisited        Status = "visited"
	StatusAnswered       Status = "answered"
	StatusMarked         Status = "marked"
	StatusMarkedAnswered Status = "marked_answered"
)

// SectionStats tallies a section's questions. Answered and Marked overlap;
// NotVisited excludes both.
type SectionStats struct {
	Total      int `json:"total"`
	Answered   int `json:"answered"`
	Marked     int `json:"marked"`
	NotVisited int `json:"not_visited"`
}

// Cursor points at a question by section and question index.
type Cursor struct {
	Section  int `json:"section"`
	Question int `json:"question"`
}

// Snapshot is a consistent copy of the mutable state, used for autosave.
type Snapshot struct {
	AttemptID     string    `json:"attempt_id"`
	Answers       []Answer  `json:"answers"`
	Cursor        Cursor    `json:"cursor"`
	TimeRemaining int       `json:"time_remaining"`
	Language      Language  `json:"language"`
	TakenAt       time.Time `json:"taken_at"`
}
