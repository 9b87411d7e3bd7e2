package model

import "github.com/stemsi/exstem-attempt/internal/attempt"

// SetAnswerRequest replaces the selection of a question. An empty or
// missing list clears it.
type SetAnswerRequest struct {
	SelectedOptions []string `json:"selected_options" binding:"omitempty,max=26,dive,required,max=64"`
}

// NavigateRequest moves the cursor. Out-of-range targets are accepted and
// reported back with moved=false.
type NavigateRequest struct {
	SectionIndex  *int `json:"section_index" binding:"required"`
	QuestionIndex *int `json:"question_index" binding:"required"`
}

// LanguageRequest switches the display language.
type LanguageRequest struct {
	Language attempt.Language `json:"language" binding:"required,lang"`
}
