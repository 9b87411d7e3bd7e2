package service

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// buildView projects a session into what the exam screen renders.
func buildView(id uuid.UUID, sess *attempt.Session) *model.AttemptView {
	exam := sess.Exam()
	sections := sess.Sections()

	view := &model.AttemptView{
		AttemptID:              id,
		ExamID:                 exam.ID,
		Title:                  exam.Title,
		TitleHi:                exam.TitleHi,
		AllowSectionNavigation: exam.AllowSectionNavigation,
		Cursor:                 sess.Cursor(),
		Statuses:               make(map[string]attempt.Status, countQuestions(sections)),
		Sections:               make([]model.SectionSummary, 0, len(sections)),
		TimeRemaining:          sess.TimeRemaining(),
		Language:               sess.Language(),
	}

	for _, sec := range sections {
		stats, _ := sess.SectionStats(sec.ID)
		view.Sections = append(view.Sections, model.SectionSummary{
			ID:     sec.ID,
			Name:   sec.Name,
			NameHi: sec.NameHi,
			Stats:  stats,
		})
		for _, q := range sec.Questions {
			view.Statuses[q.ID] = sess.QuestionStatus(q.ID)
		}
	}

	if sec := sess.CurrentSection(); sec != nil {
		summary := view.Sections[view.Cursor.Section]
		view.CurrentSection = &summary
		view.Instructions = sec.Instructions
		view.InstructionsHi = sec.InstructionsHi
	}
	if q := sess.CurrentQuestion(); q != nil {
		view.CurrentQuestion = q
		if a, ok := sess.Answer(q.ID); ok {
			view.CurrentAnswer = &a
		}
	}
	return view
}
