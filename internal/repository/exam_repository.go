package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamRepository reads exam content. Content is managed elsewhere; this
// service only ever reads it.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// LoadExamTree retrieves an exam with its ordered sections and questions.
// Passages referenced by several questions are shared by pointer.
func (r *ExamRepository) LoadExamTree(ctx context.Context, examID uuid.UUID) (*model.ExamTree, error) {
	tree := &model.ExamTree{ExamID: examID}
	e := &tree.Exam

	var unit string
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, title, title_hi, duration, duration_unit, total_questions,
		        total_marks::float8, positive_marks::float8, negative_marks::float8,
		        allow_section_navigation, shuffle_questions, shuffle_options
		 FROM exams WHERE id = $1`, examID,
	).Scan(&e.ID, &e.Title, &e.TitleHi, &e.Duration, &unit, &e.TotalQuestions,
		&e.TotalMarks, &e.PositiveMarks, &e.NegativeMarks,
		&e.AllowSectionNavigation, &e.ShuffleQuestions, &e.ShuffleOptions)
	if err != nil {
		return nil, err
	}
	e.DurationUnit = attempt.DurationUnit(unit)

	sectionRows, err := r.pool.Query(ctx,
		`SELECT id::text, name, name_hi, instructions, instructions_hi
		 FROM exam_sections WHERE exam_id = $1
		 ORDER BY order_num, id`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer sectionRows.Close()

	sectionIdx := make(map[string]int)
	for sectionRows.Next() {
		var s attempt.Section
		if err := sectionRows.Scan(&s.ID, &s.Name, &s.NameHi, &s.Instructions, &s.InstructionsHi); err != nil {
			return nil, err
		}
		sectionIdx[s.ID] = len(tree.Sections)
		tree.Sections = append(tree.Sections, s)
	}
	if err := sectionRows.Err(); err != nil {
		return nil, err
	}

	questionRows, err := r.pool.Query(ctx,
		`SELECT q.section_id::text, q.id::text, q.question_type, q.question_text, q.question_text_hi,
		        q.image_url, q.options, p.id::text, p.text, p.text_hi, p.image_url
		 FROM questions q
		 JOIN exam_sections s ON s.id = q.section_id
		 LEFT JOIN passages p ON p.id = q.passage_id
		 WHERE s.exam_id = $1
		 ORDER BY s.order_num, s.id, q.order_num, q.id`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer questionRows.Close()

	passages := make(map[string]*attempt.Passage)
	for questionRows.Next() {
		var (
			sectionID, qType string
			q                attempt.Question
			options          []byte
			pID, pText       *string
			pTextHi, pImage  *string
		)
		if err := questionRows.Scan(&sectionID, &q.ID, &qType, &q.Text, &q.TextHi,
			&q.ImageURL, &options, &pID, &pText, &pTextHi, &pImage); err != nil {
			return nil, err
		}
		q.Type = attempt.QuestionType(qType)
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", q.ID, err)
		}

		if pID != nil {
			p, ok := passages[*pID]
			if !ok {
				p = &attempt.Passage{ID: *pID, Text: deref(pText), TextHi: deref(pTextHi), ImageURL: deref(pImage)}
				passages[*pID] = p
			}
			q.Passage = p
		}

		i, ok := sectionIdx[sectionID]
		if !ok {
			continue
		}
		tree.Sections[i].Questions = append(tree.Sections[i].Questions, q)
	}
	if err := questionRows.Err(); err != nil {
		return nil, err
	}

	return tree, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
