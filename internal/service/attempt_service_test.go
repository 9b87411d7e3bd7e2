package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeAttemptStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*model.AttemptRecord
	answers map[uuid.UUID][]attempt.Answer
	opened  map[uuid.UUID]int
}

func (f *fakeAttemptStore) GetAttempt(_ context.Context, id uuid.UUID) (*model.AttemptRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeAttemptStore) ListAnswers(_ context.Context, id uuid.UUID) ([]attempt.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answers[id], nil
}

func (f *fakeAttemptStore) MarkOpened(_ context.Context, id uuid.UUID, timeRemaining int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened[id] = timeRemaining
	return nil
}

type fakeExamStore struct {
	trees map[uuid.UUID]*model.ExamTree
	loads int
}

func (f *fakeExamStore) LoadExamTree(_ context.Context, examID uuid.UUID) (*model.ExamTree, error) {
	f.loads++
	tree, ok := f.trees[examID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return tree, nil
}

type fakeCache struct {
	mu          sync.Mutex
	trees       map[uuid.UUID]*model.ExamTree
	snapshots   map[string]*attempt.Snapshot
	submitted   map[string]bool
	autosaves   []model.AutosaveJob
	submissions []model.SubmissionJob
	failPush    error
}

func (f *fakeCache) GetExamTree(_ context.Context, examID uuid.UUID) (*model.ExamTree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tree, ok := f.trees[examID]; ok {
		return tree, nil
	}
	return nil, repository.ErrCacheMiss
}

func (f *fakeCache) SetExamTree(_ context.Context, tree *model.ExamTree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees[tree.ExamID] = tree
	return nil
}

func (f *fakeCache) GetSnapshot(_ context.Context, attemptID string) (*attempt.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snapshots[attemptID]; ok {
		return snap, nil
	}
	return nil, repository.ErrCacheMiss
}

func (f *fakeCache) PushAutosave(_ context.Context, job model.AutosaveJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPush != nil {
		return f.failPush
	}
	snap := job.Snapshot
	f.snapshots[job.AttemptID] = &snap
	f.autosaves = append(f.autosaves, job)
	return nil
}

func (f *fakeCache) PushSubmission(_ context.Context, job model.SubmissionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPush != nil {
		return f.failPush
	}
	f.submitted[job.AttemptID] = true
	delete(f.snapshots, job.AttemptID)
	f.submissions = append(f.submissions, job)
	return nil
}

func (f *fakeCache) IsSubmitted(_ context.Context, attemptID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[attemptID], nil
}

// --- fixture ---

type fixture struct {
	svc     *AttemptService
	store   *fakeAttemptStore
	exams   *fakeExamStore
	cache   *fakeCache
	clock   time.Time
	examID  uuid.UUID
	attempt uuid.UUID
	student int
	ctx     context.Context
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func examTree(examID uuid.UUID, durationMinutes int, allowNav bool) *model.ExamTree {
	opts := func(qid string) []attempt.Option {
		return []attempt.Option{
			{ID: qid + "_a", Label: "A", Text: "first"},
			{ID: qid + "_b", Label: "B", Text: "second"},
		}
	}
	passage := &attempt.Passage{ID: "p1", Text: "Read this."}
	return &model.ExamTree{
		ExamID: examID,
		Exam: attempt.ExamInfo{
			ID:                     examID.String(),
			Title:                  "Mock Test 1",
			Duration:               durationMinutes,
			DurationUnit:           attempt.DurationMinutes,
			TotalQuestions:         3,
			AllowSectionNavigation: allowNav,
		},
		Sections: []attempt.Section{
			{ID: "A", Name: "Reasoning", Instructions: "Answer all.", Questions: []attempt.Question{
				{ID: "q1", Type: attempt.QuestionTypeSingleChoice, Options: opts("q1")},
				{ID: "q2", Type: attempt.QuestionTypeMultipleChoice, Options: opts("q2")},
			}},
			{ID: "B", Name: "English", Questions: []attempt.Question{
				{ID: "q3", Type: attempt.QuestionTypeComprehension, Options: opts("q3"), Passage: passage},
			}},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		examID:  uuid.New(),
		attempt: uuid.New(),
		student: 42,
		ctx:     context.Background(),
	}
	f.store = &fakeAttemptStore{
		records: map[uuid.UUID]*model.AttemptRecord{
			f.attempt: {
				ID:        f.attempt,
				ExamID:    f.examID,
				StudentID: f.student,
				Status:    model.AttemptStatusInProgress,
				Language:  "en",
				UpdatedAt: f.clock.Add(-time.Hour),
			},
		},
		answers: map[uuid.UUID][]attempt.Answer{},
		opened:  map[uuid.UUID]int{},
	}
	f.exams = &fakeExamStore{trees: map[uuid.UUID]*model.ExamTree{f.examID: examTree(f.examID, 1, true)}}
	f.cache = &fakeCache{
		trees:     map[uuid.UUID]*model.ExamTree{},
		snapshots: map[string]*attempt.Snapshot{},
		submitted: map[string]bool{},
	}
	f.svc = NewAttemptService(f.store, f.exams, f.cache, NewRegistry(), zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) start(t *testing.T) *model.AttemptView {
	t.Helper()
	view, err := f.svc.Start(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	return view
}

// --- tests ---

func TestStart_NewAttempt(t *testing.T) {
	f := newFixture(t)
	view := f.start(t)

	assert.Equal(t, 60, view.TimeRemaining)
	assert.Equal(t, 60, f.store.opened[f.attempt])
	assert.Equal(t, attempt.Cursor{}, view.Cursor)
	assert.Equal(t, "q1", view.CurrentQuestion.ID)
	assert.Equal(t, "Answer all.", view.Instructions)
	assert.Equal(t, attempt.StatusVisited, view.Statuses["q1"])
	assert.Equal(t, attempt.StatusNotVisited, view.Statuses["q3"])
	require.Len(t, view.Sections, 2)
	assert.Equal(t, attempt.SectionStats{Total: 2, NotVisited: 1}, view.Sections[0].Stats)
	require.NotNil(t, view.CurrentAnswer)
	assert.NotNil(t, view.CurrentAnswer.VisitedAt)

	// Exam tree was loaded once and cached.
	assert.Equal(t, 1, f.exams.loads)
	assert.Contains(t, f.cache.trees, f.examID)
}

func TestStart_ReturnsLiveSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	_, err := f.svc.SetAnswer(f.ctx, f.attempt, f.student, "q1", []string{"q1_b"})
	require.NoError(t, err)

	view := f.start(t)
	assert.Equal(t, attempt.StatusAnswered, view.Statuses["q1"])
	assert.Equal(t, 1, f.exams.loads)
}

func TestStart_Rejections(t *testing.T) {
	t.Run("unknown attempt", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Start(f.ctx, uuid.New(), f.student)
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("foreign student", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Start(f.ctx, f.attempt, 7)
		assert.ErrorIs(t, err, ErrNotAttemptOwner)
	})

	t.Run("already submitted", func(t *testing.T) {
		f := newFixture(t)
		f.store.records[f.attempt].Status = model.AttemptStatusSubmitted
		_, err := f.svc.Start(f.ctx, f.attempt, f.student)
		assert.ErrorIs(t, err, ErrAttemptSubmitted)
	})

	t.Run("submission pending", func(t *testing.T) {
		f := newFixture(t)
		f.cache.submitted[f.attempt.String()] = true
		_, err := f.svc.Start(f.ctx, f.attempt, f.student)
		assert.ErrorIs(t, err, ErrAttemptSubmitted)
	})

	t.Run("live session of another student", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		_, err := f.svc.Start(f.ctx, f.attempt, 7)
		assert.ErrorIs(t, err, ErrNotAttemptOwner)
	})
}

func TestStart_ResumesFromDatabase(t *testing.T) {
	f := newFixture(t)
	remaining := 50
	rec := f.store.records[f.attempt]
	rec.TimeRemaining = &remaining
	rec.SectionIndex = 1
	rec.Language = "hi"
	rec.UpdatedAt = f.clock.Add(-10 * time.Second)

	visited := f.clock.Add(-time.Minute)
	f.store.answers[f.attempt] = []attempt.Answer{
		{QuestionID: "q2", SelectedOptions: []string{"q2_a"}, MarkedForReview: true, VisitedAt: &visited},
	}

	view := f.start(t)
	assert.Equal(t, 40, view.TimeRemaining)
	assert.Equal(t, attempt.Cursor{Section: 1}, view.Cursor)
	assert.Equal(t, attempt.LanguageHindi, view.Language)
	assert.Equal(t, attempt.StatusMarkedAnswered, view.Statuses["q2"])
	assert.Equal(t, attempt.StatusVisited, view.Statuses["q3"])
	assert.Empty(t, f.store.opened)
}

func TestStart_PrefersNewerSnapshot(t *testing.T) {
	f := newFixture(t)
	remaining := 50
	rec := f.store.records[f.attempt]
	rec.TimeRemaining = &remaining
	rec.UpdatedAt = f.clock.Add(-time.Minute)

	f.cache.snapshots[f.attempt.String()] = &attempt.Snapshot{
		AttemptID:     f.attempt.String(),
		Answers:       []attempt.Answer{{QuestionID: "q3", SelectedOptions: []string{"q3_b"}}},
		Cursor:        attempt.Cursor{Section: 0, Question: 1},
		TimeRemaining: 30,
		Language:      attempt.LanguageEnglish,
		TakenAt:       f.clock.Add(-5 * time.Second),
	}

	view := f.start(t)
	assert.Equal(t, 25, view.TimeRemaining)
	assert.Equal(t, attempt.Cursor{Question: 1}, view.Cursor)
	assert.Equal(t, attempt.StatusAnswered, view.Statuses["q3"])
}

func TestStart_ClampsStaleState(t *testing.T) {
	f := newFixture(t)
	remaining := 5
	rec := f.store.records[f.attempt]
	rec.TimeRemaining = &remaining
	rec.SectionIndex = 9
	rec.Language = "fr"
	rec.UpdatedAt = f.clock.Add(-time.Hour)

	view := f.start(t)
	assert.Equal(t, 0, view.TimeRemaining)
	assert.Equal(t, attempt.Cursor{}, view.Cursor)
	assert.Equal(t, attempt.LanguageEnglish, view.Language)
}

func TestMutations_RequireLiveSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetAnswer(f.ctx, f.attempt, f.student, "q1", []string{"q1_a"})
	assert.ErrorIs(t, err, ErrSessionNotStarted)
	_, err = f.svc.Next(f.ctx, f.attempt, f.student)
	assert.ErrorIs(t, err, ErrSessionNotStarted)
	_, err = f.svc.Submit(f.ctx, f.attempt, f.student)
	assert.ErrorIs(t, err, ErrSessionNotStarted)
}

func TestSetAnswer(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	tests := []struct {
		name     string
		question string
		selected []string
		wantErr  error
	}{
		{"unknown question", "q9", []string{"q9_a"}, ErrUnknownQuestion},
		{"unknown option", "q1", []string{"zz"}, ErrInvalidSelection},
		{"two options on single choice", "q1", []string{"q1_a", "q1_b"}, ErrInvalidSelection},
		{"repeated option", "q2", []string{"q2_a", "q2_a"}, ErrInvalidSelection},
		{"multiple choice", "q2", []string{"q2_a", "q2_b"}, nil},
		{"clear", "q1", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SetAnswer(f.ctx, f.attempt, f.student, tt.question, tt.selected)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	answers, err := f.svc.Answers(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "q1", answers[0].QuestionID)
	assert.Empty(t, answers[0].SelectedOptions)
	assert.Equal(t, []string{"q2_a", "q2_b"}, answers[1].SelectedOptions)
}

func TestMarkVisitAndNavigate(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	view, err := f.svc.ToggleMark(f.ctx, f.attempt, f.student, "q3")
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusMarked, view.Statuses["q3"])

	view, err = f.svc.Visit(f.ctx, f.attempt, f.student, "q2")
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusVisited, view.Statuses["q2"])
	assert.Equal(t, attempt.Cursor{}, view.Cursor)

	view, err = f.svc.Navigate(f.ctx, f.attempt, f.student, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, view.Moved)
	assert.True(t, *view.Moved)
	assert.Equal(t, "q3", view.CurrentQuestion.ID)
	assert.Equal(t, "p1", view.CurrentQuestion.Passage.ID)

	view, err = f.svc.Navigate(f.ctx, f.attempt, f.student, 5, 0)
	require.NoError(t, err)
	assert.False(t, *view.Moved)
	assert.Equal(t, attempt.Cursor{Section: 1}, view.Cursor)

	view, err = f.svc.Next(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	assert.False(t, *view.Moved)

	view, err = f.svc.Prev(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	assert.True(t, *view.Moved)
	assert.Equal(t, attempt.Cursor{Section: 0, Question: 1}, view.Cursor)

	_, err = f.svc.ToggleMark(f.ctx, f.attempt, f.student, "nope")
	assert.ErrorIs(t, err, ErrUnknownQuestion)
}

func TestSetLanguage(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	view, err := f.svc.SetLanguage(f.ctx, f.attempt, f.student, attempt.LanguageHindi)
	require.NoError(t, err)
	assert.Equal(t, attempt.LanguageHindi, view.Language)

	_, err = f.svc.SetLanguage(f.ctx, f.attempt, f.student, "de")
	assert.ErrorIs(t, err, attempt.ErrUnknownLanguage)

	view, err = f.svc.View(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	assert.Equal(t, attempt.LanguageHindi, view.Language)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	_, err := f.svc.SetAnswer(f.ctx, f.attempt, f.student, "q1", []string{"q1_a"})
	require.NoError(t, err)

	_, err = f.svc.Sync(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	require.Len(t, f.cache.autosaves, 1)
	job := f.cache.autosaves[0]
	assert.Equal(t, f.attempt.String(), job.AttemptID)
	assert.Equal(t, f.student, job.StudentID)
	assert.Equal(t, 60, job.Snapshot.TimeRemaining)
	assert.Equal(t, f.clock, job.Snapshot.TakenAt)

	f.cache.failPush = errors.New("redis down")
	_, err = f.svc.Sync(f.ctx, f.attempt, f.student)
	assert.Error(t, err)
}

func TestSubmit_Manual(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	_, err := f.svc.SetAnswer(f.ctx, f.attempt, f.student, "q1", []string{"q1_a"})
	require.NoError(t, err)

	events, cancel := f.svc.Subscribe(f.attempt)
	defer cancel()

	receipt, err := f.svc.Submit(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	assert.Equal(t, model.SubmitReasonManual, receipt.Reason)
	assert.Equal(t, 1, receipt.Answered)
	assert.Equal(t, 3, receipt.Total)
	assert.Equal(t, 60, receipt.TimeRemaining)

	require.Len(t, f.cache.submissions, 1)
	assert.Len(t, f.cache.submissions[0].Answers, 1)

	ev := <-events
	assert.Equal(t, model.AttemptEventSubmitted, ev.Type)
	assert.Equal(t, receipt, ev.Receipt)

	_, err = f.svc.View(f.ctx, f.attempt, f.student)
	assert.ErrorIs(t, err, ErrSessionNotStarted)
	_, err = f.svc.Start(f.ctx, f.attempt, f.student)
	assert.ErrorIs(t, err, ErrAttemptSubmitted)
}

func TestSubmit_FailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.cache.failPush = errors.New("redis down")

	_, err := f.svc.Submit(f.ctx, f.attempt, f.student)
	assert.Error(t, err)

	_, err = f.svc.View(f.ctx, f.attempt, f.student)
	assert.NoError(t, err)
}

func TestTick_ChargesTimeAndAutoSubmits(t *testing.T) {
	f := newFixture(t)
	f.exams.trees[f.examID].Exam.Duration = 3
	f.exams.trees[f.examID].Exam.DurationUnit = attempt.DurationSeconds
	f.start(t)

	f.advance(time.Second)
	assert.Equal(t, 0, f.svc.Tick(f.ctx))
	view, err := f.svc.View(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	assert.Equal(t, 2, view.TimeRemaining)
	assert.Equal(t, 1, view.CurrentAnswer.TimeTaken)

	f.advance(time.Second)
	assert.Equal(t, 0, f.svc.Tick(f.ctx))
	f.advance(time.Second)
	assert.Equal(t, 1, f.svc.Tick(f.ctx))

	require.Len(t, f.cache.submissions, 1)
	job := f.cache.submissions[0]
	assert.Equal(t, model.SubmitReasonTimeUp, job.Reason)
	assert.Equal(t, 0, job.TimeRemaining)
	require.Len(t, job.Answers, 1)
	assert.Equal(t, 3, job.Answers[0].TimeTaken)

	f.advance(time.Second)
	assert.Equal(t, 0, f.svc.Tick(f.ctx))
	assert.Len(t, f.cache.submissions, 1)
}

func TestTick_FollowsWallClock(t *testing.T) {
	tests := []struct {
		name          string
		steps         []time.Duration
		wantRemaining int
		wantTaken     int
	}{
		{"no time passed", []time.Duration{0}, 60, 0},
		{"sub-second tick charges nothing", []time.Duration{400 * time.Millisecond}, 60, 0},
		{"late tick charges missed seconds", []time.Duration{3500 * time.Millisecond}, 57, 3},
		{"fractions carry over", []time.Duration{1500 * time.Millisecond, 600 * time.Millisecond}, 58, 2},
		{"stalled ticker", []time.Duration{20 * time.Second, time.Second}, 39, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.start(t)
			for _, d := range tt.steps {
				f.advance(d)
				f.svc.Tick(f.ctx)
			}
			view, err := f.svc.View(f.ctx, f.attempt, f.student)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemaining, view.TimeRemaining)
			assert.Equal(t, tt.wantTaken, view.CurrentAnswer.TimeTaken)
		})
	}
}

func TestTick_OverrunChargesOnlyRemainingTime(t *testing.T) {
	f := newFixture(t)
	f.exams.trees[f.examID].Exam.Duration = 3
	f.exams.trees[f.examID].Exam.DurationUnit = attempt.DurationSeconds
	f.start(t)

	f.advance(10 * time.Second)
	assert.Equal(t, 1, f.svc.Tick(f.ctx))

	require.Len(t, f.cache.submissions, 1)
	job := f.cache.submissions[0]
	assert.Equal(t, 0, job.TimeRemaining)
	require.Len(t, job.Answers, 1)
	assert.Equal(t, 3, job.Answers[0].TimeTaken)
}

func TestMutations_RejectedAfterTimeUp(t *testing.T) {
	f := newFixture(t)
	f.exams.trees[f.examID].Exam.Duration = 2
	f.exams.trees[f.examID].Exam.DurationUnit = attempt.DurationSeconds
	f.start(t)

	// The auto-submit fails, so the expired session stays live.
	f.cache.failPush = errors.New("redis down")
	f.advance(5 * time.Second)
	assert.Equal(t, 0, f.svc.Tick(f.ctx))

	tests := []struct {
		name string
		call func() (*model.AttemptView, error)
	}{
		{"answer", func() (*model.AttemptView, error) {
			return f.svc.SetAnswer(f.ctx, f.attempt, f.student, "q1", []string{"q1_b"})
		}},
		{"mark", func() (*model.AttemptView, error) { return f.svc.ToggleMark(f.ctx, f.attempt, f.student, "q1") }},
		{"visit", func() (*model.AttemptView, error) { return f.svc.Visit(f.ctx, f.attempt, f.student, "q2") }},
		{"navigate", func() (*model.AttemptView, error) { return f.svc.Navigate(f.ctx, f.attempt, f.student, 1, 0) }},
		{"next", func() (*model.AttemptView, error) { return f.svc.Next(f.ctx, f.attempt, f.student) }},
		{"prev", func() (*model.AttemptView, error) { return f.svc.Prev(f.ctx, f.attempt, f.student) }},
		{"language", func() (*model.AttemptView, error) {
			return f.svc.SetLanguage(f.ctx, f.attempt, f.student, attempt.LanguageHindi)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			assert.ErrorIs(t, err, ErrTimeUp)
		})
	}

	view, err := f.svc.View(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	assert.Equal(t, 0, view.TimeRemaining)
	assert.Equal(t, attempt.Cursor{}, view.Cursor)
	assert.Equal(t, attempt.StatusVisited, view.Statuses["q1"])

	f.cache.failPush = nil
	_, err = f.svc.Submit(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	require.Len(t, f.cache.submissions, 1)
	assert.Empty(t, f.cache.submissions[0].Answers[0].SelectedOptions)
}

func TestTick_ExpiredOnStartSubmitsNextTick(t *testing.T) {
	f := newFixture(t)
	remaining := 10
	rec := f.store.records[f.attempt]
	rec.TimeRemaining = &remaining
	rec.UpdatedAt = f.clock.Add(-time.Minute)

	view := f.start(t)
	assert.Equal(t, 0, view.TimeRemaining)

	assert.Equal(t, 1, f.svc.Tick(f.ctx))
	require.Len(t, f.cache.submissions, 1)
	assert.Equal(t, 0, f.cache.submissions[0].Answers[0].TimeTaken)
}

func TestSyncAll_PublishesTime(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	events, cancel := f.svc.Subscribe(f.attempt)
	defer cancel()

	f.advance(time.Second)
	f.svc.Tick(f.ctx)
	assert.Equal(t, 1, f.svc.SyncAll(f.ctx, 0))

	ev := <-events
	assert.Equal(t, model.AttemptEventTime, ev.Type)
	assert.Equal(t, 59, ev.TimeRemaining)
	require.Len(t, f.cache.autosaves, 1)
}

func TestSyncAll_SkipsFreshAttempts(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	events, cancel := f.svc.Subscribe(f.attempt)
	defer cancel()

	f.advance(10 * time.Second)
	assert.Equal(t, 0, f.svc.SyncAll(f.ctx, 15*time.Second))
	assert.Empty(t, f.cache.autosaves)
	ev := <-events
	assert.Equal(t, model.AttemptEventTime, ev.Type)

	f.advance(5 * time.Second)
	assert.Equal(t, 1, f.svc.SyncAll(f.ctx, 15*time.Second))
	require.Len(t, f.cache.autosaves, 1)
	<-events

	// An explicit sync resets the autosave clock.
	f.advance(14 * time.Second)
	_, err := f.svc.Sync(f.ctx, f.attempt, f.student)
	require.NoError(t, err)
	f.advance(14 * time.Second)
	assert.Equal(t, 0, f.svc.SyncAll(f.ctx, 15*time.Second))
	assert.Len(t, f.cache.autosaves, 2)
	<-events

	// The shutdown flush saves regardless.
	assert.Equal(t, 1, f.svc.SyncAll(f.ctx, 0))
	assert.Len(t, f.cache.autosaves, 3)
}

func TestSweepIdle(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	_, err := f.svc.SetAnswer(f.ctx, f.attempt, f.student, "q2", []string{"q2_b"})
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	assert.Equal(t, 0, f.svc.SweepIdle(f.ctx, 10*time.Minute))

	f.advance(6 * time.Minute)
	assert.Equal(t, 1, f.svc.SweepIdle(f.ctx, 10*time.Minute))
	require.Len(t, f.cache.autosaves, 1)

	_, err = f.svc.View(f.ctx, f.attempt, f.student)
	assert.ErrorIs(t, err, ErrSessionNotStarted)

	// The evicted attempt resumes from its snapshot.
	remaining := 60
	f.store.records[f.attempt].TimeRemaining = &remaining
	f.advance(30 * time.Second)
	view := f.start(t)
	assert.Equal(t, attempt.StatusAnswered, view.Statuses["q2"])
	assert.Equal(t, 30, view.TimeRemaining)
}
