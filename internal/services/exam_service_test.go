package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillify-edu/exam-service/internal/events"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
)

func createDraftExam(t *testing.T, env *testEnv, facultyID string) *models.Exam {
	t.Helper()
	exam, err := env.exams.Create(context.Background(), &CreateExamRequest{
		Title:      "Distributed Systems Final",
		Subject:    "distributed systems",
		Difficulty: models.DifficultyHard,
		Duration:   90,
		Questions:  sampleQuestions(),
	}, facultyID)
	require.NoError(t, err)
	return exam
}

// ===== CREATION =====

func TestCreateExamWithQuestions(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	assert.Equal(t, models.ExamDraft, exam.Status)
	assert.Equal(t, 4, exam.TotalQuestions)
	assert.Equal(t, models.ScopeAll, exam.Scope)
}

func TestCreateExamGeneratesQuestions(t *testing.T) {
	env := newTestEnv()
	env.generator.questions = sampleQuestions()

	exam, err := env.exams.Create(context.Background(), &CreateExamRequest{
		Title:        "Generated Quiz",
		Subject:      "algorithms",
		Difficulty:   models.DifficultyMedium,
		Duration:     30,
		NumQuestions: 4,
	}, "faculty-1")
	require.NoError(t, err)
	assert.Equal(t, 4, exam.TotalQuestions)
}

func TestCreateExamNeedsQuestionsOrCount(t *testing.T) {
	env := newTestEnv()

	_, err := env.exams.Create(context.Background(), &CreateExamRequest{
		Title:      "Empty Exam",
		Subject:    "nothing",
		Difficulty: models.DifficultyEasy,
		Duration:   30,
	}, "faculty-1")
	assert.True(t, IsBusinessRule(err))
}

// ===== DRAFT EDITING =====

func TestUpdateExamDraftOnly(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	title := "Renamed Final"
	updated, err := env.exams.Update(context.Background(), exam.ID, &UpdateExamRequest{Title: &title}, "faculty-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed Final", updated.Title)

	_, err = env.exams.Approve(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)

	_, err = env.exams.Update(context.Background(), exam.ID, &UpdateExamRequest{Title: &title}, "faculty-1")
	assert.ErrorIs(t, err, ErrExamNotEditable)
}

func TestUpdateQuestion(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	err := env.exams.UpdateQuestion(context.Background(), exam.ID, &models.QuizQuestion{
		QuestionID:   "q1",
		Prompt:       "Rewritten prompt",
		Options:      []string{"w", "x", "y", "z"},
		CorrectIndex: 3,
	}, "faculty-1")
	require.NoError(t, err)

	stored, err := env.exams.Get(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)
	questions, err := stored.QuestionSet()
	require.NoError(t, err)
	assert.Equal(t, "Rewritten prompt", questions[0].Prompt)
	assert.Equal(t, 3, questions[0].CorrectIndex)
}

func TestUpdateQuestionUnknownID(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	err := env.exams.UpdateQuestion(context.Background(), exam.ID, &models.QuizQuestion{
		QuestionID:   "no-such-question",
		Prompt:       "Whatever",
		Options:      []string{"a", "b", "c", "d"},
		CorrectIndex: 0,
	}, "faculty-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveQuestion(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	require.NoError(t, env.exams.RemoveQuestion(context.Background(), exam.ID, "q2", "faculty-1"))

	stored, err := env.exams.Get(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TotalQuestions)

	err = env.exams.RemoveQuestion(context.Background(), exam.ID, "q2", "faculty-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ===== LIFECYCLE TRANSITIONS =====

func TestApproveExam(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	approved, err := env.exams.Approve(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExamApproved, approved.Status)

	// Approving twice fails.
	_, err = env.exams.Approve(context.Background(), exam.ID, "faculty-1")
	assert.ErrorIs(t, err, ErrExamNotApprovable)
}

func TestScheduleExam(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")
	_, err := env.exams.Approve(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)

	scheduledAt := env.clock.Now().Add(time.Hour)
	scheduled, err := env.exams.Schedule(context.Background(), exam.ID, &ScheduleExamRequest{
		ScheduledAt:      scheduledAt,
		Scope:            models.ScopeSelected,
		AssignedStudents: []string{"student-1", "student-2"},
	}, "faculty-1")
	require.NoError(t, err)

	assert.Equal(t, models.ExamScheduled, scheduled.Status)
	assert.Equal(t, models.ScopeSelected, scheduled.Scope)
	require.NotNil(t, scheduled.ScheduledAt)
	assert.True(t, scheduled.ScheduledAt.Equal(scheduledAt))

	published := env.publisher.GetPublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventExamScheduled, published[0].Type)
}

func TestScheduleRequiresApproval(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	_, err := env.exams.Schedule(context.Background(), exam.ID, &ScheduleExamRequest{
		ScheduledAt: env.clock.Now().Add(time.Hour),
		Scope:       models.ScopeAll,
	}, "faculty-1")
	assert.ErrorIs(t, err, ErrExamNotSchedulable)
}

func TestScheduleRejectsPastTime(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")
	_, err := env.exams.Approve(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)

	_, err = env.exams.Schedule(context.Background(), exam.ID, &ScheduleExamRequest{
		ScheduledAt: env.clock.Now().Add(-time.Minute),
		Scope:       models.ScopeAll,
	}, "faculty-1")
	assert.True(t, IsBusinessRule(err))
}

func TestScheduleSelectedScopeNeedsStudents(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")
	_, err := env.exams.Approve(context.Background(), exam.ID, "faculty-1")
	require.NoError(t, err)

	_, err = env.exams.Schedule(context.Background(), exam.ID, &ScheduleExamRequest{
		ScheduledAt: env.clock.Now().Add(time.Hour),
		Scope:       models.ScopeSelected,
	}, "faculty-1")
	assert.True(t, IsBusinessRule(err))
}

// ===== OWNERSHIP =====

func TestExamOwnership(t *testing.T) {
	env := newTestEnv()
	exam := createDraftExam(t, env, "faculty-1")

	_, err := env.exams.Get(context.Background(), exam.ID, "faculty-2")
	assert.ErrorIs(t, err, ErrExamNotFound)
}

// ===== STUDENT LISTING =====

func TestListOpenForStudent(t *testing.T) {
	env := newTestEnv()

	open := env.seedScheduledExam(models.ScopeAll, nil)
	env.seedScheduledExam(models.ScopeSelected, []string{"someone-else"})

	summaries, err := env.exams.ListOpenForStudent(context.Background(), "student-1")
	require.NoError(t, err)

	require.Len(t, summaries, 1)
	assert.Equal(t, open.ID, summaries[0].ExamID)
	assert.False(t, summaries[0].Attempted)
	assert.True(t, summaries[0].WindowOpensAt.Before(summaries[0].WindowClosesAt))
}

func TestListOpenForStudentMarksAttempted(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	resp, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)
	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: resp.ID}, "student-1")
	require.NoError(t, err)

	summaries, err := env.exams.ListOpenForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].Attempted)
}

func TestExamAttemptDetail(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	resp, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)

	attempt, err := env.exams.AttemptDetail(context.Background(), exam.ID, resp.ID, "faculty-1")
	require.NoError(t, err)
	assert.Equal(t, "student-1", attempt.StudentID)

	// Wrong owner and wrong exam both read as missing.
	_, err = env.exams.AttemptDetail(context.Background(), exam.ID, resp.ID, "faculty-2")
	assert.ErrorIs(t, err, ErrExamNotFound)

	other := env.seedOngoingAttempt("student-2")
	_, err = env.exams.AttemptDetail(context.Background(), exam.ID, other.ID, "faculty-1")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestAllResultsAcrossFacultyExams(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	resp, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)
	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: resp.ID}, "student-1")
	require.NoError(t, err)

	// Custom quizzes belong to no exam and must not leak into faculty views.
	custom := env.seedOngoingAttempt("student-1")
	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: custom.ID}, "student-1")
	require.NoError(t, err)

	attempts, total, err := env.exams.AllResults(context.Background(), "faculty-1", repositories.AttemptFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, attempts, 1)
	assert.Equal(t, "student-1", attempts[0].StudentID)

	// A faculty member with no exams sees nothing.
	attempts, total, err = env.exams.AllResults(context.Background(), "faculty-9", repositories.AttemptFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, attempts)
}

// ===== RESULTS =====

func TestExamResultsFinalizedOnly(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	first, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)
	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: first.ID}, "student-1")
	require.NoError(t, err)

	// A second student starts but never submits.
	_, err = env.attempts.StartScheduled(context.Background(), exam.ID, "student-2")
	require.NoError(t, err)

	results, total, err := env.exams.Results(context.Background(), exam.ID, "faculty-1", repositories.AttemptFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, results, 1)
	assert.Equal(t, "student-1", results[0].StudentID)
	assert.True(t, results[0].IsFinalized)
}
