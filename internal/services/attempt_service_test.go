package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillify-edu/exam-service/internal/cache"
	"github.com/skillify-edu/exam-service/internal/events"
	"github.com/skillify-edu/exam-service/internal/models"
)

// ===== SCORING =====

func TestComputeScore(t *testing.T) {
	questions := sampleQuestions()

	tests := []struct {
		name        string
		answers     []models.SelectedAnswer
		wantCorrect int
		wantScore   int
	}{
		{
			name: "half correct rounds to 50",
			answers: []models.SelectedAnswer{
				{QuestionID: "q1", SelectedIndex: intPtr(0)},
				{QuestionID: "q2", SelectedIndex: intPtr(1)},
				{QuestionID: "q3", SelectedIndex: intPtr(0)},
				{QuestionID: "q4", SelectedIndex: intPtr(0)},
			},
			wantCorrect: 2,
			wantScore:   50,
		},
		{
			name: "all correct scores 100",
			answers: []models.SelectedAnswer{
				{QuestionID: "q1", SelectedIndex: intPtr(0)},
				{QuestionID: "q2", SelectedIndex: intPtr(1)},
				{QuestionID: "q3", SelectedIndex: intPtr(2)},
				{QuestionID: "q4", SelectedIndex: intPtr(3)},
			},
			wantCorrect: 4,
			wantScore:   100,
		},
		{
			name:        "empty sheet scores 0",
			answers:     nil,
			wantCorrect: 0,
			wantScore:   0,
		},
		{
			name: "nil selected index never matches",
			answers: []models.SelectedAnswer{
				{QuestionID: "q1", SelectedIndex: nil},
				{QuestionID: "q2", SelectedIndex: intPtr(1)},
			},
			wantCorrect: 1,
			wantScore:   25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, score := computeScore(questions, tt.answers)
			assert.Equal(t, tt.wantCorrect, correct)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestComputeScoreRounding(t *testing.T) {
	// 1 of 3 correct is 33.33..., which rounds down to 33.
	questions := sampleQuestions()[:3]
	correct, score := computeScore(questions, []models.SelectedAnswer{
		{QuestionID: "q1", SelectedIndex: intPtr(0)},
	})
	assert.Equal(t, 1, correct)
	assert.Equal(t, 33, score)

	// 2 of 3 correct is 66.66..., which rounds up to 67.
	correct, score = computeScore(questions, []models.SelectedAnswer{
		{QuestionID: "q1", SelectedIndex: intPtr(0)},
		{QuestionID: "q2", SelectedIndex: intPtr(1)},
	})
	assert.Equal(t, 2, correct)
	assert.Equal(t, 67, score)
}

func TestComputeScoreNoQuestions(t *testing.T) {
	correct, score := computeScore(nil, nil)
	assert.Equal(t, 0, correct)
	assert.Equal(t, 0, score)
}

// ===== ANSWER SANITIZATION =====

func TestSanitizeAnswers(t *testing.T) {
	questions := sampleQuestions()

	t.Run("drops unknown question ids", func(t *testing.T) {
		clean, _, err := sanitizeAnswers(questions, []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(0)},
			{QuestionID: "ghost", SelectedIndex: intPtr(1)},
		})
		require.NoError(t, err)
		require.Len(t, clean, 1)
		assert.Equal(t, "q1", clean[0].QuestionID)
	})

	t.Run("out of range index becomes unanswered", func(t *testing.T) {
		clean, _, err := sanitizeAnswers(questions, []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(4)},
			{QuestionID: "q2", SelectedIndex: intPtr(-1)},
		})
		require.NoError(t, err)
		require.Len(t, clean, 2)
		assert.Nil(t, clean[0].SelectedIndex)
		assert.Nil(t, clean[1].SelectedIndex)
	})

	t.Run("last write wins for duplicates", func(t *testing.T) {
		clean, _, err := sanitizeAnswers(questions, []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(0)},
			{QuestionID: "q1", SelectedIndex: intPtr(2)},
		})
		require.NoError(t, err)
		require.Len(t, clean, 1)
		require.NotNil(t, clean[0].SelectedIndex)
		assert.Equal(t, 2, *clean[0].SelectedIndex)
	})
}

// ===== ELIGIBILITY =====

func TestCheckEligibility(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	scheduledAt := base

	makeExam := func(status models.ExamStatus) *models.Exam {
		return &models.Exam{
			Status:      status,
			Scope:       models.ScopeAll,
			Duration:    60,
			ScheduledAt: &scheduledAt,
		}
	}

	t.Run("inside window passes", func(t *testing.T) {
		assert.NoError(t, checkEligibility(makeExam(models.ExamScheduled), "s1", base.Add(10*time.Minute)))
	})

	t.Run("grace period before start passes", func(t *testing.T) {
		assert.NoError(t, checkEligibility(makeExam(models.ExamScheduled), "s1", base.Add(-2*time.Minute)))
	})

	t.Run("too early fails", func(t *testing.T) {
		err := checkEligibility(makeExam(models.ExamScheduled), "s1", base.Add(-3*time.Minute))
		assert.ErrorIs(t, err, ErrExamNotEligible)
	})

	t.Run("after window fails", func(t *testing.T) {
		err := checkEligibility(makeExam(models.ExamScheduled), "s1", base.Add(61*time.Minute))
		assert.ErrorIs(t, err, ErrExamNotEligible)
	})

	t.Run("draft exam fails", func(t *testing.T) {
		err := checkEligibility(makeExam(models.ExamDraft), "s1", base)
		assert.ErrorIs(t, err, ErrExamNotEligible)
	})

	t.Run("out of scope student fails", func(t *testing.T) {
		exam := makeExam(models.ExamScheduled)
		exam.Scope = models.ScopeSelected
		require.NoError(t, exam.SetAssignedStudentIDs([]string{"someone-else"}))
		err := checkEligibility(exam, "s1", base)
		assert.ErrorIs(t, err, ErrExamNotEligible)
	})
}

// ===== ATTEMPT LIFECYCLE =====

func TestStartScheduledCreatesAttempt(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	resp, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)

	assert.Equal(t, models.AttemptOngoing, resp.Status)
	assert.False(t, resp.Resumed)
	assert.Len(t, resp.Questions, 4)
	assert.Nil(t, resp.Score)

	// The student view never carries correct indexes.
	for _, q := range resp.Questions {
		assert.NotEmpty(t, q.QuestionID)
		assert.Len(t, q.Options, models.OptionCount)
	}

	published := env.publisher.GetPublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventAttemptStarted, published[0].Type)
}

func TestStartScheduledResumesOngoing(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	first, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)

	second, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Resumed)
}

func TestStartScheduledRejectsSecondRun(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeAll, nil)

	resp, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	require.NoError(t, err)

	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: resp.ID}, "student-1")
	require.NoError(t, err)

	_, err = env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	assert.ErrorIs(t, err, ErrExamAlreadyAttended)
}

func TestStartScheduledScopeEnforced(t *testing.T) {
	env := newTestEnv()
	exam := env.seedScheduledExam(models.ScopeSelected, []string{"student-1"})

	_, err := env.attempts.StartScheduled(context.Background(), exam.ID, "student-1")
	assert.NoError(t, err)

	_, err = env.attempts.StartScheduled(context.Background(), exam.ID, "student-2")
	assert.ErrorIs(t, err, ErrExamNotEligible)
}

func TestStartCustomQuiz(t *testing.T) {
	env := newTestEnv()
	env.generator.questions = sampleQuestions()

	resp, err := env.attempts.StartCustom(context.Background(), &StartCustomQuizRequest{
		Topic:        "computer networks",
		Difficulty:   models.DifficultyMedium,
		NumQuestions: 4,
	}, "student-1")
	require.NoError(t, err)

	assert.Equal(t, models.CustomQuizRef, resp.ExamRef)
	assert.Len(t, resp.Questions, 4)
}

func TestStartCustomQuizValidation(t *testing.T) {
	env := newTestEnv()

	_, err := env.attempts.StartCustom(context.Background(), &StartCustomQuizRequest{
		Topic:        "x",
		Difficulty:   "impossible",
		NumQuestions: 0,
	}, "student-1")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestRecordAnswers(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	err := env.attempts.RecordAnswers(context.Background(), attempt.ID, "student-1", []models.SelectedAnswer{
		{QuestionID: "q1", SelectedIndex: intPtr(0)},
		{QuestionID: "bogus", SelectedIndex: intPtr(1)},
	})
	require.NoError(t, err)

	stored, err := env.repo.attempt.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	answers, err := stored.Answers()
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "q1", answers[0].QuestionID)
}

func TestRecordAnswersOwnershipAndFinalized(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	err := env.attempts.RecordAnswers(context.Background(), attempt.ID, "intruder", nil)
	assert.ErrorIs(t, err, ErrAttemptAccessDenied)

	err = env.attempts.RecordAnswers(context.Background(), attempt.ID, "student-1", []models.SelectedAnswer{
		{QuestionID: "q1", SelectedIndex: intPtr(0)},
	})
	require.NoError(t, err)

	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID}, "student-1")
	require.NoError(t, err)

	// A save that arrives after finalization is dropped without error and
	// leaves the stored sheet untouched.
	err = env.attempts.RecordAnswers(context.Background(), attempt.ID, "student-1", []models.SelectedAnswer{
		{QuestionID: "q2", SelectedIndex: intPtr(1)},
	})
	require.NoError(t, err)

	stored, err := env.repo.attempt.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	answers, err := stored.Answers()
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "q1", answers[0].QuestionID)
}

func TestSubmitScoresFinalSheet(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	resp, err := env.attempts.Submit(context.Background(), &SubmitAttemptRequest{
		AttemptID: attempt.ID,
		Answers: []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(0)},
			{QuestionID: "q2", SelectedIndex: intPtr(1)},
			{QuestionID: "q3", SelectedIndex: intPtr(0)},
			{QuestionID: "q4", SelectedIndex: nil},
		},
	}, "student-1")
	require.NoError(t, err)

	assert.Equal(t, models.AttemptSubmitted, resp.Status)
	require.NotNil(t, resp.Score)
	assert.Equal(t, 50, *resp.Score)
	require.NotNil(t, resp.Reason)
	assert.Equal(t, models.SubmitManual, *resp.Reason)
	assert.NotNil(t, resp.SubmittedAt)
}

func TestSubmitTimeUpReason(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	resp, err := env.attempts.Submit(context.Background(), &SubmitAttemptRequest{
		AttemptID: attempt.ID,
		TimeUp:    true,
	}, "student-1")
	require.NoError(t, err)

	// Running out of time is still the student's own submission; only a
	// proctor violation marks the attempt AUTO_SUBMITTED.
	assert.Equal(t, models.AttemptSubmitted, resp.Status)
	require.NotNil(t, resp.Reason)
	assert.Equal(t, models.SubmitTimeUp, *resp.Reason)
}

func TestSubmitIdempotent(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	first, err := env.attempts.Submit(context.Background(), &SubmitAttemptRequest{
		AttemptID: attempt.ID,
		Answers: []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(0)},
		},
	}, "student-1")
	require.NoError(t, err)

	// The second submit ships a perfect sheet, which must be ignored.
	second, err := env.attempts.Submit(context.Background(), &SubmitAttemptRequest{
		AttemptID: attempt.ID,
		Answers: []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(0)},
			{QuestionID: "q2", SelectedIndex: intPtr(1)},
			{QuestionID: "q3", SelectedIndex: intPtr(2)},
			{QuestionID: "q4", SelectedIndex: intPtr(3)},
		},
	}, "student-1")
	require.NoError(t, err)

	require.NotNil(t, second.Score)
	assert.Equal(t, *first.Score, *second.Score)
	assert.Equal(t, first.Status, second.Status)

	// Exactly one submitted event despite two submit calls.
	submitted := 0
	for _, e := range env.publisher.GetPublishedEvents() {
		if e.Type == events.EventAttemptSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
}

func TestAutoSubmitScoresStoredSheet(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	err := env.attempts.RecordAnswers(context.Background(), attempt.ID, "student-1", []models.SelectedAnswer{
		{QuestionID: "q1", SelectedIndex: intPtr(0)},
		{QuestionID: "q2", SelectedIndex: intPtr(1)},
	})
	require.NoError(t, err)

	finalized, err := env.attempts.AutoSubmit(context.Background(), attempt.ID, models.SubmitProctorViolation)
	require.NoError(t, err)

	assert.Equal(t, models.AttemptAutoSubmitted, finalized.Status)
	assert.Equal(t, 50, finalized.Score)
	require.NotNil(t, finalized.SubmitReason)
	assert.Equal(t, models.SubmitProctorViolation, *finalized.SubmitReason)
	assert.True(t, finalized.IsFinalized)
}

func TestAutoSubmitOnFinalizedIsNoop(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	_, err := env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID}, "student-1")
	require.NoError(t, err)

	finalized, err := env.attempts.AutoSubmit(context.Background(), attempt.ID, models.SubmitTimeUp)
	require.NoError(t, err)

	// The original manual submit wins.
	require.NotNil(t, finalized.SubmitReason)
	assert.Equal(t, models.SubmitManual, *finalized.SubmitReason)
	assert.Equal(t, models.AttemptSubmitted, finalized.Status)
}

func TestSubmitContention(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	// Another holder owns the attempt lock.
	held, err := env.cache.AcquireLock(context.Background(), cache.AttemptLockKey(attempt.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = env.attempts.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID}, "student-1")
	assert.ErrorIs(t, err, ErrAttemptBusy)
}

// ===== RESULTS =====

func TestResultNotReadyUntilFinalized(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	_, err := env.attempts.Result(context.Background(), attempt.ID, "student-1")
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestResultBreakdown(t *testing.T) {
	env := newTestEnv()
	attempt := env.seedOngoingAttempt("student-1")

	_, err := env.attempts.Submit(context.Background(), &SubmitAttemptRequest{
		AttemptID: attempt.ID,
		Answers: []models.SelectedAnswer{
			{QuestionID: "q1", SelectedIndex: intPtr(0)},
			{QuestionID: "q2", SelectedIndex: intPtr(3)},
		},
	}, "student-1")
	require.NoError(t, err)

	result, err := env.attempts.Result(context.Background(), attempt.ID, "student-1")
	require.NoError(t, err)

	assert.Equal(t, 25, result.Score)
	assert.Equal(t, 1, result.CorrectCount)
	assert.Equal(t, 4, result.TotalQuestions)
	require.Len(t, result.Breakdown, 4)

	byID := make(map[string]QuestionResult, len(result.Breakdown))
	for _, r := range result.Breakdown {
		byID[r.QuestionID] = r
	}
	assert.True(t, byID["q1"].Correct)
	assert.False(t, byID["q2"].Correct)
	assert.Nil(t, byID["q3"].SelectedIndex)
	assert.False(t, byID["q3"].Correct)
}

func TestGetByIDUnknownAttempt(t *testing.T) {
	env := newTestEnv()
	_, err := env.attempts.GetByID(context.Background(), 999, "student-1")
	assert.True(t, errors.Is(err, ErrAttemptNotFound))
}
