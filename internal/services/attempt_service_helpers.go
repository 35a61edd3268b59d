package services

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gorm.io/datatypes"

	"github.com/skillify-edu/exam-service/internal/models"
)

// attemptLockTTL bounds the per-attempt mutation lock so a crashed holder
// cannot wedge the attempt.
const attemptLockTTL = 10 * time.Second

// checkEligibility enforces the join rules for a scheduled exam: the exam
// must be in SCHEDULED status, the current time inside the attempt window,
// and the student inside the exam's scope.
func checkEligibility(exam *models.Exam, studentID string, now time.Time) error {
	if exam.Status != models.ExamScheduled {
		return ErrExamNotEligible
	}

	start, end, ok := exam.AttemptWindow()
	if !ok {
		return ErrExamNotEligible
	}
	if now.Before(start) || now.After(end) {
		return ErrExamNotEligible
	}

	if !exam.IsAssignedTo(studentID) {
		return ErrExamNotEligible
	}
	return nil
}

// sanitizeAnswers drops entries whose question id is not in the snapshot or
// whose selected index is out of range, then returns both the cleaned slice
// and its JSON encoding.
func sanitizeAnswers(questions []models.QuizQuestion, answers []models.SelectedAnswer) ([]models.SelectedAnswer, datatypes.JSON, error) {
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.QuestionID] = struct{}{}
	}

	clean := make([]models.SelectedAnswer, 0, len(answers))
	seen := make(map[string]struct{}, len(answers))
	for _, ans := range answers {
		if _, ok := known[ans.QuestionID]; !ok {
			continue
		}
		// Last write wins for duplicated question ids.
		if _, dup := seen[ans.QuestionID]; dup {
			for i := range clean {
				if clean[i].QuestionID == ans.QuestionID {
					clean[i].SelectedIndex = ans.SelectedIndex
					break
				}
			}
			continue
		}
		seen[ans.QuestionID] = struct{}{}

		if ans.SelectedIndex != nil {
			idx := *ans.SelectedIndex
			if idx < 0 || idx >= models.OptionCount {
				ans.SelectedIndex = nil
			}
		}
		clean = append(clean, ans)
	}

	sheet, err := json.Marshal(clean)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode answer sheet: %w", err)
	}
	return clean, sheet, nil
}

// computeScore grades the sheet against the snapshot. Unanswered questions
// never match. The score is the rounded percentage of correct answers.
func computeScore(questions []models.QuizQuestion, answers []models.SelectedAnswer) (correct, score int) {
	if len(questions) == 0 {
		return 0, 0
	}

	selected := make(map[string]*int, len(answers))
	for _, ans := range answers {
		selected[ans.QuestionID] = ans.SelectedIndex
	}

	for _, q := range questions {
		idx, ok := selected[q.QuestionID]
		if !ok || idx == nil {
			continue
		}
		if *idx == q.CorrectIndex {
			correct++
		}
	}

	score = int(math.Round(100 * float64(correct) / float64(len(questions))))
	return correct, score
}

// statusForReason maps the submit reason onto the terminal status. Only a
// proctor violation marks the attempt AUTO_SUBMITTED; running out of time is
// still the student's own submission.
func statusForReason(reason models.SubmitReason) models.AttemptStatus {
	if reason == models.SubmitProctorViolation {
		return models.AttemptAutoSubmitted
	}
	return models.AttemptSubmitted
}

// buildResult assembles the per-question breakdown for a finalized attempt.
func buildResult(attempt *models.QuizAttempt) (*AttemptResultResponse, error) {
	questions, err := attempt.SnapshotQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
	}
	answers, err := attempt.Answers()
	if err != nil {
		return nil, fmt.Errorf("failed to decode answer sheet: %w", err)
	}

	selected := make(map[string]*int, len(answers))
	for _, ans := range answers {
		selected[ans.QuestionID] = ans.SelectedIndex
	}

	breakdown := make([]QuestionResult, 0, len(questions))
	correct := 0
	for _, q := range questions {
		idx := selected[q.QuestionID]
		isCorrect := idx != nil && *idx == q.CorrectIndex
		if isCorrect {
			correct++
		}
		breakdown = append(breakdown, QuestionResult{
			QuestionID:    q.QuestionID,
			Prompt:        q.Prompt,
			Options:       q.Options,
			CorrectIndex:  q.CorrectIndex,
			SelectedIndex: idx,
			Correct:       isCorrect,
		})
	}

	var reason models.SubmitReason
	if attempt.SubmitReason != nil {
		reason = *attempt.SubmitReason
	}

	return &AttemptResultResponse{
		AttemptID:      attempt.ID,
		ExamRef:        attempt.ExamRef,
		Status:         attempt.Status,
		Reason:         reason,
		Score:          attempt.Score,
		CorrectCount:   correct,
		TotalQuestions: attempt.TotalQuestions,
		Warnings:       attempt.WarningCounts(),
		SubmittedAt:    attempt.SubmittedAt,
		Breakdown:      breakdown,
	}, nil
}
