package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/skillify-edu/exam-service/internal/cache"
	"github.com/skillify-edu/exam-service/internal/events"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
	"github.com/skillify-edu/exam-service/internal/utils"
)

// AttemptService owns the attempt lifecycle: creation, answer recording and
// the one-way transition into a finalized state.
type AttemptService interface {
	// StartScheduled joins a scheduled exam. An existing unfinalized attempt
	// is resumed instead of creating a second one.
	StartScheduled(ctx context.Context, examID uint, studentID string) (*AttemptResponse, error)

	// StartCustom creates an ad-hoc AI-generated quiz attempt.
	StartCustom(ctx context.Context, req *StartCustomQuizRequest, studentID string) (*AttemptResponse, error)

	// RecordAnswers replaces the whole answer sheet. Writes against a
	// finalized attempt are dropped without error.
	RecordAnswers(ctx context.Context, attemptID uint, studentID string, answers []models.SelectedAnswer) error

	// Submit finalizes the attempt on behalf of the student. Submitting an
	// already finalized attempt returns it unchanged.
	Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error)

	// AutoSubmit finalizes the attempt without student consent, scoring the
	// stored answer sheet. Used for proctor violations and timeouts.
	AutoSubmit(ctx context.Context, attemptID uint, reason models.SubmitReason) (*models.QuizAttempt, error)

	GetByID(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error)

	// Result returns the per-question breakdown. It fails until the attempt
	// is finalized.
	Result(ctx context.Context, attemptID uint, studentID string) (*AttemptResultResponse, error)

	ListForStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error)
}

// ===== REQUEST / RESPONSE TYPES =====

type StartCustomQuizRequest struct {
	Topic        string                 `json:"topic" validate:"required,min=2,max=200"`
	Difficulty   models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	NumQuestions int                    `json:"num_questions" validate:"required,min=1,max=50"`
	SourceText   string                 `json:"source_text,omitempty" validate:"omitempty,max=100000"`
}

type SubmitAttemptRequest struct {
	AttemptID uint                    `json:"attempt_id" validate:"required"`
	Answers   []models.SelectedAnswer `json:"answers,omitempty"`
	TimeUp    bool                    `json:"time_up,omitempty"`
}

// AttemptResponse is the student-facing view of an attempt. Questions are
// stripped of correct indexes.
type AttemptResponse struct {
	ID          uint                     `json:"id"`
	ExamRef     string                   `json:"exam_ref"`
	Status      models.AttemptStatus     `json:"status"`
	Questions   []models.StudentQuestion `json:"questions,omitempty"`
	Answers     []models.SelectedAnswer  `json:"answers,omitempty"`
	Warnings    models.WarningCounts     `json:"warnings"`
	Score       *int                     `json:"score,omitempty"`
	Reason      *models.SubmitReason     `json:"submit_reason,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	SubmittedAt *time.Time               `json:"submitted_at,omitempty"`
	Resumed     bool                     `json:"resumed,omitempty"`
}

type QuestionResult struct {
	QuestionID    string   `json:"question_id"`
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectIndex  int      `json:"correct_index"`
	SelectedIndex *int     `json:"selected_index"`
	Correct       bool     `json:"correct"`
}

type AttemptResultResponse struct {
	AttemptID      uint                 `json:"attempt_id"`
	ExamRef        string               `json:"exam_ref"`
	Status         models.AttemptStatus `json:"status"`
	Reason         models.SubmitReason  `json:"submit_reason"`
	Score          int                  `json:"score"`
	CorrectCount   int                  `json:"correct_count"`
	TotalQuestions int                  `json:"total_questions"`
	Warnings       models.WarningCounts `json:"warnings"`
	SubmittedAt    *time.Time           `json:"submitted_at"`
	Breakdown      []QuestionResult     `json:"breakdown"`
}

// ===== SERVICE =====

type attemptService struct {
	repo      repositories.Repository
	generator GenerationService
	cache     cache.CacheService
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *utils.Validator
	now       func() time.Time
}

func NewAttemptService(
	repo repositories.Repository,
	generator GenerationService,
	cacheService cache.CacheService,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *utils.Validator,
) AttemptService {
	return &attemptService{
		repo:      repo,
		generator: generator,
		cache:     cacheService,
		publisher: publisher,
		logger:    logger,
		validator: validator,
		now:       time.Now,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) StartScheduled(ctx context.Context, examID uint, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Starting scheduled exam attempt",
		"exam_id", examID,
		"student_id", studentID)

	exam, err := s.repo.Exam().GetByID(ctx, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	if err := checkEligibility(exam, studentID, s.now()); err != nil {
		return nil, err
	}

	examRef := strconv.FormatUint(uint64(examID), 10)

	// A finalized attempt already exists: scheduled exams are single shot.
	attended, err := s.repo.Attempt().HasFinalized(ctx, studentID, examRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check prior attempts: %w", err)
	}
	if attended {
		return nil, ErrExamAlreadyAttended
	}

	// Resume the in-flight attempt instead of creating a second one.
	ongoing, err := s.repo.Attempt().GetOngoing(ctx, studentID, examRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check ongoing attempt: %w", err)
	}
	if ongoing != nil {
		s.logger.Info("Resuming existing attempt", "attempt_id", ongoing.ID)
		resp, err := s.toResponse(ongoing, true)
		if err != nil {
			return nil, err
		}
		resp.Resumed = true
		return resp, nil
	}

	questions, err := exam.QuestionSet()
	if err != nil {
		return nil, fmt.Errorf("failed to decode exam questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrExamNoQuestions
	}

	attempt := &models.QuizAttempt{
		StudentID: studentID,
		ExamRef:   examRef,
		ExamID:    &exam.ID,
		Status:    models.AttemptOngoing,
		StartedAt: s.now(),
	}
	if err := attempt.SetSnapshotQuestions(questions); err != nil {
		return nil, fmt.Errorf("failed to snapshot questions: %w", err)
	}

	if err := s.repo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.publishEvent(ctx, events.NewAttemptStartedEvent(attempt))

	s.logger.Info("Scheduled exam attempt started",
		"attempt_id", attempt.ID,
		"exam_id", examID,
		"student_id", studentID)

	return s.toResponse(attempt, true)
}

func (s *attemptService) StartCustom(ctx context.Context, req *StartCustomQuizRequest, studentID string) (*AttemptResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	s.logger.Info("Starting custom quiz attempt",
		"student_id", studentID,
		"topic", req.Topic,
		"num_questions", req.NumQuestions)

	questions, err := s.generator.Generate(ctx, &GenerationRequest{
		Topic:        req.Topic,
		Difficulty:   req.Difficulty,
		NumQuestions: req.NumQuestions,
		SourceText:   req.SourceText,
	})
	if err != nil {
		return nil, err
	}

	attempt := &models.QuizAttempt{
		StudentID: studentID,
		ExamRef:   models.CustomQuizRef,
		Status:    models.AttemptOngoing,
		StartedAt: s.now(),
	}
	if err := attempt.SetSnapshotQuestions(questions); err != nil {
		return nil, fmt.Errorf("failed to snapshot questions: %w", err)
	}

	if err := s.repo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.publishEvent(ctx, events.NewAttemptStartedEvent(attempt))

	s.logger.Info("Custom quiz attempt started",
		"attempt_id", attempt.ID,
		"student_id", studentID)

	return s.toResponse(attempt, true)
}

func (s *attemptService) RecordAnswers(ctx context.Context, attemptID uint, studentID string, answers []models.SelectedAnswer) error {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	// Writes against a finalized attempt are dropped without error; the
	// stored sheet is already the authoritative one.
	if attempt.IsFinalized {
		return nil
	}

	questions, err := attempt.SnapshotQuestions()
	if err != nil {
		return fmt.Errorf("failed to decode question snapshot: %w", err)
	}

	_, sheet, err := sanitizeAnswers(questions, answers)
	if err != nil {
		return err
	}

	// SaveAnswerSheet reports false when the attempt finalized between the
	// read and the write; the late sheet is dropped the same way.
	if _, err := s.repo.Attempt().SaveAnswerSheet(ctx, attemptID, sheet); err != nil {
		return fmt.Errorf("failed to save answer sheet: %w", err)
	}
	return nil
}

func (s *attemptService) Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	attempt, err := s.getOwned(ctx, req.AttemptID, studentID)
	if err != nil {
		return nil, err
	}

	// Repeat submits return the finalized attempt as-is.
	if attempt.IsFinalized {
		s.logger.Info("Submit on finalized attempt, returning existing state",
			"attempt_id", attempt.ID)
		return s.toResponse(attempt, false)
	}

	reason := models.SubmitManual
	if req.TimeUp {
		reason = models.SubmitTimeUp
	}

	finalized, err := s.finalize(ctx, attempt, reason, req.Answers)
	if err != nil {
		return nil, err
	}
	return s.toResponse(finalized, false)
}

func (s *attemptService) AutoSubmit(ctx context.Context, attemptID uint, reason models.SubmitReason) (*models.QuizAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.IsFinalized {
		return attempt, nil
	}
	return s.finalize(ctx, attempt, reason, nil)
}

func (s *attemptService) GetByID(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error) {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	return s.toResponse(attempt, !attempt.IsFinalized)
}

func (s *attemptService) Result(ctx context.Context, attemptID uint, studentID string) (*AttemptResultResponse, error) {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsFinalized {
		return nil, ErrResultNotReady
	}
	return buildResult(attempt)
}

func (s *attemptService) ListForStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	filters.StudentID = &studentID
	return s.repo.Attempt().List(ctx, filters)
}

// ===== FINALIZATION =====

// finalize scores the sheet and performs the compare-and-swap into the
// terminal state. When the swap is lost to a concurrent finalizer the
// attempt is reloaded and returned without error.
func (s *attemptService) finalize(ctx context.Context, attempt *models.QuizAttempt, reason models.SubmitReason, lastAnswers []models.SelectedAnswer) (*models.QuizAttempt, error) {
	lockKey := cache.AttemptLockKey(attempt.ID)
	locked, err := s.cache.AcquireLock(ctx, lockKey, attemptLockTTL)
	if err != nil {
		s.logger.Warn("Attempt lock unavailable, relying on storage guard",
			"attempt_id", attempt.ID, "error", err)
	} else if !locked {
		return nil, ErrAttemptBusy
	} else {
		defer func() {
			if err := s.cache.ReleaseLock(ctx, lockKey); err != nil {
				s.logger.Warn("Failed to release attempt lock",
					"attempt_id", attempt.ID, "error", err)
			}
		}()
	}

	questions, err := attempt.SnapshotQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
	}

	answers, err := attempt.Answers()
	if err != nil {
		return nil, fmt.Errorf("failed to decode answer sheet: %w", err)
	}

	params := repositories.FinalizeParams{
		Status:      statusForReason(reason),
		Reason:      reason,
		SubmittedAt: s.now(),
	}

	// A final sheet shipped with the submit replaces the stored one.
	if lastAnswers != nil {
		clean, sheet, err := sanitizeAnswers(questions, lastAnswers)
		if err != nil {
			return nil, err
		}
		params.AnswerSheet = sheet
		answers = clean
	}

	correct, score := computeScore(questions, answers)
	params.Score = score

	won, err := s.repo.Attempt().Finalize(ctx, attempt.ID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize attempt: %w", err)
	}
	if !won {
		s.logger.Info("Attempt finalized concurrently, returning stored state",
			"attempt_id", attempt.ID)
		return s.repo.Attempt().GetByID(ctx, attempt.ID)
	}

	attempt.Status = params.Status
	attempt.SubmitReason = &params.Reason
	attempt.Score = score
	attempt.IsFinalized = true
	attempt.SubmittedAt = &params.SubmittedAt
	if params.AnswerSheet != nil {
		attempt.AnswerSheet = params.AnswerSheet
	}

	s.publishEvent(ctx, events.NewAttemptSubmittedEvent(attempt, reason, params.SubmittedAt))

	s.logger.Info("Attempt finalized",
		"attempt_id", attempt.ID,
		"status", attempt.Status,
		"reason", reason,
		"score", score,
		"correct", correct)

	return attempt, nil
}

// ===== HELPERS =====

func (s *attemptService) getOwned(ctx context.Context, attemptID uint, studentID string) (*models.QuizAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptAccessDenied
	}
	return attempt, nil
}

func (s *attemptService) publishEvent(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt event",
			"event_type", event.Type, "error", err)
	}
}

func (s *attemptService) toResponse(attempt *models.QuizAttempt, includeQuestions bool) (*AttemptResponse, error) {
	resp := &AttemptResponse{
		ID:          attempt.ID,
		ExamRef:     attempt.ExamRef,
		Status:      attempt.Status,
		Warnings:    attempt.WarningCounts(),
		Reason:      attempt.SubmitReason,
		StartedAt:   attempt.StartedAt,
		SubmittedAt: attempt.SubmittedAt,
	}

	if attempt.IsFinalized {
		score := attempt.Score
		resp.Score = &score
	}

	if includeQuestions {
		questions, err := attempt.SnapshotQuestions()
		if err != nil {
			return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
		}
		resp.Questions = models.StudentView(questions)

		answers, err := attempt.Answers()
		if err != nil {
			return nil, fmt.Errorf("failed to decode answer sheet: %w", err)
		}
		resp.Answers = answers
	}

	return resp, nil
}
