package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/skillify-edu/exam-service/internal/events"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
	"github.com/skillify-edu/exam-service/internal/utils"
)

// ExamService owns the faculty side of the exam lifecycle:
// DRAFT -> APPROVED -> SCHEDULED. Question edits are only legal while the
// exam is still a draft, since attempts snapshot questions at creation.
type ExamService interface {
	Create(ctx context.Context, req *CreateExamRequest, facultyID string) (*models.Exam, error)
	Get(ctx context.Context, examID uint, facultyID string) (*models.Exam, error)
	Update(ctx context.Context, examID uint, req *UpdateExamRequest, facultyID string) (*models.Exam, error)
	UpdateQuestion(ctx context.Context, examID uint, question *models.QuizQuestion, facultyID string) error
	RemoveQuestion(ctx context.Context, examID uint, questionID, facultyID string) error
	Approve(ctx context.Context, examID uint, facultyID string) (*models.Exam, error)
	Schedule(ctx context.Context, examID uint, req *ScheduleExamRequest, facultyID string) (*models.Exam, error)
	ListForFaculty(ctx context.Context, facultyID string, filters repositories.ExamFilters) ([]*models.Exam, int64, error)

	// ListOpenForStudent returns the scheduled exams the student may still
	// join, with correct answers stripped.
	ListOpenForStudent(ctx context.Context, studentID string) ([]*StudentExamSummary, error)

	// Results lists the finalized attempts against one exam.
	Results(ctx context.Context, examID uint, facultyID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error)

	// AttemptDetail returns one attempt against the faculty member's exam,
	// student record included.
	AttemptDetail(ctx context.Context, examID, attemptID uint, facultyID string) (*models.QuizAttempt, error)

	// AllResults lists finalized attempts across every exam the faculty
	// member owns.
	AllResults(ctx context.Context, facultyID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error)
}

// ===== REQUEST / RESPONSE TYPES =====

type CreateExamRequest struct {
	Title       string                 `json:"title" validate:"required,min=1,max=200"`
	Description *string                `json:"description,omitempty" validate:"omitempty,max=1000"`
	Subject     string                 `json:"subject" validate:"required,min=1,max=100"`
	Difficulty  models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	Duration    int                    `json:"duration" validate:"required,min=5,max=300"`

	// Either a ready question set or generation inputs.
	Questions    []models.QuizQuestion `json:"questions,omitempty" validate:"omitempty,dive"`
	NumQuestions int                   `json:"num_questions,omitempty" validate:"omitempty,min=1,max=50"`
	SourceText   string                `json:"source_text,omitempty"`
}

type UpdateExamRequest struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	Subject     *string `json:"subject,omitempty" validate:"omitempty,min=1,max=100"`
	Duration    *int    `json:"duration,omitempty" validate:"omitempty,min=5,max=300"`
}

type ScheduleExamRequest struct {
	ScheduledAt      time.Time        `json:"scheduled_at" validate:"required"`
	Scope            models.ExamScope `json:"scope" validate:"required,exam_scope"`
	AssignedStudents []string         `json:"assigned_students,omitempty" validate:"omitempty,min=1,dive,required"`
}

// StudentExamSummary is the joinable-exam listing entry for students.
type StudentExamSummary struct {
	ExamID         uint      `json:"exam_id"`
	Title          string    `json:"title"`
	Subject        string    `json:"subject"`
	Duration       int       `json:"duration"`
	TotalQuestions int       `json:"total_questions"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	WindowOpensAt  time.Time `json:"window_opens_at"`
	WindowClosesAt time.Time `json:"window_closes_at"`
	Attempted      bool      `json:"attempted"`
}

// ===== SERVICE =====

type examService struct {
	repo      repositories.Repository
	generator GenerationService
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *utils.Validator
	now       func() time.Time
}

func NewExamService(
	repo repositories.Repository,
	generator GenerationService,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *utils.Validator,
) ExamService {
	return &examService{
		repo:      repo,
		generator: generator,
		publisher: publisher,
		logger:    logger,
		validator: validator,
		now:       time.Now,
	}
}

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, facultyID string) (*models.Exam, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	questions := req.Questions
	if len(questions) == 0 {
		if req.NumQuestions == 0 {
			return nil, NewBusinessRuleError("exam_questions",
				"either questions or num_questions must be provided", nil)
		}
		generated, err := s.generator.Generate(ctx, &GenerationRequest{
			Topic:        req.Subject,
			Difficulty:   req.Difficulty,
			NumQuestions: req.NumQuestions,
			SourceText:   req.SourceText,
			Strict:       true,
		})
		if err != nil {
			return nil, err
		}
		questions = generated
	}

	exam := &models.Exam{
		Title:       req.Title,
		Description: req.Description,
		Subject:     req.Subject,
		Difficulty:  string(req.Difficulty),
		FacultyID:   facultyID,
		Duration:    req.Duration,
		Status:      models.ExamDraft,
		Scope:       models.ScopeAll,
	}
	if err := exam.SetQuestionSet(questions); err != nil {
		return nil, fmt.Errorf("failed to encode questions: %w", err)
	}

	if err := s.repo.Exam().Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("failed to create exam: %w", err)
	}

	s.logger.Info("Exam created",
		"exam_id", exam.ID,
		"faculty_id", facultyID,
		"questions", exam.TotalQuestions)
	return exam, nil
}

func (s *examService) Get(ctx context.Context, examID uint, facultyID string) (*models.Exam, error) {
	return s.getOwned(ctx, examID, facultyID)
}

func (s *examService) Update(ctx context.Context, examID uint, req *UpdateExamRequest, facultyID string) (*models.Exam, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return nil, err
	}
	if exam.Status != models.ExamDraft {
		return nil, ErrExamNotEditable
	}

	if req.Title != nil {
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = req.Description
	}
	if req.Subject != nil {
		exam.Subject = *req.Subject
	}
	if req.Duration != nil {
		exam.Duration = *req.Duration
	}

	if err := s.repo.Exam().Update(ctx, exam); err != nil {
		return nil, fmt.Errorf("failed to update exam: %w", err)
	}
	return exam, nil
}

func (s *examService) UpdateQuestion(ctx context.Context, examID uint, question *models.QuizQuestion, facultyID string) error {
	if err := s.validator.Validate(question); err != nil {
		return fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return err
	}
	if exam.Status != models.ExamDraft {
		return ErrExamNotEditable
	}

	questions, err := exam.QuestionSet()
	if err != nil {
		return fmt.Errorf("failed to decode questions: %w", err)
	}

	replaced := false
	for i := range questions {
		if questions[i].QuestionID == question.QuestionID {
			questions[i] = *question
			replaced = true
			break
		}
	}
	if !replaced {
		return ErrNotFound
	}

	if err := exam.SetQuestionSet(questions); err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	if err := s.repo.Exam().Update(ctx, exam); err != nil {
		return fmt.Errorf("failed to update exam: %w", err)
	}
	return nil
}

func (s *examService) RemoveQuestion(ctx context.Context, examID uint, questionID, facultyID string) error {
	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return err
	}
	if exam.Status != models.ExamDraft {
		return ErrExamNotEditable
	}

	questions, err := exam.QuestionSet()
	if err != nil {
		return fmt.Errorf("failed to decode questions: %w", err)
	}

	kept := make([]models.QuizQuestion, 0, len(questions))
	for _, q := range questions {
		if q.QuestionID != questionID {
			kept = append(kept, q)
		}
	}
	if len(kept) == len(questions) {
		return ErrNotFound
	}

	if err := exam.SetQuestionSet(kept); err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	if err := s.repo.Exam().Update(ctx, exam); err != nil {
		return fmt.Errorf("failed to update exam: %w", err)
	}
	return nil
}

func (s *examService) Approve(ctx context.Context, examID uint, facultyID string) (*models.Exam, error) {
	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return nil, err
	}
	if exam.Status != models.ExamDraft {
		return nil, ErrExamNotApprovable
	}
	if exam.TotalQuestions == 0 {
		return nil, ErrExamNoQuestions
	}

	exam.Status = models.ExamApproved
	if err := s.repo.Exam().Update(ctx, exam); err != nil {
		return nil, fmt.Errorf("failed to approve exam: %w", err)
	}

	s.logger.Info("Exam approved", "exam_id", exam.ID, "faculty_id", facultyID)
	return exam, nil
}

func (s *examService) Schedule(ctx context.Context, examID uint, req *ScheduleExamRequest, facultyID string) (*models.Exam, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}
	if req.ScheduledAt.Before(s.now()) {
		return nil, NewBusinessRuleError("exam_schedule",
			"scheduled time must be in the future", nil)
	}
	if req.Scope == models.ScopeSelected && len(req.AssignedStudents) == 0 {
		return nil, NewBusinessRuleError("exam_scope",
			"SELECTED scope requires assigned students", nil)
	}

	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return nil, err
	}
	if exam.Status != models.ExamApproved {
		return nil, ErrExamNotSchedulable
	}

	scheduledAt := req.ScheduledAt
	exam.Status = models.ExamScheduled
	exam.Scope = req.Scope
	exam.ScheduledAt = &scheduledAt
	if req.Scope == models.ScopeSelected {
		if err := exam.SetAssignedStudentIDs(req.AssignedStudents); err != nil {
			return nil, fmt.Errorf("failed to encode assigned students: %w", err)
		}
	}

	if err := s.repo.Exam().Update(ctx, exam); err != nil {
		return nil, fmt.Errorf("failed to schedule exam: %w", err)
	}

	if s.publisher != nil {
		event := events.NewExamScheduledEvent(exam, req.AssignedStudents)
		if err := s.publisher.PublishEvent(ctx, event); err != nil {
			s.logger.Error("Failed to publish exam scheduled event",
				"exam_id", exam.ID, "error", err)
		}
	}

	s.logger.Info("Exam scheduled",
		"exam_id", exam.ID,
		"scheduled_at", scheduledAt,
		"scope", exam.Scope)
	return exam, nil
}

func (s *examService) ListForFaculty(ctx context.Context, facultyID string, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	filters.FacultyID = &facultyID
	return s.repo.Exam().List(ctx, filters)
}

func (s *examService) ListOpenForStudent(ctx context.Context, studentID string) ([]*StudentExamSummary, error) {
	now := s.now()
	exams, err := s.repo.Exam().ListScheduled(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled exams: %w", err)
	}

	summaries := make([]*StudentExamSummary, 0, len(exams))
	for _, exam := range exams {
		if !exam.IsAssignedTo(studentID) {
			continue
		}
		start, end, ok := exam.AttemptWindow()
		if !ok {
			continue
		}

		examRef := strconv.FormatUint(uint64(exam.ID), 10)
		attempted, err := s.repo.Attempt().HasFinalized(ctx, studentID, examRef)
		if err != nil {
			return nil, fmt.Errorf("failed to check prior attempts: %w", err)
		}

		summaries = append(summaries, &StudentExamSummary{
			ExamID:         exam.ID,
			Title:          exam.Title,
			Subject:        exam.Subject,
			Duration:       exam.Duration,
			TotalQuestions: exam.TotalQuestions,
			ScheduledAt:    *exam.ScheduledAt,
			WindowOpensAt:  start,
			WindowClosesAt: end,
			Attempted:      attempted,
		})
	}
	return summaries, nil
}

func (s *examService) Results(ctx context.Context, examID uint, facultyID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return nil, 0, err
	}

	examRef := strconv.FormatUint(uint64(exam.ID), 10)
	filters.ExamRef = &examRef
	filters.FinalizedOnly = true
	return s.repo.Attempt().List(ctx, filters)
}

func (s *examService) AllResults(ctx context.Context, facultyID string, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	exams, _, err := s.repo.Exam().List(ctx, repositories.ExamFilters{FacultyID: &facultyID})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list faculty exams: %w", err)
	}
	if len(exams) == 0 {
		return nil, 0, nil
	}

	refs := make([]string, 0, len(exams))
	for _, exam := range exams {
		refs = append(refs, strconv.FormatUint(uint64(exam.ID), 10))
	}

	filters.ExamRefs = refs
	filters.FinalizedOnly = true
	return s.repo.Attempt().List(ctx, filters)
}

func (s *examService) AttemptDetail(ctx context.Context, examID, attemptID uint, facultyID string) (*models.QuizAttempt, error) {
	exam, err := s.getOwned(ctx, examID, facultyID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByIDWithStudent(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	examRef := strconv.FormatUint(uint64(exam.ID), 10)
	if attempt.ExamRef != examRef {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *examService) getOwned(ctx context.Context, examID uint, facultyID string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByIDForFaculty(ctx, examID, facultyID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	return exam, nil
}
