package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skillify-edu/exam-service/internal/cache"
	"github.com/skillify-edu/exam-service/internal/events"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
	"github.com/skillify-edu/exam-service/internal/utils"
)

const (
	// faceAbsenceThreshold is how long the face must be continuously
	// missing before a warning is considered.
	faceAbsenceThreshold = 2 * time.Second

	// faceWarningInterval is the minimum spacing between consecutive
	// face warnings on the same attempt.
	faceWarningInterval = 8 * time.Second

	// embeddingCacheTTL bounds how long a registered embedding is served
	// from Redis before re-reading the database.
	embeddingCacheTTL = 15 * time.Minute
)

// ProctorService ingests proctoring signals against ongoing attempts and
// enforces the violation threshold. Signals against an already finalized
// attempt succeed with the stored terminal state instead of erroring.
type ProctorService interface {
	// RegisterTabSwitch records a tab/window focus loss. Answers shipped
	// with the signal replace the stored sheet before the threshold check.
	RegisterTabSwitch(ctx context.Context, attemptID uint, studentID string, answers []models.SelectedAnswer) (*ProctorResponse, error)

	// FaceCheck evaluates one camera frame. An empty embedding means no
	// face was detected in the frame.
	FaceCheck(ctx context.Context, req *FaceCheckRequest, studentID string) (*ProctorResponse, error)

	// RegisterFace stores the student's reference embedding.
	RegisterFace(ctx context.Context, studentID string, embedding []float64) error
}

type FaceCheckRequest struct {
	AttemptID uint                    `json:"attempt_id" validate:"required"`
	Embedding []float64               `json:"embedding"`
	Answers   []models.SelectedAnswer `json:"answers,omitempty"`
}

// ProctorResponse tells the client what the signal did to the attempt.
type ProctorResponse struct {
	AttemptID     uint                 `json:"attempt_id"`
	WarningIssued bool                 `json:"warning_issued"`
	Warnings      models.WarningCounts `json:"warnings"`
	TotalWarnings int                  `json:"total_warnings"`
	AutoSubmitted bool                 `json:"auto_submitted"`
	FaceMatched   *bool                `json:"face_matched,omitempty"`
	Score         *int                 `json:"score,omitempty"`
}

type proctorService struct {
	repo      repositories.Repository
	attempts  AttemptService
	cache     cache.CacheService
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *utils.Validator
	now       func() time.Time
}

func NewProctorService(
	repo repositories.Repository,
	attempts AttemptService,
	cacheService cache.CacheService,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *utils.Validator,
) ProctorService {
	return &proctorService{
		repo:      repo,
		attempts:  attempts,
		cache:     cacheService,
		publisher: publisher,
		logger:    logger,
		validator: validator,
		now:       time.Now,
	}
}

// ===== SIGNAL HANDLERS =====

func (s *proctorService) RegisterTabSwitch(ctx context.Context, attemptID uint, studentID string, answers []models.SelectedAnswer) (*ProctorResponse, error) {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinalized {
		return finalizedResponse(attempt), nil
	}
	if answers != nil {
		if err := s.snapshotAnswers(ctx, attempt, answers); err != nil {
			return nil, err
		}
	}
	return s.issueWarning(ctx, attempt, models.WarningTab)
}

func (s *proctorService) FaceCheck(ctx context.Context, req *FaceCheckRequest, studentID string) (*ProctorResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	// The debounce decision is a read-check-write; the advisory lock keeps
	// concurrent polls from both passing the warning-interval gate. It is
	// released before the warning is issued because finalization takes the
	// same lock.
	lockKey := cache.AttemptLockKey(req.AttemptID)
	locked, err := s.cache.AcquireLock(ctx, lockKey, attemptLockTTL)
	if err != nil {
		s.logger.Warn("Attempt lock unavailable, relying on storage guards",
			"attempt_id", req.AttemptID, "error", err)
		locked = false
	} else if !locked {
		return nil, ErrAttemptBusy
	}
	release := func() {
		if !locked {
			return
		}
		locked = false
		if err := s.cache.ReleaseLock(ctx, lockKey); err != nil {
			s.logger.Warn("Failed to release attempt lock",
				"attempt_id", req.AttemptID, "error", err)
		}
	}
	defer release()

	attempt, err := s.getOwned(ctx, req.AttemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinalized {
		return finalizedResponse(attempt), nil
	}

	if req.Answers != nil {
		if err := s.snapshotAnswers(ctx, attempt, req.Answers); err != nil {
			return nil, err
		}
	}

	now := s.now()

	if len(req.Embedding) > 0 {
		registered, err := s.registeredEmbedding(ctx, studentID)
		if err != nil {
			return nil, err
		}
		// Without a reference on file any detected face counts as present.
		if len(registered) == 0 || utils.IsFaceMatch(registered, req.Embedding) {
			// A good frame clears both debounce timestamps so a fresh
			// absence warns on its own schedule. Warning counts are never
			// decremented.
			if err := s.repo.Attempt().SaveFaceDebounce(ctx, attempt.ID, nil, nil); err != nil {
				return nil, fmt.Errorf("failed to reset face debounce: %w", err)
			}
			matched := true
			return &ProctorResponse{
				AttemptID:     attempt.ID,
				Warnings:      attempt.WarningCounts(),
				TotalWarnings: attempt.TotalWarnings(),
				FaceMatched:   &matched,
			}, nil
		}
		// A non-matching face counts as absence for debounce purposes.
	}

	noFaceSince := attempt.NoFaceSince
	if noFaceSince == nil {
		noFaceSince = &now
		if err := s.repo.Attempt().SaveFaceDebounce(ctx, attempt.ID, noFaceSince, attempt.LastFaceWarningAt); err != nil {
			return nil, fmt.Errorf("failed to start face debounce: %w", err)
		}
	}

	matched := false
	resp := &ProctorResponse{
		AttemptID:     attempt.ID,
		Warnings:      attempt.WarningCounts(),
		TotalWarnings: attempt.TotalWarnings(),
		FaceMatched:   &matched,
	}

	if now.Sub(*noFaceSince) < faceAbsenceThreshold {
		return resp, nil
	}
	if attempt.LastFaceWarningAt != nil && now.Sub(*attempt.LastFaceWarningAt) < faceWarningInterval {
		return resp, nil
	}

	// Advance the warning clock while still holding the lock, then release
	// it so the threshold path can finalize.
	if err := s.repo.Attempt().SaveFaceDebounce(ctx, attempt.ID, noFaceSince, &now); err != nil {
		return nil, fmt.Errorf("failed to persist face debounce: %w", err)
	}
	release()

	warned, err := s.issueWarning(ctx, attempt, models.WarningFace)
	if err != nil {
		return nil, err
	}
	warned.FaceMatched = &matched
	return warned, nil
}

func (s *proctorService) RegisterFace(ctx context.Context, studentID string, embedding []float64) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}

	user := &models.User{ID: studentID}
	if err := user.SetRegisteredEmbedding(embedding); err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	if err := s.repo.User().UpdateFaceEmbedding(ctx, studentID, user.FaceEmbedding); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if err := s.cache.Set(ctx, cache.EmbeddingKey(studentID), embedding, embeddingCacheTTL); err != nil {
		s.logger.Warn("Failed to cache registered embedding",
			"student_id", studentID, "error", err)
	}

	s.logger.Info("Registered face embedding",
		"student_id", studentID,
		"dimensions", len(embedding))
	return nil
}

// ===== WARNING PIPELINE =====

// issueWarning bumps the counter atomically, then force-submits the attempt
// when the combined total reaches the threshold.
func (s *proctorService) issueWarning(ctx context.Context, attempt *models.QuizAttempt, source models.WarningSource) (*ProctorResponse, error) {
	bumped, err := s.repo.Attempt().IncrementWarning(ctx, attempt.ID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to increment warning: %w", err)
	}
	if !bumped {
		// Finalized by a concurrent signal; the warning is dropped and the
		// caller gets the terminal state.
		stored, err := s.repo.Attempt().GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload attempt: %w", err)
		}
		return finalizedResponse(stored), nil
	}

	refreshed, err := s.repo.Attempt().GetByID(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload attempt: %w", err)
	}

	s.publishEvent(ctx, events.NewProctoringWarningEvent(refreshed, source, s.now()))

	s.logger.Info("Proctoring warning issued",
		"attempt_id", refreshed.ID,
		"source", source,
		"tab_warnings", refreshed.TabWarnings,
		"face_warnings", refreshed.FaceWarnings)

	resp := &ProctorResponse{
		AttemptID:     refreshed.ID,
		WarningIssued: true,
		Warnings:      refreshed.WarningCounts(),
		TotalWarnings: refreshed.TotalWarnings(),
	}

	if refreshed.TotalWarnings() >= models.MaxTotalWarnings {
		finalized, err := s.attempts.AutoSubmit(ctx, refreshed.ID, models.SubmitProctorViolation)
		if err != nil {
			return nil, fmt.Errorf("failed to auto-submit attempt: %w", err)
		}
		resp.AutoSubmitted = true
		score := finalized.Score
		resp.Score = &score
		resp.Warnings = finalized.WarningCounts()
		resp.TotalWarnings = finalized.TotalWarnings()

		s.logger.Warn("Attempt auto-submitted for proctor violation",
			"attempt_id", finalized.ID,
			"total_warnings", finalized.TotalWarnings())
	}

	return resp, nil
}

// ===== HELPERS =====

func (s *proctorService) getOwned(ctx context.Context, attemptID uint, studentID string) (*models.QuizAttempt, error) {
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

// finalizedResponse is the idempotent success shape for signals that arrive
// after the attempt reached its terminal state.
func finalizedResponse(attempt *models.QuizAttempt) *ProctorResponse {
	score := attempt.Score
	return &ProctorResponse{
		AttemptID:     attempt.ID,
		Warnings:      attempt.WarningCounts(),
		TotalWarnings: attempt.TotalWarnings(),
		AutoSubmitted: true,
		Score:         &score,
	}
}

// snapshotAnswers persists the answers shipped alongside a proctoring signal
// so an auto-submit on the threshold scores the student's last-known sheet.
func (s *proctorService) snapshotAnswers(ctx context.Context, attempt *models.QuizAttempt, answers []models.SelectedAnswer) error {
	questions, err := attempt.SnapshotQuestions()
	if err != nil {
		return fmt.Errorf("failed to decode question snapshot: %w", err)
	}
	_, sheet, err := sanitizeAnswers(questions, answers)
	if err != nil {
		return err
	}
	// A lost write means the attempt finalized concurrently; the warning
	// path discovers that on its own.
	if _, err := s.repo.Attempt().SaveAnswerSheet(ctx, attempt.ID, sheet); err != nil {
		return fmt.Errorf("failed to save answer sheet: %w", err)
	}
	return nil
}

// registeredEmbedding serves the reference embedding from Redis, falling
// back to the users table on a miss. A student with no reference on file
// yields nil without error.
func (s *proctorService) registeredEmbedding(ctx context.Context, studentID string) ([]float64, error) {
	var embedding []float64
	err := s.cache.Get(ctx, cache.EmbeddingKey(studentID), &embedding)
	if err == nil && len(embedding) > 0 {
		return embedding, nil
	}

	user, err := s.repo.User().GetByID(ctx, studentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	embedding, err = user.RegisteredEmbedding()
	if err != nil {
		return nil, fmt.Errorf("failed to decode registered embedding: %w", err)
	}
	if len(embedding) == 0 {
		return nil, nil
	}

	if cacheErr := s.cache.Set(ctx, cache.EmbeddingKey(studentID), embedding, embeddingCacheTTL); cacheErr != nil {
		s.logger.Warn("Failed to cache registered embedding",
			"student_id", studentID, "error", cacheErr)
	}
	return embedding, nil
}

func (s *proctorService) publishEvent(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish proctoring event",
			"event_type", event.Type, "error", err)
	}
}
