package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/skillify-edu/exam-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status        *models.AttemptStatus `json:"status"`
	StudentID     *string               `json:"student_id"`
	ExamRef       *string               `json:"exam_ref"`
	ExamRefs      []string              `json:"exam_refs"`
	FinalizedOnly bool                  `json:"finalized_only"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
	SortBy        string                `json:"sort_by"`    // "created_at", "submitted_at", "score"
	SortOrder     string                `json:"sort_order"` // "asc", "desc"
}

type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	FacultyID *string            `json:"faculty_id"`
	Subject   *string            `json:"subject"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// FinalizeParams carries every field that the terminal transition writes.
// The repository applies them in a single conditional update so an attempt
// can never be observed half-finalized.
type FinalizeParams struct {
	Status      models.AttemptStatus
	Reason      models.SubmitReason
	Score       int
	AnswerSheet datatypes.JSON // nil leaves the stored sheet untouched
	SubmittedAt time.Time
}

// ===== REPOSITORY INTERFACES =====

// AttemptRepository persists quiz attempts. All mutating operations keyed by
// attempt id are conditional on is_finalized = false so concurrent signals
// against a finalized attempt degrade to no-ops.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.QuizAttempt) error
	GetByID(ctx context.Context, id uint) (*models.QuizAttempt, error)
	GetByIDWithStudent(ctx context.Context, id uint) (*models.QuizAttempt, error)
	List(ctx context.Context, filters AttemptFilters) ([]*models.QuizAttempt, int64, error)

	// GetOngoing returns the single unfinalized attempt for the pair, or
	// (nil, nil) when there is none.
	GetOngoing(ctx context.Context, studentID, examRef string) (*models.QuizAttempt, error)
	HasFinalized(ctx context.Context, studentID, examRef string) (bool, error)

	// IncrementWarning bumps one warning counter by exactly 1. Returns
	// false without touching the row when the attempt is already finalized.
	IncrementWarning(ctx context.Context, id uint, source models.WarningSource) (bool, error)

	// SaveAnswerSheet replaces the answer sheet unless finalized.
	SaveAnswerSheet(ctx context.Context, id uint, sheet datatypes.JSON) (bool, error)

	// SaveFaceDebounce persists the absence-tracking timestamps.
	SaveFaceDebounce(ctx context.Context, id uint, noFaceSince, lastWarningAt *time.Time) error

	// Finalize is the compare-and-swap on is_finalized: it writes status,
	// reason, score, submitted_at and the optional final answer sheet in
	// one conditional update. Returns false when another caller already
	// finalized the attempt.
	Finalize(ctx context.Context, id uint, params FinalizeParams) (bool, error)
}

type ExamRepository interface {
	Create(ctx context.Context, exam *models.Exam) error
	GetByID(ctx context.Context, id uint) (*models.Exam, error)
	GetByIDForFaculty(ctx context.Context, id uint, facultyID string) (*models.Exam, error)
	Update(ctx context.Context, exam *models.Exam) error
	List(ctx context.Context, filters ExamFilters) ([]*models.Exam, int64, error)
	ListScheduled(ctx context.Context, now time.Time) ([]*models.Exam, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, user *models.User) error
	UpdateFaceEmbedding(ctx context.Context, id string, embedding datatypes.JSON) error
}

// Repository aggregates the per-entity repositories behind one handle.
type Repository interface {
	Attempt() AttemptRepository
	Exam() ExamRepository
	User() UserRepository
}

// IsNotFoundError reports whether err is the storage layer's missing-row
// condition.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
