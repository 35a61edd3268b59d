package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	return a.db.WithContext(ctx).Create(attempt).Error
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithStudent(ctx context.Context, id uint) (*models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := a.db.WithContext(ctx).
		Preload("Student").
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	var attempts []*models.QuizAttempt
	var total int64

	query := a.db.WithContext(ctx).Model(&models.QuizAttempt{})
	query = a.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = a.applyPaginationAndSort(query, filters)

	if err := query.Preload("Student").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetOngoing(ctx context.Context, studentID, examRef string) (*models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := a.db.WithContext(ctx).
		Where("student_id = ? AND exam_ref = ? AND is_finalized = ?", studentID, examRef, false).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) HasFinalized(ctx context.Context, studentID, examRef string) (bool, error) {
	var count int64
	if err := a.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("student_id = ? AND exam_ref = ? AND is_finalized = ?", studentID, examRef, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *AttemptPostgreSQL) IncrementWarning(ctx context.Context, id uint, source models.WarningSource) (bool, error) {
	column := "tab_warnings"
	if source == models.WarningFace {
		column = "face_warnings"
	}

	result := a.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("id = ? AND is_finalized = ?", id, false).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (a *AttemptPostgreSQL) SaveAnswerSheet(ctx context.Context, id uint, sheet datatypes.JSON) (bool, error) {
	result := a.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("id = ? AND is_finalized = ?", id, false).
		Update("answer_sheet", sheet)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (a *AttemptPostgreSQL) SaveFaceDebounce(ctx context.Context, id uint, noFaceSince, lastWarningAt *time.Time) error {
	return a.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("id = ? AND is_finalized = ?", id, false).
		Updates(map[string]interface{}{
			"no_face_since":        noFaceSince,
			"last_face_warning_at": lastWarningAt,
		}).Error
}

// Finalize flips is_finalized in the same conditional UPDATE that writes the
// terminal fields: either every field lands or none does, and only the first
// caller wins the swap.
func (a *AttemptPostgreSQL) Finalize(ctx context.Context, id uint, params repositories.FinalizeParams) (bool, error) {
	updates := map[string]interface{}{
		"status":        params.Status,
		"submit_reason": params.Reason,
		"score":         params.Score,
		"submitted_at":  params.SubmittedAt,
		"is_finalized":  true,
	}
	if params.AnswerSheet != nil {
		updates["answer_sheet"] = params.AnswerSheet
	}

	result := a.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("id = ? AND is_finalized = ?", id, false).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ===== QUERY HELPERS =====

func (a *AttemptPostgreSQL) applyFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.ExamRef != nil {
		query = query.Where("exam_ref = ?", *filters.ExamRef)
	}
	if len(filters.ExamRefs) > 0 {
		query = query.Where("exam_ref IN ?", filters.ExamRefs)
	}
	if filters.FinalizedOnly {
		query = query.Where("is_finalized = ?", true)
	}
	return query
}

func (a *AttemptPostgreSQL) applyPaginationAndSort(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	sortBy := filters.SortBy
	switch sortBy {
	case "submitted_at", "score", "created_at":
	default:
		sortBy = "created_at"
	}

	order := "DESC"
	if filters.SortOrder == "asc" {
		order = "ASC"
	}
	query = query.Order(sortBy + " " + order)

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	return query
}
