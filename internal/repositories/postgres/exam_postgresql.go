package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
)

type ExamPostgreSQL struct {
	db *gorm.DB
}

func NewExamPostgreSQL(db *gorm.DB) repositories.ExamRepository {
	return &ExamPostgreSQL{db: db}
}

func (e *ExamPostgreSQL) Create(ctx context.Context, exam *models.Exam) error {
	return e.db.WithContext(ctx).Create(exam).Error
}

func (e *ExamPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Exam, error) {
	var exam models.Exam
	if err := e.db.WithContext(ctx).First(&exam, id).Error; err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) GetByIDForFaculty(ctx context.Context, id uint, facultyID string) (*models.Exam, error) {
	var exam models.Exam
	if err := e.db.WithContext(ctx).
		Where("id = ? AND faculty_id = ?", id, facultyID).
		First(&exam).Error; err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) Update(ctx context.Context, exam *models.Exam) error {
	return e.db.WithContext(ctx).Save(exam).Error
}

func (e *ExamPostgreSQL) List(ctx context.Context, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	var exams []*models.Exam
	var total int64

	query := e.db.WithContext(ctx).Model(&models.Exam{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.FacultyID != nil {
		query = query.Where("faculty_id = ?", *filters.FacultyID)
	}
	if filters.Subject != nil {
		query = query.Where("subject = ?", *filters.Subject)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at DESC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&exams).Error; err != nil {
		return nil, 0, err
	}
	return exams, total, nil
}

// ListScheduled returns scheduled exams whose attempt window has not yet
// closed as of the given instant. Scope filtering against the assigned
// student list happens in the service layer since the list is stored as JSON.
func (e *ExamPostgreSQL) ListScheduled(ctx context.Context, now time.Time) ([]*models.Exam, error) {
	var exams []*models.Exam
	if err := e.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL", models.ExamScheduled).
		Where("scheduled_at + (duration * interval '1 minute') > ?", now).
		Order("scheduled_at ASC").
		Find(&exams).Error; err != nil {
		return nil, err
	}
	return exams, nil
}
