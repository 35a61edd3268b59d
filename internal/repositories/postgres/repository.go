package postgres

import (
	"gorm.io/gorm"

	"github.com/skillify-edu/exam-service/internal/repositories"
)

type repository struct {
	attempt repositories.AttemptRepository
	exam    repositories.ExamRepository
	user    repositories.UserRepository
}

// NewRepository wires the PostgreSQL implementations behind the
// repository aggregate used by the service layer.
func NewRepository(db *gorm.DB) repositories.Repository {
	return &repository{
		attempt: NewAttemptPostgreSQL(db),
		exam:    NewExamPostgreSQL(db),
		user:    NewUserPostgreSQL(db),
	}
}

func (r *repository) Attempt() repositories.AttemptRepository { return r.attempt }
func (r *repository) Exam() repositories.ExamRepository       { return r.exam }
func (r *repository) User() repositories.UserRepository       { return r.user }
