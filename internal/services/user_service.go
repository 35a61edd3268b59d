package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
)

// Identity is the subject extracted from a verified token.
type Identity struct {
	ID       string
	FullName string
	Email    string
	Role     models.UserRole
}

// UserService mirrors identity-provider subjects into the local users table
// so attempts and embeddings always have a row to attach to.
type UserService interface {
	SyncIdentity(ctx context.Context, identity Identity) error
}

type userService struct {
	repo   repositories.Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewUserService(repo repositories.Repository, logger *slog.Logger) UserService {
	return &userService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *userService) SyncIdentity(ctx context.Context, identity Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("%w: identity id is required", ErrValidationFailed)
	}

	now := s.now()
	user := &models.User{
		ID:          identity.ID,
		FullName:    identity.FullName,
		Email:       identity.Email,
		Role:        identity.Role,
		IsActive:    true,
		LastLoginAt: &now,
	}
	if err := s.repo.User().Upsert(ctx, user); err != nil {
		return fmt.Errorf("failed to sync user: %w", err)
	}
	return nil
}
