package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/utils"
)

// QuestionGenerator is the upstream collaborator that actually produces
// questions, typically an LLM gateway. It may return fewer questions than
// requested.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, topic string, difficulty models.DifficultyLevel, count int, sourceText string) ([]models.QuizQuestion, error)
}

// GenerationService turns generator output into a snapshot-ready question
// set: ids assigned, options normalized, shortfalls padded.
type GenerationService interface {
	Generate(ctx context.Context, req *GenerationRequest) ([]models.QuizQuestion, error)
}

type GenerationRequest struct {
	Topic        string                 `json:"topic" validate:"required,min=2,max=200"`
	Difficulty   models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	NumQuestions int                    `json:"num_questions" validate:"required,min=1,max=50"`
	SourceText   string                 `json:"source_text,omitempty"`

	// Strict fails on an upstream error or shortfall instead of padding
	// with placeholders. Faculty exams are strict; ad-hoc student quizzes
	// are not.
	Strict bool `json:"-"`
}

type generationService struct {
	generator QuestionGenerator
	logger    *slog.Logger
	validator *utils.Validator
}

func NewGenerationService(generator QuestionGenerator, logger *slog.Logger, validator *utils.Validator) GenerationService {
	return &generationService{
		generator: generator,
		logger:    logger,
		validator: validator,
	}
}

func (s *generationService) Generate(ctx context.Context, req *GenerationRequest) ([]models.QuizQuestion, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	s.logger.Info("Generating questions",
		"topic", req.Topic,
		"difficulty", req.Difficulty,
		"count", req.NumQuestions)

	raw, err := s.generator.GenerateQuestions(ctx, req.Topic, req.Difficulty, req.NumQuestions, req.SourceText)
	if err != nil {
		s.logger.Error("Question generation failed",
			"topic", req.Topic, "error", err)
		if req.Strict {
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, err)
		}
		// Ad-hoc quizzes fall back to a full placeholder set.
		raw = nil
	}

	questions := normalizeQuestions(raw, req.NumQuestions)
	if req.Strict && len(questions) < req.NumQuestions {
		return nil, fmt.Errorf("%w: got %d usable questions, requested %d",
			ErrGenerationFailed, len(questions), req.NumQuestions)
	}

	// Pad shortfalls so the quiz always has the requested length.
	for len(questions) < req.NumQuestions {
		questions = append(questions, placeholderQuestion(req.Topic, len(questions)+1))
	}

	s.logger.Info("Questions generated",
		"topic", req.Topic,
		"requested", req.NumQuestions,
		"usable", len(questions))

	return questions, nil
}

// normalizeQuestions drops malformed items and fills in missing ids. At most
// limit questions survive.
func normalizeQuestions(raw []models.QuizQuestion, limit int) []models.QuizQuestion {
	out := make([]models.QuizQuestion, 0, limit)
	for _, q := range raw {
		if len(out) == limit {
			break
		}
		if strings.TrimSpace(q.Prompt) == "" {
			continue
		}
		if len(q.Options) != models.OptionCount {
			continue
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= models.OptionCount {
			continue
		}
		if q.QuestionID == "" {
			q.QuestionID = uuid.NewString()
		}
		out = append(out, q)
	}
	return out
}

// placeholderQuestion stands in when the generator returns fewer usable
// questions than requested.
func placeholderQuestion(topic string, ordinal int) models.QuizQuestion {
	return models.QuizQuestion{
		QuestionID:   uuid.NewString(),
		Prompt:       fmt.Sprintf("Placeholder question %d about %s (generation incomplete)", ordinal, topic),
		Options:      []string{"Option A", "Option B", "Option C", "Option D"},
		CorrectIndex: 0,
		Topic:        topic,
	}
}
