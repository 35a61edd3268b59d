package services

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// minSourceTextLength is the smallest extract worth generating questions
// from.
const minSourceTextLength = 100

// TextExtractionService pulls plain text out of uploaded study material so
// it can seed question generation.
type TextExtractionService interface {
	// Extract reads the file contents. Unsupported extensions fail with
	// ErrUnsupportedFileFormat.
	Extract(reader io.Reader, filename string) (string, error)
}

type textExtractionService struct {
	logger *slog.Logger
}

func NewTextExtractionService(logger *slog.Logger) TextExtractionService {
	return &textExtractionService{logger: logger}
}

func (s *textExtractionService) Extract(reader io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", ".markdown":
	default:
		s.logger.Warn("Rejected upload with unsupported format",
			"filename", filename, "extension", ext)
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileFormat, ext)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if len(text) < minSourceTextLength {
		return "", ErrSourceTextTooShort
	}

	s.logger.Info("Extracted source text",
		"filename", filename,
		"length", len(text))
	return text, nil
}
