package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/skillify-edu/exam-service/internal/repositories"
)

// ExportService renders finalized exam results as spreadsheet downloads for
// faculty.
type ExportService interface {
	ExportExamResults(ctx context.Context, examID uint, facultyID string) ([]byte, error)
}

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
	}
}

func (s *exportService) ExportExamResults(ctx context.Context, examID uint, facultyID string) ([]byte, error) {
	exam, err := s.repo.Exam().GetByIDForFaculty(ctx, examID, facultyID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	examRef := strconv.FormatUint(uint64(exam.ID), 10)
	attempts, _, err := s.repo.Attempt().List(ctx, repositories.AttemptFilters{
		ExamRef:       &examRef,
		FinalizedOnly: true,
		SortBy:        "score",
		SortOrder:     "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	f := excelize.NewFile()
	sheetName := "Results"

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Student ID", "Student Name", "Status", "Submit Reason",
		"Score", "Tab Warnings", "Face Warnings", "Started At", "Submitted At",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIndex, attempt := range attempts {
		studentName := ""
		if attempt.Student != nil {
			studentName = attempt.Student.FullName
		}
		reason := ""
		if attempt.SubmitReason != nil {
			reason = string(*attempt.SubmitReason)
		}
		submittedAt := ""
		if attempt.SubmittedAt != nil {
			submittedAt = attempt.SubmittedAt.Format("2006-01-02 15:04:05")
		}

		row := []interface{}{
			attempt.StudentID,
			studentName,
			string(attempt.Status),
			reason,
			attempt.Score,
			attempt.TabWarnings,
			attempt.FaceWarnings,
			attempt.StartedAt.Format("2006-01-02 15:04:05"),
			submittedAt,
		}
		for colIndex, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Exported exam results",
		"exam_id", examID,
		"attempts", len(attempts))
	return buf.Bytes(), nil
}
