package services

import (
	"errors"
	"fmt"

	apperrors "github.com/skillify-edu/exam-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")
	ErrInternalError    = errors.New("internal server error")
	ErrConflict         = errors.New("resource conflict")

	// Exam specific errors
	ErrExamNotFound        = errors.New("exam not found")
	ErrExamAccessDenied    = errors.New("access denied to exam")
	ErrExamNotEditable     = errors.New("exam cannot be edited in current status")
	ErrExamNotApprovable   = errors.New("exam cannot be approved in current status")
	ErrExamNotSchedulable  = errors.New("exam cannot be scheduled in current status")
	ErrExamNotEligible     = errors.New("exam is not open for this student right now")
	ErrExamAlreadyAttended = errors.New("exam already attempted by this student")
	ErrExamNoQuestions     = errors.New("exam has no questions")

	// Attempt specific errors
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptAccessDenied = errors.New("access denied to attempt")
	ErrAttemptFinalized    = errors.New("attempt already finalized")
	ErrAttemptBusy         = errors.New("attempt is being updated by another request")
	ErrResultNotReady      = errors.New("result not available until attempt is finalized")

	// Proctoring specific errors
	ErrEmptyEmbedding = errors.New("frame embedding is empty")

	// Generation specific errors
	ErrGenerationFailed      = errors.New("question generation failed")
	ErrUnsupportedFileFormat = errors.New("unsupported file format for text extraction")
	ErrSourceTextTooShort    = errors.New("source text too short to generate questions")

	// User/Permission errors
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidRole  = errors.New("invalid user role")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (bre *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation (%s): %s", bre.Rule, bre.Message)
}

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrResultNotReady)
}

// IsUnauthorized checks if error represents an "unauthorized" condition
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrExamAccessDenied) ||
		errors.Is(err, ErrAttemptAccessDenied)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsBusinessRule checks if error represents a business rule violation
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// IsConflict checks if error represents a resource conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAttemptFinalized) ||
		errors.Is(err, ErrAttemptBusy) ||
		errors.Is(err, ErrExamAlreadyAttended)
}
