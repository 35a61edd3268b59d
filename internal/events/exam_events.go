package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/skillify-edu/exam-service/internal/models"
)

// EventType represents different types of exam lifecycle events
type EventType string

const (
	// Exam events
	EventExamScheduled EventType = "exam.scheduled"

	// Attempt events
	EventAttemptStarted       EventType = "attempt.started"
	EventAttemptSubmitted     EventType = "attempt.submitted"
	EventAttemptAutoSubmitted EventType = "attempt.auto_submitted"

	// Proctoring events
	EventProctoringWarning EventType = "proctoring.warning"
)

// Event is the base structure for all published exam events
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Exam event payloads

type ExamScheduledEvent struct {
	ExamID      uint             `json:"exam_id"`
	Title       string           `json:"title"`
	FacultyID   string           `json:"faculty_id"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	Duration    int              `json:"duration"` // minutes
	Scope       models.ExamScope `json:"scope"`
	StudentIDs  []string         `json:"student_ids,omitempty"`
}

// Attempt event payloads

type AttemptStartedEvent struct {
	AttemptID      uint      `json:"attempt_id"`
	ExamRef        string    `json:"exam_ref"`
	StudentID      string    `json:"student_id"`
	TotalQuestions int       `json:"total_questions"`
	StartedAt      time.Time `json:"started_at"`
}

type AttemptSubmittedEvent struct {
	AttemptID    uint                `json:"attempt_id"`
	ExamRef      string              `json:"exam_ref"`
	StudentID    string              `json:"student_id"`
	Reason       models.SubmitReason `json:"reason"`
	Score        int                 `json:"score"`
	TabWarnings  int                 `json:"tab_warnings"`
	FaceWarnings int                 `json:"face_warnings"`
	SubmittedAt  time.Time           `json:"submitted_at"`
}

// Proctoring event payload

type ProctoringWarningEvent struct {
	AttemptID     uint                 `json:"attempt_id"`
	StudentID     string               `json:"student_id"`
	Source        models.WarningSource `json:"source"`
	TotalWarnings int                  `json:"total_warnings"`
	IssuedAt      time.Time            `json:"issued_at"`
}

// Event factory functions

func NewExamScheduledEvent(exam *models.Exam, studentIDs []string) *Event {
	return &Event{
		ID:        GenerateEventID(),
		Type:      EventExamScheduled,
		Timestamp: time.Now(),
		Source:    "exam-service",
		Version:   "1.0",
		Data: ExamScheduledEvent{
			ExamID:      exam.ID,
			Title:       exam.Title,
			FacultyID:   exam.FacultyID,
			ScheduledAt: *exam.ScheduledAt,
			Duration:    exam.Duration,
			Scope:       exam.Scope,
			StudentIDs:  studentIDs,
		},
	}
}

func NewAttemptStartedEvent(attempt *models.QuizAttempt) *Event {
	return &Event{
		ID:        GenerateEventID(),
		Type:      EventAttemptStarted,
		Timestamp: time.Now(),
		Source:    "exam-service",
		Version:   "1.0",
		Data: AttemptStartedEvent{
			AttemptID:      attempt.ID,
			ExamRef:        attempt.ExamRef,
			StudentID:      attempt.StudentID,
			TotalQuestions: attempt.TotalQuestions,
			StartedAt:      attempt.StartedAt,
		},
	}
}

func NewAttemptSubmittedEvent(attempt *models.QuizAttempt, reason models.SubmitReason, submittedAt time.Time) *Event {
	eventType := EventAttemptSubmitted
	if reason == models.SubmitProctorViolation {
		eventType = EventAttemptAutoSubmitted
	}
	return &Event{
		ID:        GenerateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    "exam-service",
		Version:   "1.0",
		Data: AttemptSubmittedEvent{
			AttemptID:    attempt.ID,
			ExamRef:      attempt.ExamRef,
			StudentID:    attempt.StudentID,
			Reason:       reason,
			Score:        attempt.Score,
			TabWarnings:  attempt.TabWarnings,
			FaceWarnings: attempt.FaceWarnings,
			SubmittedAt:  submittedAt,
		},
	}
}

func NewProctoringWarningEvent(attempt *models.QuizAttempt, source models.WarningSource, issuedAt time.Time) *Event {
	return &Event{
		ID:        GenerateEventID(),
		Type:      EventProctoringWarning,
		Timestamp: time.Now(),
		Source:    "exam-service",
		Version:   "1.0",
		Data: ProctoringWarningEvent{
			AttemptID:     attempt.ID,
			StudentID:     attempt.StudentID,
			Source:        source,
			TotalWarnings: attempt.TotalWarnings(),
			IssuedAt:      issuedAt,
		},
	}
}

// GenerateEventID returns a unique identifier for a published event.
func GenerateEventID() string {
	return uuid.NewString()
}
