package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptOngoing       AttemptStatus = "ONGOING"
	AttemptSubmitted     AttemptStatus = "SUBMITTED"
	AttemptAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
)

type SubmitReason string

const (
	SubmitManual           SubmitReason = "MANUAL"
	SubmitTimeUp           SubmitReason = "TIME_UP"
	SubmitProctorViolation SubmitReason = "PROCTOR_VIOLATION"
)

type WarningSource string

const (
	WarningTab  WarningSource = "TAB"
	WarningFace WarningSource = "FACE"
)

// CustomQuizRef is the exam-reference sentinel for ad-hoc AI quizzes that
// have no scheduled exam behind them.
const CustomQuizRef = "CUSTOM_AI"

// MaxTotalWarnings is the proctoring violation threshold: the attempt that
// accumulates this many tab + face warnings is force-submitted.
const MaxTotalWarnings = 3

// QuizAttempt is the aggregate root of one student's run through a question
// set. IsFinalized is the single authoritative latch: once true, the status,
// score and answer sheet are frozen and every mutation becomes a no-op.
type QuizAttempt struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	StudentID string `json:"student_id" gorm:"not null;index;size:255"`

	// ExamRef is the scheduled exam id as a string, or CustomQuizRef for
	// ad-hoc quizzes.
	ExamRef string `json:"exam_ref" gorm:"not null;index;size:64"`
	ExamID  *uint  `json:"exam_id" gorm:"index"`

	// Questions is the snapshot taken at creation, correct indexes included.
	// It is never re-fetched from the exam afterward.
	Questions      datatypes.JSON `json:"-" gorm:"type:jsonb"`
	AnswerSheet    datatypes.JSON `json:"answer_sheet" gorm:"type:jsonb"`
	TotalQuestions int            `json:"total_questions"`

	TabWarnings  int `json:"tab_warnings" gorm:"not null;default:0"`
	FaceWarnings int `json:"face_warnings" gorm:"not null;default:0"`

	Score        int           `json:"score"`
	Status       AttemptStatus `json:"status" gorm:"default:ONGOING;index"`
	SubmitReason *SubmitReason `json:"submit_reason"`
	IsFinalized  bool          `json:"is_finalized" gorm:"not null;default:false;index"`

	// Face-absence debounce state. Persisted so the cadence survives
	// restarts and multiple server instances.
	NoFaceSince       *time.Time `json:"-"`
	LastFaceWarningAt *time.Time `json:"-"`

	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Student *User `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Exam    *Exam `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
}

func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

func (a *QuizAttempt) TotalWarnings() int {
	return a.TabWarnings + a.FaceWarnings
}

func (a *QuizAttempt) IsCustom() bool {
	return a.ExamRef == CustomQuizRef
}

// SnapshotQuestions decodes the frozen question set.
func (a *QuizAttempt) SnapshotQuestions() ([]QuizQuestion, error) {
	return UnmarshalQuestions(a.Questions)
}

func (a *QuizAttempt) SetSnapshotQuestions(questions []QuizQuestion) error {
	data, err := MarshalQuestions(questions)
	if err != nil {
		return err
	}
	a.Questions = data
	a.TotalQuestions = len(questions)
	return nil
}

// Answers decodes the current answer sheet. A null column is an empty sheet.
func (a *QuizAttempt) Answers() ([]SelectedAnswer, error) {
	if len(a.AnswerSheet) == 0 {
		return nil, nil
	}
	var answers []SelectedAnswer
	if err := json.Unmarshal(a.AnswerSheet, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func (a *QuizAttempt) SetAnswers(answers []SelectedAnswer) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	a.AnswerSheet = data
	return nil
}

// WarningCounts is the client-facing warning breakdown.
type WarningCounts struct {
	Tab  int `json:"tab"`
	Face int `json:"face"`
}

func (a *QuizAttempt) WarningCounts() WarningCounts {
	return WarningCounts{Tab: a.TabWarnings, Face: a.FaceWarnings}
}
