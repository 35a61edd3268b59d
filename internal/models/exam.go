package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ExamStatus string

const (
	ExamDraft     ExamStatus = "DRAFT"
	ExamApproved  ExamStatus = "APPROVED"
	ExamScheduled ExamStatus = "SCHEDULED"
)

type ExamScope string

const (
	ScopeAll      ExamScope = "ALL"
	ScopeSelected ExamScope = "SELECTED"
)

// AttemptGraceMinutes is how early a student may join before the scheduled
// start time.
const AttemptGraceMinutes = 2

// Exam is a faculty-authored question set plus its scheduling metadata.
// Attempts snapshot the questions at creation, so an exam can be edited
// freely while DRAFT without touching in-flight attempts.
type Exam struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	Title       string  `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Subject     string  `json:"subject" gorm:"size:100"`
	Difficulty  string  `json:"difficulty" gorm:"size:20"`

	FacultyID string `json:"faculty_id" gorm:"not null;index;size:255"`

	Duration       int            `json:"duration" validate:"omitempty,min=5,max=300"` // minutes
	TotalQuestions int            `json:"total_questions"`
	Questions      datatypes.JSON `json:"-" gorm:"type:jsonb"`

	Status ExamStatus `json:"status" gorm:"default:DRAFT;index" validate:"omitempty,oneof=DRAFT APPROVED SCHEDULED"`

	Scope            ExamScope      `json:"scope" gorm:"default:ALL" validate:"omitempty,oneof=ALL SELECTED"`
	AssignedStudents datatypes.JSON `json:"assigned_students" gorm:"type:jsonb"`
	ScheduledAt      *time.Time     `json:"scheduled_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Faculty *User `json:"faculty,omitempty" gorm:"foreignKey:FacultyID"`
}

func (Exam) TableName() string {
	return "exams"
}

func (e *Exam) QuestionSet() ([]QuizQuestion, error) {
	return UnmarshalQuestions(e.Questions)
}

func (e *Exam) SetQuestionSet(questions []QuizQuestion) error {
	data, err := MarshalQuestions(questions)
	if err != nil {
		return err
	}
	e.Questions = data
	e.TotalQuestions = len(questions)
	return nil
}

func (e *Exam) AssignedStudentIDs() ([]string, error) {
	if len(e.AssignedStudents) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(e.AssignedStudents, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Exam) SetAssignedStudentIDs(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	e.AssignedStudents = data
	return nil
}

// IsAssignedTo reports whether the student is inside the exam's scope.
func (e *Exam) IsAssignedTo(studentID string) bool {
	if e.Scope != ScopeSelected {
		return true
	}
	ids, err := e.AssignedStudentIDs()
	if err != nil {
		return false
	}
	for _, id := range ids {
		if id == studentID {
			return true
		}
	}
	return false
}

// AttemptWindow returns the interval during which attempts may be created:
// grace minutes before the scheduled start until start + duration.
func (e *Exam) AttemptWindow() (start, end time.Time, ok bool) {
	if e.ScheduledAt == nil {
		return time.Time{}, time.Time{}, false
	}
	start = e.ScheduledAt.Add(-AttemptGraceMinutes * time.Minute)
	end = e.ScheduledAt.Add(time.Duration(e.Duration) * time.Minute)
	return start, end, true
}
