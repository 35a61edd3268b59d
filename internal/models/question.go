package models

import "encoding/json"

// OptionCount is the fixed number of choices every MCQ carries.
const OptionCount = 4

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
	DifficultyMixed  DifficultyLevel = "mixed"
)

// QuizQuestion is a single MCQ item. Once snapshotted onto an attempt it is
// immutable: edits to the source exam never reach in-flight attempts.
type QuizQuestion struct {
	QuestionID   string   `json:"question_id" validate:"required"`
	Prompt       string   `json:"question" validate:"required"`
	Options      []string `json:"options" validate:"len=4"`
	CorrectIndex int      `json:"correct_index" validate:"min=0,max=3"`
	Topic        string   `json:"topic,omitempty"`
}

// StudentQuestion is the client-facing view of a question with the correct
// index stripped. Correctness is never sent to the browser.
type StudentQuestion struct {
	QuestionID string   `json:"question_id"`
	Prompt     string   `json:"question"`
	Options    []string `json:"options"`
}

func (q QuizQuestion) ForStudent() StudentQuestion {
	return StudentQuestion{
		QuestionID: q.QuestionID,
		Prompt:     q.Prompt,
		Options:    q.Options,
	}
}

// StudentView strips correct answers from a whole question set.
func StudentView(questions []QuizQuestion) []StudentQuestion {
	out := make([]StudentQuestion, len(questions))
	for i, q := range questions {
		out[i] = q.ForStudent()
	}
	return out
}

// SelectedAnswer is one entry of an attempt's answer sheet. A nil
// SelectedIndex means the question was left unanswered.
type SelectedAnswer struct {
	QuestionID    string `json:"question_id"`
	SelectedIndex *int   `json:"selected_index"`
}

// MarshalQuestions encodes a question snapshot for a JSONB column.
func MarshalQuestions(questions []QuizQuestion) ([]byte, error) {
	return json.Marshal(questions)
}

// UnmarshalQuestions decodes a JSONB question snapshot. A null column yields
// an empty set rather than an error.
func UnmarshalQuestions(data []byte) ([]QuizQuestion, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var questions []QuizQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}
