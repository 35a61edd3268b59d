package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleFaculty UserRole = "faculty"
	RoleAdmin   UserRole = "admin"
)

type User struct {
	ID       string   `json:"id" gorm:"primaryKey;size:255"`
	FullName string   `json:"full_name" gorm:"not null;size:100"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Role     UserRole `json:"role" gorm:"not null;size:20;index"`

	// FaceEmbedding is the reference embedding captured at enrollment,
	// used by proctoring face checks. Null when the student never
	// registered a face.
	FaceEmbedding datatypes.JSON `json:"-" gorm:"type:jsonb"`

	IsActive    bool       `json:"is_active" gorm:"default:true"`
	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// RegisteredEmbedding decodes the stored face embedding. A null column
// yields nil, meaning no reference is on file.
func (u *User) RegisteredEmbedding() ([]float64, error) {
	if len(u.FaceEmbedding) == 0 {
		return nil, nil
	}
	var embedding []float64
	if err := json.Unmarshal(u.FaceEmbedding, &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

func (u *User) SetRegisteredEmbedding(embedding []float64) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	u.FaceEmbedding = data
	return nil
}
