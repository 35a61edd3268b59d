package utils

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/skillify-edu/exam-service/internal/models"
)

// Custom validation functions

func ValidateDifficultyLevel(fl validator.FieldLevel) bool {
	validLevels := []models.DifficultyLevel{
		models.DifficultyEasy,
		models.DifficultyMedium,
		models.DifficultyHard,
		models.DifficultyMixed,
	}

	value := fl.Field().String()
	for _, validLevel := range validLevels {
		if string(validLevel) == value {
			return true
		}
	}
	return false
}

func ValidateWarningSource(fl validator.FieldLevel) bool {
	validSources := []models.WarningSource{
		models.WarningTab,
		models.WarningFace,
	}

	value := fl.Field().String()
	for _, validSource := range validSources {
		if string(validSource) == value {
			return true
		}
	}
	return false
}

func ValidateExamScope(fl validator.FieldLevel) bool {
	validScopes := []models.ExamScope{
		models.ScopeAll,
		models.ScopeSelected,
	}

	value := fl.Field().String()
	for _, validScope := range validScopes {
		if string(validScope) == value {
			return true
		}
	}
	return false
}

func ValidateUserRole(fl validator.FieldLevel) bool {
	validRoles := []models.UserRole{
		models.RoleStudent,
		models.RoleFaculty,
		models.RoleAdmin,
	}

	value := fl.Field().String()
	for _, validRole := range validRoles {
		if string(validRole) == value {
			return true
		}
	}
	return false
}

// RegisterCustomValidators registers all custom validators
func RegisterCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("difficulty_level", ValidateDifficultyLevel)
	validate.RegisterValidation("warning_source", ValidateWarningSource)
	validate.RegisterValidation("exam_scope", ValidateExamScope)
	validate.RegisterValidation("user_role", ValidateUserRole)

	// Register custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validator wraps the struct validator with the custom rules registered.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a validator with the custom rules registered.
func NewValidator() *Validator {
	validate := validator.New()
	RegisterCustomValidators(validate)
	return &Validator{validate: validate}
}

// Validate validates struct tags on the given value.
func (v *Validator) Validate(s interface{}) error {
	return v.validate.Struct(s)
}

// Var validates a single value against a tag expression.
func (v *Validator) Var(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}
