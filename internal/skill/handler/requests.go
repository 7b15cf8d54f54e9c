package handler

import (
	"strings"

	"skillproof/internal/skill/models"
	dErrors "skillproof/pkg/domain-errors"
)

// CreateSkillRequest is the body of POST /skills.
type CreateSkillRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`

	parsedCategory models.Category
}

// Validate implements httputil.Validatable.
func (r *CreateSkillRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Description) > 4096 {
		return dErrors.New(dErrors.CodeValidation, "description must be at most 4096 characters")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(r.Category) == "" {
		return dErrors.New(dErrors.CodeValidation, "category is required")
	}
	category, err := models.ParseCategory(r.Category)
	if err != nil {
		return err
	}
	r.parsedCategory = category
	return nil
}

func (r *CreateSkillRequest) ParsedCategory() models.Category {
	return r.parsedCategory
}
