package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "skillproof/pkg/domain-errors"
)

// Category groups skills in the catalog.
type Category string

const (
	CategoryProgramming Category = "programming"
	CategoryDesign      Category = "design"
	CategoryMarketing   Category = "marketing"
	CategoryBlockchain  Category = "blockchain"
	CategoryDataScience Category = "data_science"
	CategoryOther       Category = "other"
)

var categories = map[Category]struct{}{
	CategoryProgramming: {},
	CategoryDesign:      {},
	CategoryMarketing:   {},
	CategoryBlockchain:  {},
	CategoryDataScience: {},
	CategoryOther:       {},
}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := categories[c]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unknown skill category: "+raw)
	}
	return c, nil
}

func (c Category) String() string {
	return string(c)
}

const maxNameLength = 100

// Skill is a catalog entry a user can claim. Skills are immutable once created.
type Skill struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewSkill(skillID uuid.UUID, name string, category Category, description string, now time.Time) (*Skill, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "skill name is required")
	}
	if len(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeValidation, "skill name must be 100 characters or less")
	}
	if _, ok := categories[category]; !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown skill category: "+string(category))
	}
	return &Skill{
		ID:          skillID,
		Name:        name,
		Category:    category,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
	}, nil
}
