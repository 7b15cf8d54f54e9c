package handler

import (
	"time"

	"skillproof/internal/skill/models"
)

type SkillResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type SkillListResponse struct {
	Skills []SkillResponse `json:"skills"`
}

func FromSkill(s *models.Skill) SkillResponse {
	return SkillResponse{
		ID:          s.ID.String(),
		Name:        s.Name,
		Category:    string(s.Category),
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
	}
}

func FromSkills(skills []*models.Skill) SkillListResponse {
	out := SkillListResponse{Skills: make([]SkillResponse, 0, len(skills))}
	for _, s := range skills {
		out.Skills = append(out.Skills, FromSkill(s))
	}
	return out
}
