package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"skillproof/internal/skill/models"
	dErrors "skillproof/pkg/domain-errors"
	"skillproof/pkg/platform/sentinel"
	"skillproof/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, skill *models.Skill) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Skill, error)
	List(ctx context.Context, category models.Category) ([]*models.Skill, error)
}

// Service manages the skill catalog.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSkillRequest is the validated input for Create.
type CreateSkillRequest struct {
	Name        string
	Category    models.Category
	Description string
}

func (s *Service) Create(ctx context.Context, req CreateSkillRequest) (*models.Skill, error) {
	skill, err := models.NewSkill(uuid.New(), req.Name, req.Category, req.Description, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, skill); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "skill already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create skill")
	}
	s.logger.InfoContext(ctx, "skill created",
		"skill_id", skill.ID,
		"category", skill.Category,
	)
	return skill, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Skill, error) {
	skill, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "skill not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load skill")
	}
	return skill, nil
}

func (s *Service) List(ctx context.Context, category models.Category) ([]*models.Skill, error) {
	skills, err := s.store.List(ctx, category)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list skills")
	}
	return skills, nil
}
