package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"skillproof/internal/skill/models"
	"skillproof/pkg/platform/sentinel"
	txcontext "skillproof/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists the skill catalog in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, skill *models.Skill) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO skills (id, name, category, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, skill.ID, skill.Name, string(skill.Category), skill.Description, skill.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Skill, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name, category, description, created_at
		FROM skills
		WHERE id = $1
	`, id)
	skill, err := scanSkill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find skill by id: %w", err)
	}
	return skill, nil
}

func (s *PostgresStore) List(ctx context.Context, category models.Category) ([]*models.Skill, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, name, category, description, created_at
		FROM skills
		WHERE $1::text = '' OR category = $1::text
		ORDER BY created_at DESC
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*models.Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSkill(row scanner) (*models.Skill, error) {
	var (
		skill    models.Skill
		category string
	)
	if err := row.Scan(&skill.ID, &skill.Name, &category, &skill.Description, &skill.CreatedAt); err != nil {
		return nil, err
	}
	skill.Category = models.Category(category)
	return &skill, nil
}
