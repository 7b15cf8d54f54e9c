package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skillproof/internal/profile/models"
	"skillproof/pkg/domain"
	"skillproof/pkg/platform/sentinel"
	txcontext "skillproof/pkg/platform/tx"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const profileColumns = `address, username, bio, total_verifications, average_score, created_at, updated_at`

// GetOrCreateForUpdate inserts an empty profile when missing and locks the
// row with SELECT ... FOR UPDATE. It must run inside a transaction for the
// lock to outlive the call.
func (s *PostgresStore) GetOrCreateForUpdate(ctx context.Context, address domain.Address, now time.Time) (*models.UserProfile, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO user_profiles (address, username, bio, total_verifications, average_score, created_at, updated_at)
		VALUES ($1, '', '', 0, 0, $2, $2)
		ON CONFLICT (address) DO NOTHING
	`, address.String(), now)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	row := exec.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE address = $1 FOR UPDATE`, address.String())
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Save(ctx context.Context, profile *models.UserProfile) error {
	result, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE user_profiles
		SET username = $2, bio = $3, total_verifications = $4, average_score = $5, updated_at = $6
		WHERE address = $1
	`, profile.Address.String(), profile.Username, profile.Bio, profile.TotalVerifications, profile.AverageScore, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByAddress(ctx context.Context, address domain.Address) (*models.UserProfile, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE address = $1`, address.String())
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return p, nil
}

func scanProfile(row *sql.Row) (*models.UserProfile, error) {
	var (
		p       models.UserProfile
		address string
	)
	if err := row.Scan(&address, &p.Username, &p.Bio, &p.TotalVerifications, &p.AverageScore, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Address = domain.Address(address)
	return &p, nil
}
