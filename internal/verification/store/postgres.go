package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"skillproof/internal/verification/models"
	"skillproof/pkg/domain"
	"skillproof/pkg/platform/sentinel"
	txcontext "skillproof/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists verifications. The State variant is flattened into
// status plus nullable outcome columns and rebuilt on load.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectVerification = `
	SELECT id, user_address, skill_id, proof_data, status, score, verifier_address, token_id, tx_hash, created_at, updated_at
	FROM verifications`

func (s *PostgresStore) Create(ctx context.Context, v *models.Verification) error {
	cols := models.Flatten(v.State)
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verifications (id, user_address, skill_id, proof_data, status, score, verifier_address, token_id, tx_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, v.ID, v.UserAddress.String(), v.SkillID, []byte(v.ProofData),
		string(cols.Status), cols.Score, cols.VerifierAddress, cols.TokenID, cols.TxHash,
		v.CreatedAt, v.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, selectVerification+` WHERE id = $1`, id)
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, address domain.Address) ([]*models.Verification, error) {
	return s.query(ctx, selectVerification+`
		WHERE $1::text = '' OR user_address = $1::text
		ORDER BY created_at DESC, id DESC`, address.String())
}

func (s *PostgresStore) VerifiedForUser(ctx context.Context, address domain.Address) ([]*models.Verification, error) {
	return s.query(ctx, selectVerification+`
		WHERE user_address = $1 AND status = 'verified'
		ORDER BY created_at DESC, id DESC`, address.String())
}

func (s *PostgresStore) VerifiedScores(ctx context.Context, address domain.Address) ([]int, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT score FROM verifications
		WHERE user_address = $1 AND status = 'verified'
	`, address.String())
	if err != nil {
		return nil, fmt.Errorf("query verified scores: %w", err)
	}
	defer rows.Close()
	var scores []int
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return scores, nil
}

// Transition writes v's state with a compare-and-set on status = 'pending'.
// It returns sentinel.ErrInvalidState when the row has already moved on.
func (s *PostgresStore) Transition(ctx context.Context, v *models.Verification) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	cols := models.Flatten(v.State)
	result, err := exec.ExecContext(ctx, `
		UPDATE verifications
		SET status = $2, score = $3, verifier_address = $4, token_id = $5, tx_hash = $6, updated_at = $7
		WHERE id = $1 AND status = 'pending'
	`, v.ID, string(cols.Status), cols.Score, cols.VerifierAddress, cols.TokenID, cols.TxHash, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("transition verification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM verifications WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check verification: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Verification, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Verification, 0)
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerification(row scanner) (*models.Verification, error) {
	var (
		v        models.Verification
		user     string
		proof    []byte
		status   string
		score    sql.NullInt64
		verifier sql.NullString
		tokenID  sql.NullString
		txHash   sql.NullString
	)
	if err := row.Scan(&v.ID, &user, &v.SkillID, &proof, &status, &score, &verifier, &tokenID, &txHash, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	state, err := models.Restore(models.StateColumns{
		Status:          models.Status(status),
		Score:           nullInt(score),
		VerifierAddress: nullString(verifier),
		TokenID:         nullString(tokenID),
		TxHash:          nullString(txHash),
	})
	if err != nil {
		return nil, fmt.Errorf("verification %s: %w", v.ID, err)
	}
	v.UserAddress = domain.Address(user)
	v.ProofData = proof
	v.State = state
	return &v, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
