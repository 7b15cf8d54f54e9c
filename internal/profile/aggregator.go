// Package profile maintains per-address aggregates over verified skills.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"skillproof/internal/profile/models"
	"skillproof/pkg/domain"
	"skillproof/pkg/requestcontext"
)

// ScoreSource lists the scores of every verified record of an address,
// including writes made earlier in the same transaction.
type ScoreSource interface {
	VerifiedScores(ctx context.Context, address domain.Address) ([]int, error)
}

// Store loads profiles for update and saves them back.
type Store interface {
	// GetOrCreateForUpdate returns the profile for address, creating an empty
	// one if needed, and holds it for the rest of the transaction.
	GetOrCreateForUpdate(ctx context.Context, address domain.Address, now time.Time) (*models.UserProfile, error)
	Save(ctx context.Context, profile *models.UserProfile) error
}

// Aggregator recomputes a profile after an approval. It must run inside the
// transaction that recorded the approval.
type Aggregator struct {
	logger *slog.Logger
}

type AggregatorOption func(*Aggregator)

func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recompute counts one more verification for address and sets the average
// to the mean over all of its verified scores.
//
// The count is incremented on every call while the average is recomputed
// from scratch, so repeated calls without new approvals change the count but
// not the average.
func (a *Aggregator) Recompute(ctx context.Context, scores ScoreSource, profiles Store, address domain.Address) (*models.UserProfile, error) {
	now := requestcontext.Now(ctx)
	p, err := profiles.GetOrCreateForUpdate(ctx, address, now)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	verified, err := scores.VerifiedScores(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load verified scores: %w", err)
	}

	p.TotalVerifications++
	p.AverageScore = Average(verified)
	p.UpdatedAt = now

	if err := profiles.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	a.logger.DebugContext(ctx, "profile recomputed",
		"address", address,
		"total_verifications", p.TotalVerifications,
		"average_score", p.AverageScore,
	)
	return p, nil
}

// Average is the arithmetic mean of scores, 0 for none.
func Average(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum int64
	for _, s := range scores {
		sum += int64(s)
	}
	return float64(sum) / float64(len(scores))
}
