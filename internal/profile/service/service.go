// Package service serves read access to user profiles.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"skillproof/internal/profile/models"
	verificationmodels "skillproof/internal/verification/models"
	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
	"skillproof/pkg/platform/sentinel"
)

const defaultViewTimeout = 5 * time.Second

type Store interface {
	FindByAddress(ctx context.Context, address domain.Address) (*models.UserProfile, error)
}

// VerifiedLister lists the verified records of an address, newest first.
type VerifiedLister interface {
	VerifiedForUser(ctx context.Context, address domain.Address) ([]*verificationmodels.Verification, error)
}

// View is a profile together with the credentials backing it.
type View struct {
	Profile  *models.UserProfile
	Verified []*verificationmodels.Verification
}

type Service struct {
	store        Store
	verified     VerifiedLister
	logger       *slog.Logger
	queryTimeout time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

func New(store Store, verified VerifiedLister, opts ...Option) *Service {
	s := &Service{
		store:        store,
		verified:     verified,
		logger:       slog.Default(),
		queryTimeout: defaultViewTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View loads the profile and the verified records of address in parallel.
// An address that never had an approval has no profile and yields NotFound.
func (s *Service) View(ctx context.Context, address domain.Address) (*View, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	view := &View{}

	g.Go(func() error {
		p, err := s.store.FindByAddress(ctx, address)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "profile not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
		}
		view.Profile = p
		return nil
	})

	g.Go(func() error {
		items, err := s.verified.VerifiedForUser(ctx, address)
		if err != nil {
			return err
		}
		view.Verified = items
		return nil
	})

	if err := g.Wait(); err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.ErrorContext(ctx, "profile view failed",
				"address", address,
				"error", err,
			)
		}
		return nil, err
	}
	return view, nil
}
