//go:build integration

package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"skillproof/internal/audit"
	"skillproof/internal/audit/outbox"
	profilestore "skillproof/internal/profile/store"
	"skillproof/internal/verification/models"
	verificationservice "skillproof/internal/verification/service"
	verificationstore "skillproof/internal/verification/store"
	"skillproof/pkg/domain"
	"skillproof/pkg/platform/sentinel"
	"skillproof/pkg/testutil/containers"
)

type VerificationTxSuite struct {
	suite.Suite
	postgres      *containers.PostgresContainer
	tx            *verificationPostgresTx
	verifications *verificationstore.PostgresStore
	profiles      *profilestore.PostgresStore
	outbox        *outbox.PostgresStore
	ctx           context.Context
	user          domain.Address
	skillID       uuid.UUID
}

func TestVerificationTxSuite(t *testing.T) {
	suite.Run(t, new(VerificationTxSuite))
}

func (s *VerificationTxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	db := s.postgres.DB
	s.verifications = verificationstore.NewPostgres(db)
	s.profiles = profilestore.NewPostgres(db)
	s.outbox = outbox.NewPostgres(db)
	s.tx = newVerificationPostgresTx(db, verificationservice.TxStores{
		Verifications: s.verifications,
		Profiles:      s.profiles,
		Audit:         s.outbox,
	}, 0)
	s.ctx = context.Background()
	s.user = domain.MustParseAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
}

func (s *VerificationTxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(s.ctx))
	s.skillID = uuid.New()
	_, err := s.postgres.Exec(s.ctx,
		`INSERT INTO skills (id, name, category, description, created_at) VALUES ($1, 'Go', 'programming', '', NOW())`, s.skillID)
	s.Require().NoError(err)
}

func (s *VerificationTxSuite) pending() *models.Verification {
	v, err := models.NewVerification(uuid.New(), s.user, s.skillID, json.RawMessage(`{"a":1}`), time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.verifications.Create(s.ctx, v))
	return v
}

func (s *VerificationTxSuite) approveInTx(v *models.Verification, fail error) error {
	return s.tx.RunInTx(s.ctx, func(ctx context.Context, stores verificationservice.TxStores) error {
		v.ApplyVerified(models.Verified{Score: 80, VerifierAddress: s.user, TokenID: big.NewInt(1), TxHash: "0x01"}, time.Now().UTC())
		if err := stores.Verifications.Transition(ctx, v); err != nil {
			return err
		}
		p, err := stores.Profiles.GetOrCreateForUpdate(ctx, s.user, time.Now().UTC())
		if err != nil {
			return err
		}
		p.TotalVerifications++
		if err := stores.Profiles.Save(ctx, p); err != nil {
			return err
		}
		if err := audit.NewPublisher(stores.Audit).Emit(ctx, audit.Event{
			Action:         audit.ActionVerificationApproved,
			VerificationID: v.ID.String(),
		}); err != nil {
			return err
		}
		return fail
	})
}

func (s *VerificationTxSuite) TestCommitWritesAllThree() {
	v := s.pending()
	s.Require().NoError(s.approveInTx(v, nil))

	got, err := s.verifications.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, got.Status())

	p, err := s.profiles.FindByAddress(s.ctx, s.user)
	s.Require().NoError(err)
	s.Equal(1, p.TotalVerifications)

	pending, err := s.outbox.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), pending)
}

func (s *VerificationTxSuite) TestFailureRollsBackEverything() {
	v := s.pending()
	boom := errors.New("boom")
	s.ErrorIs(s.approveInTx(v, boom), boom)

	got, err := s.verifications.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status())

	_, err = s.profiles.FindByAddress(s.ctx, s.user)
	s.ErrorIs(err, sentinel.ErrNotFound)

	pending, err := s.outbox.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *VerificationTxSuite) TestCancelledContextIsTimeout() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err := s.tx.RunInTx(ctx, func(context.Context, verificationservice.TxStores) error {
		s.Fail("fn must not run")
		return nil
	})
	s.Error(err)
}
