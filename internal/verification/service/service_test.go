package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"skillproof/internal/audit"
	"skillproof/internal/chain"
	"skillproof/internal/profile"
	profilestore "skillproof/internal/profile/store"
	skillmodels "skillproof/internal/skill/models"
	"skillproof/internal/verification/models"
	"skillproof/internal/verification/service/mocks"
	"skillproof/internal/verification/store"
	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
	"skillproof/pkg/requestcontext"
)

var (
	holder   = domain.MustParseAddress("0xabc0000000000000000000000000000000000001")
	verifier = domain.MustParseAddress("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	txHash   = common.HexToHash("0x9fc76417374aa880d4449a1f7f31ec597f00b1f6f3dd2d66f4c9c6c445836d8b")
)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	minter   *mocks.MockMinter
	skills   *mocks.MockSkillReader
	store    *store.InMemory
	profiles *profilestore.InMemory
	events   *audit.InMemoryStore
	tx       StoreTx
	svc      *Service
	skill    *skillmodels.Skill
	ctx      context.Context
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.minter = mocks.NewMockMinter(s.ctrl)
	s.skills = mocks.NewMockSkillReader(s.ctrl)
	s.store = store.NewInMemory()
	s.profiles = profilestore.NewInMemory()
	s.events = audit.NewInMemoryStore()
	s.tx = NewShardedTx(TxStores{Verifications: s.store, Profiles: s.profiles, Audit: s.events})
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithClientIP(requestcontext.WithRequestID(s.ctx, "req-7"), "203.0.113.9")

	s.skill = &skillmodels.Skill{
		ID:       uuid.New(),
		Name:     "Rust Programming",
		Category: skillmodels.CategoryProgramming,
	}
	s.skills.EXPECT().Get(gomock.Any(), s.skill.ID).Return(s.skill, nil).AnyTimes()
	s.svc = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(s.store, s.tx, s.minter, s.skills, profile.NewAggregator(profile.WithLogger(slog.New(slog.DiscardHandler))), opts...)
}

func (s *ServiceSuite) seedPending(at time.Time) *models.Verification {
	v, err := models.NewVerification(uuid.New(), holder, s.skill.ID, json.RawMessage(`{"repo":"github.com/x/y"}`), at)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), v))
	return v
}

func receipt(tokenID int64) chain.MintReceipt {
	return chain.MintReceipt{TokenID: big.NewInt(tokenID), TxHash: txHash, BlockNumber: 10}
}

func intPtr(i int) *int { return &i }

func (s *ServiceSuite) approve(v *models.Verification, score int, tokenID int64) *models.Verification {
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(receipt(tokenID), nil)
	out, err := s.svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(score), VerifierAddress: verifier.String()})
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) TestApprove() {
	s.Run("mints with the request's data and records the outcome", func() {
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), chain.MintRequest{
			To:          holder.Common(),
			SkillName:   "Rust Programming",
			Category:    "programming",
			Score:       90,
			MetadataURI: "ipfs://skill-" + v.ID.String(),
		}).Return(receipt(42), nil).Times(1)

		out, err := s.svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(90), VerifierAddress: verifier.String()})
		s.Require().NoError(err)

		outcome, ok := out.Verified()
		s.Require().True(ok)
		s.Equal(90, outcome.Score)
		s.Equal(verifier, outcome.VerifierAddress)
		s.Equal(int64(42), outcome.TokenID.Int64())
		s.Len(outcome.TxHash, 66)
		s.Equal(s.now, out.UpdatedAt)

		stored, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, stored.Status())

		events, err := s.events.ListByAction(s.ctx, audit.ActionVerificationApproved)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal("42", events[0].TokenID)
		s.Equal("req-7", events[0].RequestID)
		s.Equal("203.0.113.9", events[0].ClientIP)
	})

	s.Run("score defaults when absent", func() {
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req chain.MintRequest) (chain.MintReceipt, error) {
				s.Equal(uint64(DefaultScore), req.Score)
				return receipt(43), nil
			})

		out, err := s.svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
		s.Require().NoError(err)
		outcome, _ := out.Verified()
		s.Equal(DefaultScore, outcome.Score)
	})

	s.Run("configured default score", func() {
		svc := s.newService(WithDefaultScore(60))
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(receipt(44), nil)

		out, err := svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
		s.Require().NoError(err)
		outcome, _ := out.Verified()
		s.Equal(60, outcome.Score)
	})

	s.Run("metadata prefix is configurable", func() {
		svc := s.newService(WithMetadataPrefix("ar://credentials/"))
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req chain.MintRequest) (chain.MintReceipt, error) {
				s.Equal("ar://credentials/"+v.ID.String(), req.MetadataURI)
				return receipt(45), nil
			})
		_, err := svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestApprovePreconditions() {
	s.Run("unknown id", func() {
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Times(0)
		_, err := s.svc.Approve(s.ctx, uuid.New(), ApproveRequest{VerifierAddress: verifier.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("already verified: no chain call, record unchanged", func() {
		v := s.seedPending(s.now)
		s.approve(v, 70, 7)
		before, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)

		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Times(0)
		_, err = s.svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(99), VerifierAddress: verifier.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		after, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(before, after)
	})

	s.Run("rejected: no chain call", func() {
		v := s.seedPending(s.now)
		_, err := s.svc.Reject(s.ctx, v.ID)
		s.Require().NoError(err)

		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Times(0)
		_, err = s.svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("state is checked before the verifier", func() {
		v := s.seedPending(s.now)
		_, err := s.svc.Reject(s.ctx, v.ID)
		s.Require().NoError(err)

		_, err = s.svc.Approve(s.ctx, v.ID, ApproveRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	invalid := map[string]ApproveRequest{
		"missing verifier":   {Score: intPtr(80)},
		"malformed verifier": {Score: intPtr(80), VerifierAddress: "0xVER"},
		"negative score":     {Score: intPtr(-1), VerifierAddress: verifier.String()},
		"score above max":    {Score: intPtr(101), VerifierAddress: verifier.String()},
	}
	for name, req := range invalid {
		s.Run(name, func() {
			v := s.seedPending(s.now)
			s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Times(0)

			_, err := s.svc.Approve(s.ctx, v.ID, req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)

			stored, err := s.store.FindByID(s.ctx, v.ID)
			s.Require().NoError(err)
			s.Equal(models.StatusPending, stored.Status())
		})
	}

	s.Run("max score zero disables the bound", func() {
		svc := s.newService(WithMaxScore(0))
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(receipt(50), nil)

		out, err := svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(250), VerifierAddress: verifier.String()})
		s.Require().NoError(err)
		outcome, _ := out.Verified()
		s.Equal(250, outcome.Score)
	})

	s.Run("unbounded score still has to fit the score column", func() {
		svc := s.newService(WithMaxScore(0))
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(math.MaxInt32 + 1), VerifierAddress: verifier.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)

		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(receipt(51), nil)
		out, err := svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(math.MaxInt32), VerifierAddress: verifier.String()})
		s.Require().NoError(err)
		outcome, _ := out.Verified()
		s.Equal(math.MaxInt32, outcome.Score)
	})
}

func (s *ServiceSuite) TestApproveMintFailure() {
	s.Run("timeout leaves the record pending and the profile untouched", func() {
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(chain.MintReceipt{}, &chain.MintError{
			Stage:  chain.StageConfirm,
			TxHash: txHash,
			Err:    context.DeadlineExceeded,
		})

		_, err := s.svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(80), VerifierAddress: verifier.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeMintFailed))
		de, ok := dErrors.As(err)
		s.Require().True(ok)
		s.Equal(txHash.Hex(), de.Details["tx_hash"])

		stored, err := s.store.FindByID(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, stored.Status())
		_, verified := stored.Verified()
		s.False(verified)

		_, err = s.profiles.FindByAddress(s.ctx, holder)
		s.Error(err)

		failed, err := s.events.ListByAction(s.ctx, audit.ActionMintFailed)
		s.Require().NoError(err)
		s.Require().Len(failed, 1)
		s.Equal(v.ID.String(), failed[0].VerificationID)
	})

	s.Run("failed request can be approved again", func() {
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(chain.MintReceipt{}, &chain.MintError{Stage: chain.StageSend, Err: errors.New("nonce too low")})
		_, err := s.svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeMintFailed))

		s.approve(v, 80, 60)
	})
}

func (s *ServiceSuite) TestApproveStalledMintIsBounded() {
	svc := s.newService(WithMintTimeout(50 * time.Millisecond))
	v := s.seedPending(s.now)
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ chain.MintRequest) (chain.MintReceipt, error) {
			<-ctx.Done()
			return chain.MintReceipt{}, &chain.MintError{Stage: chain.StageNonce, Err: ctx.Err()}
		})

	start := time.Now()
	_, err := svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
	s.Less(time.Since(start), time.Second)
	s.True(dErrors.HasCode(err, dErrors.CodeMintFailed))

	stored, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status())
}

// failFirstTx fails the first transaction it is asked to run and delegates
// the rest.
type failFirstTx struct {
	next  StoreTx
	calls atomic.Int32
}

func (f *failFirstTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	if f.calls.Add(1) == 1 {
		return errors.New("connection reset by peer")
	}
	return f.next.RunInTx(ctx, fn)
}

func (s *ServiceSuite) TestApprovePersistenceFailureReportsMint() {
	s.tx = &failFirstTx{next: s.tx}
	svc := s.newService()
	v := s.seedPending(s.now)
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Return(receipt(77), nil).Times(1)

	_, err := svc.Approve(s.ctx, v.ID, ApproveRequest{Score: intPtr(80), VerifierAddress: verifier.String()})
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	de, ok := dErrors.As(err)
	s.Require().True(ok)
	s.Equal("77", de.Details["token_id"])
	s.Equal(txHash.Hex(), de.Details["tx_hash"])

	stored, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status())

	unreconciled, err := s.events.ListByAction(s.ctx, audit.ActionMintUnreconciled)
	s.Require().NoError(err)
	s.Require().Len(unreconciled, 1)
	s.Equal("77", unreconciled[0].TokenID)
}

func (s *ServiceSuite) TestApproveSurvivesCallerCancellation() {
	v := s.seedPending(s.now)
	ctx, cancel := context.WithCancel(s.ctx)
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(mintCtx context.Context, _ chain.MintRequest) (chain.MintReceipt, error) {
			cancel()
			s.NoError(mintCtx.Err())
			return receipt(88), nil
		})

	_, err := s.svc.Approve(ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
	s.Require().NoError(err)

	stored, err := s.store.FindByID(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, stored.Status())
}

func (s *ServiceSuite) TestConcurrentApprovalsMintOnce() {
	v := s.seedPending(s.now)
	var mints atomic.Int32
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, chain.MintRequest) (chain.MintReceipt, error) {
			mints.Add(1)
			time.Sleep(20 * time.Millisecond)
			return receipt(5), nil
		}).Times(1)

	const callers = 2
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		invalid   atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Approve(s.ctx, v.ID, ApproveRequest{VerifierAddress: verifier.String()})
			switch {
			case err == nil:
				succeeded.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidState):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), mints.Load())
	s.Equal(int32(1), succeeded.Load())
	s.Equal(int32(1), invalid.Load())
}

func (s *ServiceSuite) TestProfileAggregation() {
	s.Run("first approval creates the profile", func() {
		v := s.seedPending(s.now)
		s.approve(v, 80, 1)

		p, err := s.profiles.FindByAddress(s.ctx, holder)
		s.Require().NoError(err)
		s.Equal(1, p.TotalVerifications)
		s.Equal(80.0, p.AverageScore)
	})

	s.Run("average covers all verified scores", func() {
		s.SetupTest()
		s.approve(s.seedPending(s.now), 60, 1)
		s.approve(s.seedPending(s.now), 80, 2)
		s.approve(s.seedPending(s.now), 100, 3)

		p, err := s.profiles.FindByAddress(s.ctx, holder)
		s.Require().NoError(err)
		s.Equal(3, p.TotalVerifications)
		s.Equal(80.0, p.AverageScore)
	})

	s.Run("rejections do not touch the profile", func() {
		s.SetupTest()
		v := s.seedPending(s.now)
		_, err := s.svc.Reject(s.ctx, v.ID)
		s.Require().NoError(err)

		_, err = s.profiles.FindByAddress(s.ctx, holder)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestReject() {
	s.Run("pending becomes rejected without a mint", func() {
		v := s.seedPending(s.now)
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any()).Times(0)

		out, err := s.svc.Reject(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, out.Status())

		events, err := s.events.ListByAction(s.ctx, audit.ActionVerificationRejected)
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("second reject is invalid", func() {
		v := s.seedPending(s.now)
		_, err := s.svc.Reject(s.ctx, v.ID)
		s.Require().NoError(err)
		_, err = s.svc.Reject(s.ctx, v.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("unknown id", func() {
		_, err := s.svc.Reject(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("creates a pending record", func() {
		v, err := s.svc.Submit(s.ctx, SubmitRequest{
			UserAddress: holder,
			SkillID:     s.skill.ID,
			ProofData:   []byte(`{"certificate":"ipfs://cert"}`),
		})
		s.Require().NoError(err)
		s.Equal(models.StatusPending, v.Status())
		s.Equal(s.now, v.CreatedAt)

		events, err := s.events.ListByAction(s.ctx, audit.ActionVerificationSubmitted)
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("unknown skill is a validation error", func() {
		missing := uuid.New()
		s.skills.EXPECT().Get(gomock.Any(), missing).Return(nil, dErrors.New(dErrors.CodeNotFound, "skill not found"))

		_, err := s.svc.Submit(s.ctx, SubmitRequest{UserAddress: holder, SkillID: missing, ProofData: []byte(`{"a":1}`)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty proof is a validation error", func() {
		_, err := s.svc.Submit(s.ctx, SubmitRequest{UserAddress: holder, SkillID: s.skill.ID, ProofData: []byte(`{}`)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestQueries() {
	older := s.seedPending(s.now.Add(-2 * time.Hour))
	newer := s.seedPending(s.now.Add(-time.Hour))
	pending := s.seedPending(s.now)
	s.approve(older, 70, 1)
	s.approve(newer, 90, 2)

	verified, err := s.svc.VerifiedForUser(s.ctx, holder)
	s.Require().NoError(err)
	s.Require().Len(verified, 2)
	s.Equal(newer.ID, verified[0].ID)
	s.Equal(older.ID, verified[1].ID)

	all, err := s.svc.List(s.ctx, holder)
	s.Require().NoError(err)
	s.Len(all, 3)
	s.Equal(pending.ID, all[0].ID)

	got, err := s.svc.Get(s.ctx, pending.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status())

	_, err = s.svc.Get(s.ctx, uuid.New())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
