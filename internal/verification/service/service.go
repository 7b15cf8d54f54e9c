// Package service implements the verification workflow: submission, review
// and the approve path that mints a credential and records it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"skillproof/internal/audit"
	"skillproof/internal/chain"
	"skillproof/internal/platform/lock"
	"skillproof/internal/profile"
	"skillproof/internal/verification/metrics"
	"skillproof/internal/verification/models"
	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
	"skillproof/pkg/platform/sentinel"
	"skillproof/pkg/requestcontext"
)

// Store persists verification records.
type Store interface {
	Create(ctx context.Context, v *models.Verification) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Verification, error)
	ListByUser(ctx context.Context, address domain.Address) ([]*models.Verification, error)
	VerifiedForUser(ctx context.Context, address domain.Address) ([]*models.Verification, error)
	VerifiedScores(ctx context.Context, address domain.Address) ([]int, error)
	// Transition saves a state change if the stored record is still pending.
	Transition(ctx context.Context, v *models.Verification) error
}

const (
	DefaultScore          = 75
	DefaultMaxScore       = 100
	DefaultMetadataPrefix = "ipfs://skill-"

	// MaxStoredScore is the largest score the verifications table can hold.
	// It applies even when the configured maximum is disabled.
	MaxStoredScore = math.MaxInt32
)

// Service runs the verification workflow.
type Service struct {
	store      Store
	tx         StoreTx
	minter     Minter
	skills     SkillReader
	aggregator *profile.Aggregator
	locker     lock.Locker

	defaultScore   int
	maxScore       int
	metadataPrefix string
	mintTimeout    time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker replaces the in-process per-request lock, e.g. with a Redis
// locker when several replicas serve the same database.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithDefaultScore(score int) Option {
	return func(s *Service) {
		s.defaultScore = score
	}
}

// WithMaxScore bounds accepted scores. Zero disables the upper bound.
func WithMaxScore(max int) Option {
	return func(s *Service) {
		s.maxScore = max
	}
}

func WithMetadataPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.metadataPrefix = prefix
		}
	}
}

// WithMintTimeout bounds the whole mint call. Without it the minter's own
// confirmation timeout applies.
func WithMintTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.mintTimeout = d
	}
}

func New(store Store, tx StoreTx, minter Minter, skills SkillReader, aggregator *profile.Aggregator, opts ...Option) *Service {
	s := &Service{
		store:          store,
		tx:             tx,
		minter:         minter,
		skills:         skills,
		aggregator:     aggregator,
		locker:         lock.NewKeyed(),
		defaultScore:   DefaultScore,
		maxScore:       DefaultMaxScore,
		metadataPrefix: DefaultMetadataPrefix,
		logger:         slog.Default(),
		tracer:         otel.Tracer("skillproof/internal/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest is the validated input of Submit.
type SubmitRequest struct {
	UserAddress domain.Address
	SkillID     uuid.UUID
	ProofData   []byte
}

// Submit creates a pending verification for a known skill.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Verification, error) {
	if _, err := s.skills.Get(ctx, req.SkillID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "skill_id does not reference a known skill")
		}
		return nil, err
	}
	v, err := models.NewVerification(uuid.New(), req.UserAddress, req.SkillID, req.ProofData, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(withTxAddress(ctx, v.UserAddress), func(ctx context.Context, stores TxStores) error {
		if err := stores.Verifications.Create(ctx, v); err != nil {
			return err
		}
		return s.emit(ctx, stores, audit.Event{
			Action:         audit.ActionVerificationSubmitted,
			VerificationID: v.ID.String(),
			UserAddress:    v.UserAddress.String(),
			SkillID:        v.SkillID.String(),
		})
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save verification")
	}
	s.metrics.IncSubmitted()
	s.logger.InfoContext(ctx, "verification submitted",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID,
		"user_address", v.UserAddress,
		"skill_id", v.SkillID,
	)
	return v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Verification, error) {
	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translateLoadError(err)
	}
	return v, nil
}

// List returns the records of one user, or all records when address is empty,
// newest first.
func (s *Service) List(ctx context.Context, address domain.Address) ([]*models.Verification, error) {
	items, err := s.store.ListByUser(ctx, address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verifications")
	}
	return items, nil
}

// VerifiedForUser returns the verified records of address, newest first.
func (s *Service) VerifiedForUser(ctx context.Context, address domain.Address) ([]*models.Verification, error) {
	items, err := s.store.VerifiedForUser(ctx, address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verified records")
	}
	return items, nil
}

// ApproveRequest is the reviewer's decision. A nil Score takes the default.
type ApproveRequest struct {
	Score           *int
	VerifierAddress string
}

// Approve mints the credential for a pending verification and records the
// outcome.
//
// The per-request lock is held from the pending check until the new state is
// stored, so at most one mint is attempted per request. The mint runs
// detached from the caller's cancellation: once a transaction may reach the
// chain, the record has to be written regardless of the client going away.
//
// Errors: NotFound, InvalidState (no side effects), Validation, MintFailed
// (record stays pending), Persistence (the token exists on chain; details
// carry token_id and tx_hash).
func (s *Service) Approve(ctx context.Context, id uuid.UUID, req ApproveRequest) (_ *models.Verification, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification.Approve", trace.WithAttributes(
		attribute.String("verification.id", id.String()),
	))
	defer func() {
		outcome := "verified"
		if err != nil {
			outcome = "error"
			if de, ok := dErrors.As(err); ok {
				outcome = string(de.Code)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		s.metrics.ObserveApprove(outcome, start)
		span.End()
	}()

	release, err := s.lockRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translateLoadError(err)
	}
	if err := v.CanApprove(); err != nil {
		return nil, err
	}
	verifier, score, err := s.validateApproval(req)
	if err != nil {
		return nil, err
	}
	skill, err := s.skills.Get(ctx, v.SkillID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verification references an unknown skill")
	}

	detached := context.WithoutCancel(ctx)
	mintCtx := detached
	if s.mintTimeout > 0 {
		var cancel context.CancelFunc
		mintCtx, cancel = context.WithTimeout(mintCtx, s.mintTimeout)
		defer cancel()
	}
	receipt, err := s.minter.Mint(mintCtx, chain.MintRequest{
		To:          v.UserAddress.Common(),
		SkillName:   skill.Name,
		Category:    string(skill.Category),
		Score:       uint64(score),
		MetadataURI: models.MetadataURI(s.metadataPrefix, v.ID),
	})
	if err != nil {
		return nil, s.mintFailed(detached, v, err)
	}

	outcome := models.Verified{
		Score:           score,
		VerifierAddress: verifier,
		TokenID:         receipt.TokenID,
		TxHash:          receipt.TxHash.Hex(),
	}
	span.SetAttributes(
		attribute.String("mint.token_id", outcome.TokenID.String()),
		attribute.String("mint.tx_hash", outcome.TxHash),
	)

	persistCtx := withTxAddress(detached, v.UserAddress)
	err = s.tx.RunInTx(persistCtx, func(ctx context.Context, stores TxStores) error {
		v.ApplyVerified(outcome, requestcontext.Now(ctx))
		if err := stores.Verifications.Transition(ctx, v); err != nil {
			return err
		}
		if _, err := s.aggregator.Recompute(ctx, stores.Verifications, stores.Profiles, v.UserAddress); err != nil {
			return err
		}
		return s.emit(ctx, stores, audit.Event{
			Action:          audit.ActionVerificationApproved,
			VerificationID:  v.ID.String(),
			UserAddress:     v.UserAddress.String(),
			SkillID:         v.SkillID.String(),
			VerifierAddress: verifier.String(),
			Score:           &score,
			TokenID:         outcome.TokenID.String(),
			TxHash:          outcome.TxHash,
		})
	})
	if err != nil {
		return nil, s.unreconciled(persistCtx, v, outcome, err)
	}

	s.logger.InfoContext(ctx, "verification approved",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID,
		"user_address", v.UserAddress,
		"score", score,
		"token_id", outcome.TokenID.String(),
		"tx_hash", outcome.TxHash,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return v, nil
}

// Reject closes a pending verification without touching the chain.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*models.Verification, error) {
	release, err := s.lockRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translateLoadError(err)
	}
	if err := v.CanReject(); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(withTxAddress(ctx, v.UserAddress), func(ctx context.Context, stores TxStores) error {
		v.ApplyRejected(requestcontext.Now(ctx))
		if err := stores.Verifications.Transition(ctx, v); err != nil {
			return err
		}
		return s.emit(ctx, stores, audit.Event{
			Action:         audit.ActionVerificationRejected,
			VerificationID: v.ID.String(),
			UserAddress:    v.UserAddress.String(),
			SkillID:        v.SkillID.String(),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "verification is no longer pending")
		}
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to save rejection")
	}
	s.metrics.IncRejected()
	s.logger.InfoContext(ctx, "verification rejected",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID,
		"user_address", v.UserAddress,
	)
	return v, nil
}

func (s *Service) lockRequest(ctx context.Context, id uuid.UUID) (lock.Release, error) {
	release, err := s.locker.Lock(ctx, "verification:"+id.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for verification lock")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire verification lock")
	}
	return release, nil
}

func (s *Service) validateApproval(req ApproveRequest) (domain.Address, int, error) {
	if req.VerifierAddress == "" {
		return "", 0, dErrors.New(dErrors.CodeValidation, "verifier_address is required")
	}
	verifier, err := domain.ParseAddress(req.VerifierAddress)
	if err != nil {
		return "", 0, dErrors.New(dErrors.CodeValidation, "verifier_address is not a valid address")
	}
	score := s.defaultScore
	if req.Score != nil {
		score = *req.Score
	}
	if score < 0 {
		return "", 0, dErrors.New(dErrors.CodeValidation, "score must not be negative")
	}
	if score > MaxStoredScore {
		return "", 0, dErrors.New(dErrors.CodeValidation, "score must be at most "+strconv.Itoa(MaxStoredScore))
	}
	if s.maxScore > 0 && score > s.maxScore {
		return "", 0, dErrors.New(dErrors.CodeValidation, "score must be at most "+strconv.Itoa(s.maxScore))
	}
	return verifier, score, nil
}

func (s *Service) mintFailed(ctx context.Context, v *models.Verification, cause error) error {
	de := dErrors.Wrap(cause, dErrors.CodeMintFailed, "failed to mint credential")
	event := audit.Event{
		Action:         audit.ActionMintFailed,
		VerificationID: v.ID.String(),
		UserAddress:    v.UserAddress.String(),
		SkillID:        v.SkillID.String(),
		Reason:         cause.Error(),
	}
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID,
		"error", cause,
	}
	var me *chain.MintError
	if errors.As(cause, &me) {
		attrs = append(attrs, "stage", string(me.Stage))
		if me.Submitted() {
			// the transaction may still land; keep its hash findable
			de = de.WithDetail("tx_hash", me.TxHash.Hex())
			event.TxHash = me.TxHash.Hex()
			attrs = append(attrs, "tx_hash", me.TxHash.Hex())
		}
	}
	s.logger.ErrorContext(ctx, "credential mint failed", attrs...)
	s.emitDetached(ctx, v.UserAddress, event)
	return de
}

func (s *Service) unreconciled(ctx context.Context, v *models.Verification, outcome models.Verified, cause error) error {
	s.metrics.IncUnreconciled()
	s.logger.ErrorContext(ctx, "credential minted but verification not saved",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID,
		"user_address", v.UserAddress,
		"token_id", outcome.TokenID.String(),
		"tx_hash", outcome.TxHash,
		"error", cause,
	)
	s.emitDetached(ctx, v.UserAddress, audit.Event{
		Action:         audit.ActionMintUnreconciled,
		VerificationID: v.ID.String(),
		UserAddress:    v.UserAddress.String(),
		SkillID:        v.SkillID.String(),
		TokenID:        outcome.TokenID.String(),
		TxHash:         outcome.TxHash,
		Reason:         cause.Error(),
	})
	return dErrors.Wrap(cause, dErrors.CodePersistence, "credential minted but verification could not be saved").
		WithDetail("token_id", outcome.TokenID.String()).
		WithDetail("tx_hash", outcome.TxHash)
}

func (s *Service) emit(ctx context.Context, stores TxStores, event audit.Event) error {
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	return audit.NewPublisher(stores.Audit).Emit(ctx, event)
}

// emitDetached records a failure event in its own transaction. Failing to
// record it is logged, never returned.
func (s *Service) emitDetached(ctx context.Context, address domain.Address, event audit.Event) {
	err := s.tx.RunInTx(withTxAddress(ctx, address), func(ctx context.Context, stores TxStores) error {
		return s.emit(ctx, stores, event)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record audit event",
			"action", string(event.Action),
			"verification_id", event.VerificationID,
			"error", err,
		)
	}
}

func translateLoadError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
}
