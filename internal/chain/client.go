// Package chain mints skill credential tokens on an EVM chain. It is the only
// package that talks to the node or touches the signing key.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/ratelimit"

	"skillproof/internal/platform/lock"
	"skillproof/pkg/platform/circuit"
)

const (
	defaultGasLimit       = 300_000
	defaultConfirmTimeout = 2 * time.Minute
	defaultSubmitTimeout  = 30 * time.Second
)

// MintRequest describes one credential to mint.
type MintRequest struct {
	To          common.Address
	SkillName   string
	Category    string
	Score       uint64
	MetadataURI string
}

// MintReceipt is the on-chain proof of a confirmed mint.
type MintReceipt struct {
	TokenID     *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// MintObserver records mint outcomes.
type MintObserver interface {
	ObserveMint(stage string, d time.Duration)
}

// Client signs and submits mint transactions from a single account.
//
// Submissions from the same account are serialized through the locker (key
// "signer:<address>") from nonce lookup until the node accepts the
// transaction, so concurrent mints never reuse a nonce. The confirmation wait
// happens outside the lock.
type Client struct {
	backend        Backend
	contract       *contract
	key            *ecdsa.PrivateKey
	from           common.Address
	signer         types.Signer
	gasLimit       uint64
	confirmTimeout time.Duration
	submitTimeout  time.Duration
	locker         lock.Locker
	limiter        ratelimit.Limiter
	logger         *slog.Logger
	observer       MintObserver
	tracer         trace.Tracer
	breaker        *circuit.Breaker
}

type Option func(*Client)

func WithLocker(l lock.Locker) Option {
	return func(c *Client) {
		if l != nil {
			c.locker = l
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithGasLimit(limit uint64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.gasLimit = limit
		}
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// WithSubmitTimeout bounds everything before the confirmation wait: signer
// lock, nonce and gas price lookups, and the send.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

// WithSubmitRate caps submissions per second across the process.
func WithSubmitRate(perSecond int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = ratelimit.New(perSecond)
		}
	}
}

// WithBreaker fails mints fast while the node keeps rejecting nonce, gas
// price or send calls.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithObserver(o MintObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New builds a Client. A nil chainID is resolved from the node.
func New(ctx context.Context, backend Backend, contractAddress common.Address, key *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("chain: signing key is required")
	}
	ctr, err := newContract(contractAddress)
	if err != nil {
		return nil, err
	}
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain: resolve chain id: %w", err)
		}
	}

	c := &Client{
		backend:        backend,
		contract:       ctr,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.LatestSignerForChainID(chainID),
		gasLimit:       defaultGasLimit,
		confirmTimeout: defaultConfirmTimeout,
		submitTimeout:  defaultSubmitTimeout,
		locker:         lock.NewKeyed(),
		logger:         slog.Default(),
		tracer:         otel.Tracer("skillproof/internal/chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// From returns the signing account address.
func (c *Client) From() common.Address {
	return c.from
}

// ConfirmTimeout is the upper bound Mint waits for a receipt.
func (c *Client) ConfirmTimeout() time.Duration {
	return c.confirmTimeout
}

// MintTimeout is the longest a single Mint call can take.
func (c *Client) MintTimeout() time.Duration {
	return c.submitTimeout + c.confirmTimeout
}

// Mint submits a mintSkill transaction and blocks until it is mined or the
// confirmation timeout elapses. A timeout does not retract the transaction:
// the returned *MintError carries the hash so a late landing can be matched.
func (c *Client) Mint(ctx context.Context, req MintRequest) (receipt MintReceipt, err error) {
	ctx, span := c.tracer.Start(ctx, "chain.Mint", trace.WithAttributes(
		attribute.String("mint.to", req.To.Hex()),
		attribute.String("mint.skill", req.SkillName),
	))
	start := time.Now()
	defer func() {
		stage := "success"
		var me *MintError
		if errors.As(err, &me) {
			stage = string(me.Stage)
			span.RecordError(err)
			span.SetStatus(codes.Error, stage)
		}
		if c.observer != nil {
			c.observer.ObserveMint(stage, time.Since(start))
		}
		span.End()
	}()

	data, err := c.contract.packMint(req)
	if err != nil {
		return MintReceipt{}, &MintError{Stage: StageEncode, Err: err}
	}

	signed, err := c.submit(ctx, data)
	if err != nil {
		return MintReceipt{}, err
	}
	span.SetAttributes(attribute.String("mint.tx_hash", signed.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	mined, err := bind.WaitMined(waitCtx, c.backend, signed)
	if err != nil {
		c.logger.WarnContext(ctx, "mint confirmation not received",
			"tx_hash", signed.Hash().Hex(),
			"timeout", c.confirmTimeout.String(),
			"error", err,
		)
		return MintReceipt{}, &MintError{Stage: StageConfirm, TxHash: signed.Hash(), Err: err}
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return MintReceipt{}, &MintError{Stage: StageReverted, TxHash: signed.Hash(), Err: ErrReverted}
	}

	tokenID, ok := c.contract.mintedTokenID(mined)
	if !ok {
		return MintReceipt{}, &MintError{Stage: StageEvent, TxHash: signed.Hash(), Err: ErrEventMissing}
	}

	receipt = MintReceipt{
		TokenID: tokenID,
		TxHash:  signed.Hash(),
		GasUsed: mined.GasUsed,
	}
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	c.logger.InfoContext(ctx, "credential minted",
		"token_id", tokenID.String(),
		"tx_hash", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return receipt, nil
}

// submit holds the signer lock from nonce lookup to acceptance by the node.
// The whole step is bounded by the submit timeout; node calls that run into
// it count as node failures unless the caller itself went away.
func (c *Client) submit(parent context.Context, data []byte) (*types.Transaction, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, &MintError{Stage: StageUnavailable, Err: ErrNodeUnavailable}
	}
	ctx, cancel := context.WithTimeout(parent, c.submitTimeout)
	defer cancel()

	release, err := c.locker.Lock(ctx, "signer:"+c.from.Hex())
	if err != nil {
		return nil, &MintError{Stage: StageLock, Err: err}
	}
	defer release()

	if c.limiter != nil {
		c.limiter.Take()
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		c.nodeFailed(parent, err)
		return nil, &MintError{Stage: StageNonce, Err: err}
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		c.nodeFailed(parent, err)
		return nil, &MintError{Stage: StageGasPrice, Err: err}
	}

	to := c.contract.address
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, &MintError{Stage: StageSign, Err: err}
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		c.nodeFailed(parent, err)
		// the node may have accepted it before the error surfaced
		return nil, &MintError{Stage: StageSend, TxHash: signed.Hash(), Err: err}
	}
	c.nodeOK(ctx)
	c.logger.InfoContext(ctx, "mint submitted",
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas_price", gasPrice.String(),
	)
	return signed, nil
}

func (c *Client) nodeFailed(ctx context.Context, err error) {
	if c.breaker == nil || ctx.Err() != nil {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.ErrorContext(ctx, "chain node circuit opened", "breaker", c.breaker.Name(), "error", err)
	}
}

func (c *Client) nodeOK(ctx context.Context) {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "chain node circuit closed", "breaker", c.breaker.Name())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
