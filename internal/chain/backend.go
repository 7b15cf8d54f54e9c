package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the slice of the JSON-RPC surface a mint needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// RPCMetrics observes individual RPC calls.
type RPCMetrics interface {
	Observe(operation string, err error, started time.Time)
}

// ObservedBackend decorates a Backend with per-operation metrics.
type ObservedBackend struct {
	next    Backend
	metrics RPCMetrics
}

func NewObservedBackend(next Backend, metrics RPCMetrics) *ObservedBackend {
	return &ObservedBackend{next: next, metrics: metrics}
}

func (b *ObservedBackend) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	started := time.Now()
	defer func() {
		b.metrics.Observe("pending_nonce_at", err, started)
	}()
	return b.next.PendingNonceAt(ctx, account)
}

func (b *ObservedBackend) SuggestGasPrice(ctx context.Context) (price *big.Int, err error) {
	started := time.Now()
	defer func() {
		b.metrics.Observe("suggest_gas_price", err, started)
	}()
	return b.next.SuggestGasPrice(ctx)
}

func (b *ObservedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) (err error) {
	started := time.Now()
	defer func() {
		b.metrics.Observe("send_transaction", err, started)
	}()
	return b.next.SendTransaction(ctx, tx)
}

func (b *ObservedBackend) ChainID(ctx context.Context) (id *big.Int, err error) {
	started := time.Now()
	defer func() {
		b.metrics.Observe("chain_id", err, started)
	}()
	return b.next.ChainID(ctx)
}

// TransactionReceipt is polled while waiting for confirmation; "not found"
// answers are expected there and are not counted as errors.
func (b *ObservedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (receipt *types.Receipt, err error) {
	started := time.Now()
	defer func() {
		observed := err
		if isNotFound(err) {
			observed = nil
		}
		b.metrics.Observe("transaction_receipt", observed, started)
	}()
	return b.next.TransactionReceipt(ctx, txHash)
}

func (b *ObservedBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) (code []byte, err error) {
	started := time.Now()
	defer func() {
		b.metrics.Observe("code_at", err, started)
	}()
	return b.next.CodeAt(ctx, account, blockNumber)
}
