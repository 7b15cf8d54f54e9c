package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"skillproof/internal/audit"
	"skillproof/internal/profile"
	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
)

// TxStores are the stores reachable inside a transaction.
type TxStores struct {
	Verifications Store
	Profiles      profile.Store
	Audit         audit.Store
}

// StoreTx provides the transactional boundary for a state transition, the
// profile recompute it triggers and its audit event. Implementations wrap a
// database transaction or, in memory, a lock sharded by user address.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}

const (
	numShards        = 64
	defaultTxTimeout = 5 * time.Second
)

// ShardedTx serializes in-memory transactions per user address. It provides
// isolation only: writes made before fn fails are not rolled back.
type ShardedTx struct {
	shards  [numShards]sync.Mutex
	stores  TxStores
	timeout time.Duration
}

func NewShardedTx(stores TxStores) *ShardedTx {
	return &ShardedTx{stores: stores, timeout: defaultTxTimeout}
}

func (t *ShardedTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx, t.stores)
}

func (t *ShardedTx) selectShard(ctx context.Context) uint32 {
	address, ok := ctx.Value(txAddressKey{}).(domain.Address)
	if !ok || address.IsNil() {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	return h.Sum32() % numShards
}

type txAddressKey struct{}

// withTxAddress names the user whose profile the transaction touches.
func withTxAddress(ctx context.Context, address domain.Address) context.Context {
	return context.WithValue(ctx, txAddressKey{}, address)
}
