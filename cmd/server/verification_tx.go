package main

import (
	"context"
	"database/sql"
	"time"

	verificationservice "skillproof/internal/verification/service"
	dErrors "skillproof/pkg/domain-errors"
	txcontext "skillproof/pkg/platform/tx"
)

const defaultVerificationTxTimeout = 5 * time.Second

// verificationPostgresTx runs a workflow transaction on one *sql.Tx. The
// Postgres stores pick the transaction up from the context, so the record,
// the profile and the outbox row commit or roll back together.
type verificationPostgresTx struct {
	db      *sql.DB
	stores  verificationservice.TxStores
	timeout time.Duration
}

// newVerificationPostgresTx bounds each transaction by timeout when the caller
// set no deadline. Zero selects the default.
func newVerificationPostgresTx(db *sql.DB, stores verificationservice.TxStores, timeout time.Duration) *verificationPostgresTx {
	return &verificationPostgresTx{db: db, stores: stores, timeout: timeout}
}

func (t *verificationPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores verificationservice.TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultVerificationTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return txcontext.Run(ctx, t.db, func(ctx context.Context) error {
		return fn(ctx, t.stores)
	})
}
