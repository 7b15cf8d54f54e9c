package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Stage names the step of a mint that failed.
type Stage string

const (
	StageUnavailable Stage = "node_unavailable"
	StageEncode      Stage = "encode"
	StageLock        Stage = "signer_lock"
	StageNonce       Stage = "nonce"
	StageGasPrice    Stage = "gas_price"
	StageSign        Stage = "sign"
	StageSend        Stage = "send"
	StageConfirm     Stage = "confirm"
	StageReverted    Stage = "reverted"
	StageEvent       Stage = "event"
)

var (
	ErrReverted     = errors.New("transaction reverted")
	ErrEventMissing = errors.New("SkillMinted event missing from receipt")

	// ErrNodeUnavailable is returned without contacting the node while the
	// circuit breaker is open.
	ErrNodeUnavailable = errors.New("chain node unavailable")
)

// MintError reports a failed mint. TxHash is set once the transaction left
// the process: from then on it may still land on chain even though Mint
// reported failure, and operators reconcile against it.
type MintError struct {
	Stage  Stage
	TxHash common.Hash
	Err    error
}

func (e *MintError) Error() string {
	if e.Submitted() {
		return fmt.Sprintf("mint failed at %s (tx %s): %v", e.Stage, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("mint failed at %s: %v", e.Stage, e.Err)
}

func (e *MintError) Unwrap() error {
	return e.Err
}

// Submitted reports whether the transaction was handed to the node.
func (e *MintError) Submitted() bool {
	return e.TxHash != (common.Hash{})
}
