package models

import (
	"fmt"
	"math/big"

	"skillproof/pkg/domain"
)

// Status is the persisted discriminator of State.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// State is the lifecycle position of a verification request. The set of
// variants is closed: Pending, Verified and Rejected.
//
// Allowed transitions: Pending -> Verified, Pending -> Rejected. Verified and
// Rejected are terminal.
type State interface {
	Status() Status
	isState()
}

type Pending struct{}

// Verified records the outcome of an approval together with the on-chain
// proof of the minted credential. The fields only exist in this variant.
type Verified struct {
	Score           int
	VerifierAddress domain.Address
	TokenID         *big.Int
	TxHash          string
}

type Rejected struct{}

func (Pending) Status() Status  { return StatusPending }
func (Verified) Status() Status { return StatusVerified }
func (Rejected) Status() Status { return StatusRejected }

func (Pending) isState()  {}
func (Verified) isState() {}
func (Rejected) isState() {}

// StateColumns is the flattened row form of a State.
type StateColumns struct {
	Status          Status
	Score           *int
	VerifierAddress *string
	TokenID         *string
	TxHash          *string
}

// Flatten maps a state onto its row columns. Fields outside the variant are nil.
func Flatten(s State) StateColumns {
	cols := StateColumns{Status: s.Status()}
	if v, ok := s.(Verified); ok {
		score := v.Score
		verifier := v.VerifierAddress.String()
		tokenID := v.TokenID.String()
		txHash := v.TxHash
		cols.Score = &score
		cols.VerifierAddress = &verifier
		cols.TokenID = &tokenID
		cols.TxHash = &txHash
	}
	return cols
}

// Restore rebuilds a State from row columns and rejects combinations that do
// not form a valid variant.
func Restore(cols StateColumns) (State, error) {
	verifiedFields := cols.Score != nil || cols.VerifierAddress != nil || cols.TokenID != nil || cols.TxHash != nil
	switch cols.Status {
	case StatusPending:
		if verifiedFields {
			return nil, fmt.Errorf("pending record carries verification fields")
		}
		return Pending{}, nil
	case StatusRejected:
		if verifiedFields {
			return nil, fmt.Errorf("rejected record carries verification fields")
		}
		return Rejected{}, nil
	case StatusVerified:
		if cols.Score == nil || cols.VerifierAddress == nil || cols.TokenID == nil || cols.TxHash == nil {
			return nil, fmt.Errorf("verified record is missing verification fields")
		}
		verifier, err := domain.ParseAddress(*cols.VerifierAddress)
		if err != nil {
			return nil, fmt.Errorf("verified record has bad verifier address: %w", err)
		}
		tokenID, ok := new(big.Int).SetString(*cols.TokenID, 10)
		if !ok {
			return nil, fmt.Errorf("verified record has bad token id %q", *cols.TokenID)
		}
		return Verified{
			Score:           *cols.Score,
			VerifierAddress: verifier,
			TokenID:         tokenID,
			TxHash:          *cols.TxHash,
		}, nil
	default:
		return nil, fmt.Errorf("unknown verification status %q", cols.Status)
	}
}
