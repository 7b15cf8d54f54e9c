package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
)

// Verification is a user's claim to a skill and its review outcome.
//
// Invariants:
//   - UserAddress is a checksummed address
//   - ProofData is a non-empty JSON object and never changes after creation
//   - State only moves Pending -> Verified or Pending -> Rejected
type Verification struct {
	ID          uuid.UUID
	UserAddress domain.Address
	SkillID     uuid.UUID
	ProofData   json.RawMessage
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewVerification(id uuid.UUID, user domain.Address, skillID uuid.UUID, proof json.RawMessage, now time.Time) (*Verification, error) {
	if user.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_address is required")
	}
	if skillID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeValidation, "skill_id is required")
	}
	if err := validateProof(proof); err != nil {
		return nil, err
	}
	return &Verification{
		ID:          id,
		UserAddress: user,
		SkillID:     skillID,
		ProofData:   append(json.RawMessage(nil), proof...),
		State:       Pending{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func validateProof(proof json.RawMessage) error {
	trimmed := bytes.TrimSpace(proof)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return dErrors.New(dErrors.CodeValidation, "proof_data must be a JSON object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return dErrors.New(dErrors.CodeValidation, "proof_data must be a JSON object")
	}
	if len(obj) == 0 {
		return dErrors.New(dErrors.CodeValidation, "proof_data must not be empty")
	}
	return nil
}

func (v *Verification) Status() Status {
	return v.State.Status()
}

// Verified returns the verified variant when the record is verified.
func (v *Verification) Verified() (Verified, bool) {
	s, ok := v.State.(Verified)
	return s, ok
}

// CanApprove reports whether the record may move to Verified.
func (v *Verification) CanApprove() error {
	if _, ok := v.State.(Pending); !ok {
		return dErrors.New(dErrors.CodeInvalidState, "verification is not pending (status: "+string(v.Status())+")")
	}
	return nil
}

// CanReject reports whether the record may move to Rejected.
func (v *Verification) CanReject() error {
	if _, ok := v.State.(Pending); !ok {
		return dErrors.New(dErrors.CodeInvalidState, "verification is not pending (status: "+string(v.Status())+")")
	}
	return nil
}

// ApplyVerified moves the record to Verified. Call CanApprove first.
func (v *Verification) ApplyVerified(outcome Verified, now time.Time) {
	v.State = outcome
	v.UpdatedAt = now
}

// ApplyRejected moves the record to Rejected. Call CanReject first.
func (v *Verification) ApplyRejected(now time.Time) {
	v.State = Rejected{}
	v.UpdatedAt = now
}

// MetadataURI is the token metadata location for a verification. It depends
// only on the id.
func MetadataURI(prefix string, id uuid.UUID) string {
	return prefix + id.String()
}
