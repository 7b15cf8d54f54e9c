package handler

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
)

// SubmitRequest is the body of POST /verifications.
type SubmitRequest struct {
	UserAddress string          `json:"user_address"`
	SkillID     string          `json:"skill_id"`
	ProofData   json.RawMessage `json:"proof_data"`

	address domain.Address
	skillID uuid.UUID
}

// Validate implements httputil.Validatable.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.UserAddress) == "" {
		return dErrors.New(dErrors.CodeValidation, "user_address is required")
	}
	address, err := domain.ParseAddress(r.UserAddress)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.SkillID) == "" {
		return dErrors.New(dErrors.CodeValidation, "skill_id is required")
	}
	skillID, err := uuid.Parse(strings.TrimSpace(r.SkillID))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "skill_id must be a UUID")
	}
	if len(r.ProofData) == 0 {
		return dErrors.New(dErrors.CodeValidation, "proof_data is required")
	}
	r.address = address
	r.skillID = skillID
	return nil
}

// ApproveRequest is the body of POST /verifications/{id}/verify. The verifier
// address is checked by the service after the state checks.
type ApproveRequest struct {
	Score           *int   `json:"score"`
	VerifierAddress string `json:"verifier_address"`
}

// Validate implements httputil.Validatable.
func (r *ApproveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.VerifierAddress = strings.TrimSpace(r.VerifierAddress)
	return nil
}
