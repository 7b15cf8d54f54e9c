package handler

import (
	"encoding/json"
	"time"

	"skillproof/internal/verification/models"
)

type VerificationResponse struct {
	ID              string          `json:"id"`
	UserAddress     string          `json:"user_address"`
	SkillID         string          `json:"skill_id"`
	ProofData       json.RawMessage `json:"proof_data"`
	Status          string          `json:"status"`
	Score           *int            `json:"score,omitempty"`
	VerifierAddress string          `json:"verifier_address,omitempty"`
	TokenID         string          `json:"token_id,omitempty"`
	TxHash          string          `json:"tx_hash,omitempty"`
	MetadataURI     string          `json:"metadata_uri,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type VerificationListResponse struct {
	Verifications []VerificationResponse `json:"verifications"`
	Total         int                    `json:"total"`
}

// FromVerification renders v. The chain fields and the metadata URI are only
// set once the record is verified.
func FromVerification(v *models.Verification, metadataPrefix string) VerificationResponse {
	resp := VerificationResponse{
		ID:          v.ID.String(),
		UserAddress: v.UserAddress.String(),
		SkillID:     v.SkillID.String(),
		ProofData:   v.ProofData,
		Status:      string(v.Status()),
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
	if outcome, ok := v.Verified(); ok {
		score := outcome.Score
		resp.Score = &score
		resp.VerifierAddress = outcome.VerifierAddress.String()
		resp.TxHash = outcome.TxHash
		resp.MetadataURI = models.MetadataURI(metadataPrefix, v.ID)
		if outcome.TokenID != nil {
			resp.TokenID = outcome.TokenID.String()
		}
	}
	return resp
}

func FromVerifications(items []*models.Verification, metadataPrefix string) VerificationListResponse {
	out := VerificationListResponse{Verifications: make([]VerificationResponse, 0, len(items))}
	for _, v := range items {
		out.Verifications = append(out.Verifications, FromVerification(v, metadataPrefix))
	}
	out.Total = len(out.Verifications)
	return out
}
