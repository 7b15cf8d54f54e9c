package handler

import (
	"time"

	"skillproof/internal/profile/service"
)

type CredentialResponse struct {
	VerificationID  string    `json:"verification_id"`
	SkillID         string    `json:"skill_id"`
	Score           int       `json:"score"`
	VerifierAddress string    `json:"verifier_address"`
	TokenID         string    `json:"token_id"`
	TxHash          string    `json:"tx_hash"`
	VerifiedAt      time.Time `json:"verified_at"`
}

type ProfileResponse struct {
	Address            string               `json:"address"`
	Username           string               `json:"username"`
	Bio                string               `json:"bio"`
	TotalVerifications int                  `json:"total_verifications"`
	AverageScore       float64              `json:"average_score"`
	Credentials        []CredentialResponse `json:"credentials"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func FromView(v *service.View) ProfileResponse {
	p := v.Profile
	resp := ProfileResponse{
		Address:            p.Address.String(),
		Username:           p.Username,
		Bio:                p.Bio,
		TotalVerifications: p.TotalVerifications,
		AverageScore:       p.AverageScore,
		Credentials:        make([]CredentialResponse, 0, len(v.Verified)),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	for _, item := range v.Verified {
		outcome, ok := item.Verified()
		if !ok {
			continue
		}
		cred := CredentialResponse{
			VerificationID:  item.ID.String(),
			SkillID:         item.SkillID.String(),
			Score:           outcome.Score,
			VerifierAddress: outcome.VerifierAddress.String(),
			TxHash:          outcome.TxHash,
			VerifiedAt:      item.UpdatedAt,
		}
		if outcome.TokenID != nil {
			cred.TokenID = outcome.TokenID.String()
		}
		resp.Credentials = append(resp.Credentials, cred)
	}
	return resp
}
