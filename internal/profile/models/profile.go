package models

import (
	"time"

	"skillproof/pkg/domain"
)

// UserProfile aggregates a wallet's verification history. It is created the
// first time one of the address's verifications is approved and is mutated
// only by the score aggregator.
type UserProfile struct {
	Address            domain.Address
	Username           string
	Bio                string
	TotalVerifications int
	AverageScore       float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewUserProfile(address domain.Address, now time.Time) *UserProfile {
	return &UserProfile{
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
