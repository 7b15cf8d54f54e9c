package service

import (
	"context"

	"github.com/google/uuid"

	"skillproof/internal/chain"
	skillmodels "skillproof/internal/skill/models"
)

// Minter issues the on-chain credential for an approved verification.
type Minter interface {
	Mint(ctx context.Context, req chain.MintRequest) (chain.MintReceipt, error)
}

// SkillReader resolves the skill a verification refers to.
type SkillReader interface {
	Get(ctx context.Context, id uuid.UUID) (*skillmodels.Skill, error)
}
