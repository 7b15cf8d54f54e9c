package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies events for routing and retention downstream.
type Category string

const (
	// CategoryCompliance covers state changes of verification records and
	// issued credentials.
	CategoryCompliance Category = "compliance"
	// CategoryOperations covers failures an operator has to look at.
	CategoryOperations Category = "operations"
)

type Action string

const (
	ActionVerificationSubmitted Action = "verification_submitted"
	ActionVerificationApproved  Action = "verification_approved"
	ActionVerificationRejected  Action = "verification_rejected"
	ActionMintFailed            Action = "mint_failed"
	// ActionMintUnreconciled marks a confirmed mint whose record could not be
	// persisted. The event carries token id and tx hash for manual repair.
	ActionMintUnreconciled Action = "mint_unreconciled"
)

var actionCategories = map[Action]Category{
	ActionVerificationSubmitted: CategoryCompliance,
	ActionVerificationApproved:  CategoryCompliance,
	ActionVerificationRejected:  CategoryCompliance,
	ActionMintFailed:            CategoryOperations,
	ActionMintUnreconciled:      CategoryOperations,
}

// Category returns the category of the action. Unknown actions are operations.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is emitted by the verification workflow. Fields that do not apply to
// an action stay empty.
type Event struct {
	ID              uuid.UUID `json:"id"`
	Action          Action    `json:"action"`
	Category        Category  `json:"category"`
	Timestamp       time.Time `json:"timestamp"`
	VerificationID  string    `json:"verification_id,omitempty"`
	UserAddress     string    `json:"user_address,omitempty"`
	SkillID         string    `json:"skill_id,omitempty"`
	VerifierAddress string    `json:"verifier_address,omitempty"`
	Score           *int      `json:"score,omitempty"`
	TokenID         string    `json:"token_id,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
	ClientIP        string    `json:"client_ip,omitempty"`
}
