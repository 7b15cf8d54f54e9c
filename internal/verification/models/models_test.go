package models

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
)

var (
	holder   = domain.MustParseAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	verifier = domain.MustParseAddress("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
)

type VerificationSuite struct {
	suite.Suite
	now time.Time
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) SetupTest() {
	s.now = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
}

func (s *VerificationSuite) newPending() *Verification {
	v, err := NewVerification(uuid.New(), holder, uuid.New(), json.RawMessage(`{"github":"octocat"}`), s.now)
	s.Require().NoError(err)
	return v
}

func (s *VerificationSuite) TestNewVerification() {
	s.Run("starts pending", func() {
		v := s.newPending()
		s.Equal(StatusPending, v.Status())
		s.Equal(s.now, v.CreatedAt)
		s.Equal(s.now, v.UpdatedAt)
	})

	s.Run("proof must be a non-empty object", func() {
		for _, proof := range []string{``, `[]`, `"text"`, `{}`, `{bad`} {
			_, err := NewVerification(uuid.New(), holder, uuid.New(), json.RawMessage(proof), s.now)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "proof %q", proof)
		}
	})

	s.Run("proof is copied", func() {
		proof := json.RawMessage(`{"k":"v"}`)
		v, err := NewVerification(uuid.New(), holder, uuid.New(), proof, s.now)
		s.Require().NoError(err)
		proof[2] = 'x'
		s.JSONEq(`{"k":"v"}`, string(v.ProofData))
	})

	s.Run("requires user and skill", func() {
		_, err := NewVerification(uuid.New(), "", uuid.New(), json.RawMessage(`{"a":1}`), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = NewVerification(uuid.New(), holder, uuid.Nil, json.RawMessage(`{"a":1}`), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *VerificationSuite) TestTransitions() {
	later := s.now.Add(time.Hour)

	s.Run("pending to verified", func() {
		v := s.newPending()
		s.Require().NoError(v.CanApprove())
		v.ApplyVerified(Verified{Score: 80, VerifierAddress: verifier, TokenID: big.NewInt(7), TxHash: "0xabc"}, later)

		got, ok := v.Verified()
		s.Require().True(ok)
		s.Equal(80, got.Score)
		s.Equal(later, v.UpdatedAt)
	})

	s.Run("pending to rejected", func() {
		v := s.newPending()
		s.Require().NoError(v.CanReject())
		v.ApplyRejected(later)
		s.Equal(StatusRejected, v.Status())
		_, ok := v.Verified()
		s.False(ok)
	})

	s.Run("terminal states refuse both transitions", func() {
		verified := s.newPending()
		verified.ApplyVerified(Verified{Score: 1, VerifierAddress: verifier, TokenID: big.NewInt(1), TxHash: "0x1"}, later)
		rejected := s.newPending()
		rejected.ApplyRejected(later)

		for _, v := range []*Verification{verified, rejected} {
			s.True(dErrors.HasCode(v.CanApprove(), dErrors.CodeInvalidState))
			s.True(dErrors.HasCode(v.CanReject(), dErrors.CodeInvalidState))
		}
	})
}

func TestFlattenRestore(t *testing.T) {
	t.Run("verified round trip", func(t *testing.T) {
		in := Verified{Score: 92, VerifierAddress: verifier, TokenID: new(big.Int).Lsh(big.NewInt(1), 200), TxHash: "0xfeed"}
		out, err := Restore(Flatten(in))
		require.NoError(t, err)
		got := out.(Verified)
		assert.Equal(t, in.Score, got.Score)
		assert.Equal(t, in.VerifierAddress, got.VerifierAddress)
		assert.Equal(t, 0, in.TokenID.Cmp(got.TokenID))
		assert.Equal(t, in.TxHash, got.TxHash)
	})

	t.Run("pending and rejected carry no fields", func(t *testing.T) {
		cols := Flatten(Pending{})
		assert.Nil(t, cols.Score)
		assert.Nil(t, cols.TokenID)
		assert.Equal(t, StatusRejected, Flatten(Rejected{}).Status)
	})

	t.Run("invalid combinations are load errors", func(t *testing.T) {
		score := 50
		token := "12"
		bad := []StateColumns{
			{Status: StatusPending, Score: &score},
			{Status: StatusRejected, TokenID: &token},
			{Status: StatusVerified, Score: &score},
			{Status: "archived"},
		}
		for _, cols := range bad {
			_, err := Restore(cols)
			assert.Error(t, err, "status %s", cols.Status)
		}
	})
}

func TestMetadataURI(t *testing.T) {
	id := uuid.MustParse("6f1c1a0e-3a5b-4a43-9d3e-2f8e0f2c9b11")
	assert.Equal(t, "ipfs://skill-6f1c1a0e-3a5b-4a43-9d3e-2f8e0f2c9b11", MetadataURI("ipfs://skill-", id))
	assert.Equal(t, MetadataURI("ipfs://skill-", id), MetadataURI("ipfs://skill-", id))
}
