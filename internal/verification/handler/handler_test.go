package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillproof/internal/audit"
	"skillproof/internal/chain"
	"skillproof/internal/profile"
	profilestore "skillproof/internal/profile/store"
	skillmodels "skillproof/internal/skill/models"
	skillservice "skillproof/internal/skill/service"
	skillstore "skillproof/internal/skill/store"
	"skillproof/internal/verification/service"
	"skillproof/internal/verification/store"
	"skillproof/pkg/testutil"
)

const (
	userAddr     = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	userChecksum = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	verifierAddr = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

// stubMinter hands out increasing token ids, or fails with err when set.
type stubMinter struct {
	next  int64
	err   error
	calls int
}

func (m *stubMinter) Mint(context.Context, chain.MintRequest) (chain.MintReceipt, error) {
	m.calls++
	if m.err != nil {
		return chain.MintReceipt{}, m.err
	}
	m.next++
	return chain.MintReceipt{
		TokenID: big.NewInt(m.next),
		TxHash:  common.BigToHash(big.NewInt(0xbeef + m.next)),
	}, nil
}

type fixture struct {
	router http.Handler
	minter *stubMinter
	skill  *skillmodels.Skill
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	skills := skillservice.New(skillstore.NewInMemory(), skillservice.WithLogger(logger))
	skill, err := skills.Create(context.Background(), skillservice.CreateSkillRequest{
		Name:     "Rust Programming",
		Category: skillmodels.CategoryProgramming,
	})
	require.NoError(t, err)

	verifications := store.NewInMemory()
	tx := service.NewShardedTx(service.TxStores{
		Verifications: verifications,
		Profiles:      profilestore.NewInMemory(),
		Audit:         audit.NewInMemoryStore(),
	})
	minter := &stubMinter{}
	svc := service.New(verifications, tx, minter, skills, profile.NewAggregator(profile.WithLogger(logger)),
		service.WithLogger(logger))

	r := chi.NewRouter()
	New(svc, logger, "").Register(r)
	return &fixture{router: r, minter: minter, skill: skill}
}

func (f *fixture) submit(t *testing.T) VerificationResponse {
	t.Helper()
	rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications", map[string]any{
		"user_address": userAddr,
		"skill_id":     f.skill.ID.String(),
		"proof_data":   map[string]string{"repository": "https://github.com/example/crate"},
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return *testutil.UnmarshalResponse[VerificationResponse](t, rr)
}

func TestSubmitAndApprove(t *testing.T) {
	f := newFixture(t)

	created := f.submit(t)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, userChecksum, created.UserAddress)
	assert.Empty(t, created.TxHash)
	assert.Empty(t, created.MetadataURI)

	rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications/"+created.ID+"/verify", map[string]any{
		"score":            90,
		"verifier_address": verifierAddr,
	}))
	testutil.AssertStatusOK(t, rr)
	approved := testutil.UnmarshalResponse[VerificationResponse](t, rr)
	assert.Equal(t, "verified", approved.Status)
	require.NotNil(t, approved.Score)
	assert.Equal(t, 90, *approved.Score)
	assert.Equal(t, verifierAddr, approved.VerifierAddress)
	assert.Equal(t, "1", approved.TokenID)
	assert.Len(t, approved.TxHash, 66)
	assert.Equal(t, "ipfs://skill-"+created.ID, approved.MetadataURI)

	rr = testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications/"+created.ID+"/verify", map[string]any{
		"verifier_address": verifierAddr,
	}))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_state")
	assert.Equal(t, 1, f.minter.calls)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/profiles/"+userAddr+"/verifications"))
	testutil.AssertStatusOK(t, rr)
	verified := testutil.UnmarshalResponse[VerificationListResponse](t, rr)
	require.Equal(t, 1, verified.Total)
	assert.Equal(t, created.ID, verified.Verifications[0].ID)
}

func TestApproveErrors(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications/"+uuid.NewString()+"/verify", map[string]any{
			"verifier_address": verifierAddr,
		}))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("malformed id", func(t *testing.T) {
		f := newFixture(t)
		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications/42/verify", map[string]any{}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("missing verifier", func(t *testing.T) {
		f := newFixture(t)
		created := f.submit(t)
		rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/verifications/"+created.ID+"/verify", `{"score":80}`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation")
		assert.Zero(t, f.minter.calls)
	})

	t.Run("mint failure keeps the record pending", func(t *testing.T) {
		f := newFixture(t)
		created := f.submit(t)
		hash := common.HexToHash("0x01")
		f.minter.err = &chain.MintError{Stage: chain.StageConfirm, TxHash: hash, Err: context.DeadlineExceeded}

		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications/"+created.ID+"/verify", map[string]any{
			"verifier_address": verifierAddr,
		}))
		testutil.AssertStatus(t, rr, http.StatusBadGateway)
		body := testutil.UnmarshalErrorResponse(t, rr)
		assert.Equal(t, "mint_failed", body["error"])
		assert.Equal(t, hash.Hex(), body["tx_hash"])

		rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/verifications/"+created.ID))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "pending")
	})

	t.Run("non-domain mint error is not leaked", func(t *testing.T) {
		f := newFixture(t)
		created := f.submit(t)
		f.minter.err = errors.New("dial tcp 10.0.0.1:8545: connection refused")

		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/verifications/"+created.ID+"/verify", map[string]any{
			"verifier_address": verifierAddr,
		}))
		testutil.AssertStatus(t, rr, http.StatusBadGateway)
		body := testutil.UnmarshalErrorResponse(t, rr)
		assert.NotContains(t, body["error_description"], "10.0.0.1")
	})
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)

	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodPost, "/verifications/"+created.ID+"/reject"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "rejected")

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodPost, "/verifications/"+created.ID+"/reject"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_state")
	assert.Zero(t, f.minter.calls)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	skillID := f.skill.ID.String()

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty body", "", http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"user_address":"` + userAddr + `","skill_id":"` + skillID + `","proof_data":{"a":1},"extra":true}`, http.StatusBadRequest, "bad_request"},
		{"bad address", `{"user_address":"0x123","skill_id":"` + skillID + `","proof_data":{"a":1}}`, http.StatusBadRequest, "validation"},
		{"bad skill id", `{"user_address":"` + userAddr + `","skill_id":"rust","proof_data":{"a":1}}`, http.StatusBadRequest, "validation"},
		{"unknown skill", `{"user_address":"` + userAddr + `","skill_id":"` + uuid.NewString() + `","proof_data":{"a":1}}`, http.StatusBadRequest, "validation"},
		{"missing proof", `{"user_address":"` + userAddr + `","skill_id":"` + skillID + `"}`, http.StatusBadRequest, "validation"},
		{"empty proof", `{"user_address":"` + userAddr + `","skill_id":"` + skillID + `","proof_data":{}}`, http.StatusBadRequest, "validation"},
		{"proof not an object", `{"user_address":"` + userAddr + `","skill_id":"` + skillID + `","proof_data":[1]}`, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/verifications", tt.body))
			testutil.AssertStatusAndError(t, rr, tt.status, tt.code)
		})
	}
}

func TestListVerifications(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t)
	second := f.submit(t)

	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/verifications?user_address="+strings.ToUpper(userAddr[2:])))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation")

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/verifications?user_address="+strings.ToLower(userChecksum)))
	testutil.AssertStatusOK(t, rr)
	list := testutil.UnmarshalResponse[VerificationListResponse](t, rr)
	require.Equal(t, 2, list.Total)
	ids := []string{list.Verifications[0].ID, list.Verifications[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/verifications"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "total", float64(2))
}
