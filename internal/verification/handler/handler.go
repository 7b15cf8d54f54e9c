package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"skillproof/internal/verification/models"
	"skillproof/internal/verification/service"
	"skillproof/pkg/domain"
	dErrors "skillproof/pkg/domain-errors"
	"skillproof/pkg/platform/httputil"
	"skillproof/pkg/requestcontext"
)

type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Verification, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Verification, error)
	List(ctx context.Context, address domain.Address) ([]*models.Verification, error)
	VerifiedForUser(ctx context.Context, address domain.Address) ([]*models.Verification, error)
	Approve(ctx context.Context, id uuid.UUID, req service.ApproveRequest) (*models.Verification, error)
	Reject(ctx context.Context, id uuid.UUID) (*models.Verification, error)
}

// Handler exposes the verification workflow over HTTP.
type Handler struct {
	service        Service
	logger         *slog.Logger
	metadataPrefix string
}

func New(svc Service, logger *slog.Logger, metadataPrefix string) *Handler {
	if metadataPrefix == "" {
		metadataPrefix = service.DefaultMetadataPrefix
	}
	return &Handler{service: svc, logger: logger, metadataPrefix: metadataPrefix}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications", h.HandleSubmit)
	r.Get("/verifications", h.HandleList)
	r.Get("/verifications/{id}", h.HandleGet)
	r.Post("/verifications/{id}/verify", h.HandleApprove)
	r.Post("/verifications/{id}/reject", h.HandleReject)
	r.Get("/profiles/{address}/verifications", h.HandleVerifiedForUser)
}

// HandleSubmit handles POST /verifications.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	v, err := h.service.Submit(ctx, service.SubmitRequest{
		UserAddress: req.address,
		SkillID:     req.skillID,
		ProofData:   req.ProofData,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "submit verification failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromVerification(v, h.metadataPrefix))
}

// HandleList handles GET /verifications?user_address=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var address domain.Address
	if raw := strings.TrimSpace(r.URL.Query().Get("user_address")); raw != "" {
		parsed, err := domain.ParseAddress(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		address = parsed
	}
	items, err := h.service.List(r.Context(), address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerifications(items, h.metadataPrefix))
}

// HandleGet handles GET /verifications/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerification(v, h.metadataPrefix))
}

// HandleApprove handles POST /verifications/{id}/verify.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	v, err := h.service.Approve(ctx, id, service.ApproveRequest{
		Score:           req.Score,
		VerifierAddress: req.VerifierAddress,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "approve verification failed",
			"request_id", requestID,
			"verification_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerification(v, h.metadataPrefix))
}

// HandleReject handles POST /verifications/{id}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	v, err := h.service.Reject(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerification(v, h.metadataPrefix))
}

// HandleVerifiedForUser handles GET /profiles/{address}/verifications.
func (h *Handler) HandleVerifiedForUser(w http.ResponseWriter, r *http.Request) {
	address, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items, err := h.service.VerifiedForUser(r.Context(), address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerifications(items, h.metadataPrefix))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid verification id"))
		return uuid.Nil, false
	}
	return id, true
}
