package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"skillproof/internal/skill/models"
	"skillproof/internal/skill/service"
	dErrors "skillproof/pkg/domain-errors"
	"skillproof/pkg/platform/httputil"
	"skillproof/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, req service.CreateSkillRequest) (*models.Skill, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Skill, error)
	List(ctx context.Context, category models.Category) ([]*models.Skill, error)
}

// Handler exposes the skill catalog over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/skills", h.HandleCreate)
	r.Get("/skills", h.HandleList)
	r.Get("/skills/{id}", h.HandleGet)
}

// HandleCreate handles POST /skills.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateSkillRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	skill, err := h.service.Create(ctx, service.CreateSkillRequest{
		Name:        req.Name,
		Category:    req.ParsedCategory(),
		Description: req.Description,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "create skill failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromSkill(skill))
}

// HandleGet handles GET /skills/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	skillID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid skill id"))
		return
	}
	skill, err := h.service.Get(r.Context(), skillID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSkill(skill))
}

// HandleList handles GET /skills?category=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var category models.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		parsed, err := models.ParseCategory(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		category = parsed
	}
	skills, err := h.service.List(r.Context(), category)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSkills(skills))
}
