package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"skillproof/internal/profile/service"
	"skillproof/pkg/domain"
	"skillproof/pkg/platform/httputil"
)

type Service interface {
	View(ctx context.Context, address domain.Address) (*service.View, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/profiles/{address}", h.HandleGet)
}

// HandleGet handles GET /profiles/{address}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	address, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.View(r.Context(), address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}
