package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"relecloud/internal/httpkit"
	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/pkg/middleware"
)

type resolveDomainResponse struct {
	Status    string `json:"status"`
	ProjectID int64  `json:"project_id"`
	FileURL   string `json:"file_url"`
}

// ResolveDomain looks a custom domain up in the registry.
func (h *Handler) ResolveDomain(w http.ResponseWriter, r *http.Request) {
	if h.domains == nil {
		httpkit.WriteStatus(w, http.StatusServiceUnavailable, "Domain registry disabled")
		return
	}

	entry, err := h.domains.Resolve(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		if apperrors.IsNotFound(err) {
			httpkit.WriteStatus(w, http.StatusNotFound, "Domain not found")
			return
		}
		middleware.HandleErrorStatus(w, r, h.log, err, http.StatusServiceUnavailable, "Domain registry unavailable")
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, resolveDomainResponse{
		Status:    "success",
		ProjectID: entry.ProjectID,
		FileURL:   entry.FileURL,
	})
}
