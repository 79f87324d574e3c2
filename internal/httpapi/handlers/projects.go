package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"relecloud/internal/domains"
	"relecloud/internal/httpkit"
	"relecloud/internal/models"
	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/pkg/middleware"
	"relecloud/internal/upload"
	"relecloud/internal/worker/queue"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

type createProjectResponse struct {
	Status    string `json:"status"`
	ProjectID int64  `json:"project_id"`
	FileURL   string `json:"file_url"`
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		middleware.HandleErrorStatus(w, r, h.log, err, http.StatusInternalServerError, "Failed to list projects")
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, projects)
}

// CreateProject uploads the multipart "file" and records the project with
// the URL the upload returned.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpkit.WriteStatus(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		httpkit.WriteStatus(w, http.StatusBadRequest, msgInvalidProject)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	form := projectForm{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Domain:      strings.TrimSpace(r.FormValue("domain")),
		Description: r.FormValue("description"),
	}
	if err := validate.Struct(form); err != nil {
		httpkit.WriteStatus(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpkit.WriteStatus(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	fileURL, err := h.uploader.Upload(ctx, upload.Request{
		Source: file,
		Size:   header.Size,
		Name:   header.Filename,
		IsZip:  isZipUpload(header),
	})
	if err != nil {
		h.queueOrphans(r, header.Filename, err)
		middleware.HandleErrorStatus(w, r, h.log, err, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	if fileURL == "" {
		log.Warn("upload produced no file URL", "name", header.Filename)
		httpkit.WriteStatus(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	p := &models.Project{
		Name:        form.Name,
		Description: form.Description,
		Domain:      &form.Domain,
		File:        fileURL,
	}
	if err := h.projects.Create(ctx, p); err != nil {
		middleware.HandleErrorStatus(w, r, h.log, err, http.StatusInternalServerError, "Failed to create project")
		return
	}

	h.assignDomain(r, form.Domain, p)
	log.WithProjectID(p.ID).Info("project created", "name", p.Name, "file", header.Filename)

	httpkit.WriteJSON(w, http.StatusOK, createProjectResponse{
		Status:    "success",
		ProjectID: p.ID,
		FileURL:   p.File,
	})
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		httpkit.WriteStatus(w, http.StatusNotFound, "Project not found")
		return
	}

	p, err := h.projects.Delete(r.Context(), id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			httpkit.WriteStatus(w, http.StatusNotFound, "Project not found")
			return
		}
		middleware.HandleErrorStatus(w, r, h.log, err, http.StatusInternalServerError, "Failed to delete project")
		return
	}

	if p.Domain != nil {
		h.releaseDomain(r, *p.Domain, p.ID)
	}
	httpkit.WriteStatus(w, http.StatusOK, "Project deleted")
}

// AssignDomain sets the project's domain from the "domain" form field. An
// empty value clears it.
func (h *Handler) AssignDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := projectID(r)
	if !ok {
		httpkit.WriteStatus(w, http.StatusNotFound, "Project not found")
		return
	}

	form := domainForm{Domain: strings.TrimSpace(r.FormValue("domain"))}
	if err := validate.Struct(form); err != nil {
		httpkit.WriteStatus(w, http.StatusBadRequest, msgInvalidProject)
		return
	}

	current, err := h.projects.Get(ctx, id)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}

	var domain *string
	if form.Domain != "" {
		domain = &form.Domain
	}
	updated, err := h.projects.UpdateDomain(ctx, id, domain)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}

	if current.Domain != nil && *current.Domain != form.Domain {
		h.releaseDomain(r, *current.Domain, id)
	}
	if domain != nil {
		h.assignDomain(r, *domain, updated)
	}
	httpkit.WriteStatus(w, http.StatusOK, "Domain assigned")
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperrors.IsNotFound(err):
		httpkit.WriteStatus(w, http.StatusNotFound, "Project not found")
	case apperrors.IsValidation(err):
		middleware.HandleError(w, r, h.log, err, msgInvalidProject)
	default:
		middleware.HandleErrorStatus(w, r, h.log, err, http.StatusInternalServerError, "Failed to assign domain")
	}
}

// assignDomain and releaseDomain keep the registry in step with the
// projects table. Registry failures are logged and never fail the request.
func (h *Handler) assignDomain(r *http.Request, domain string, p *models.Project) {
	if h.domains == nil || domain == "" {
		return
	}
	if err := h.domains.Assign(r.Context(), domain, domains.Entry{ProjectID: p.ID, FileURL: p.File}); err != nil {
		h.log.WithProjectID(p.ID).LogError(r.Context(), "domain registry assign failed", err, "domain", domain)
	}
}

func (h *Handler) releaseDomain(r *http.Request, domain string, id int64) {
	if h.domains == nil {
		return
	}
	if err := h.domains.Release(r.Context(), domain, id); err != nil {
		h.log.WithProjectID(id).LogError(r.Context(), "domain registry release failed", err, "domain", domain)
	}
}

// queueOrphans hands keys stored before a failed upload to the sweeper.
func (h *Handler) queueOrphans(r *http.Request, name string, err error) {
	keys := upload.OrphanedKeys(err)
	if len(keys) == 0 {
		return
	}
	log := h.log.FromContext(r.Context())
	if h.orphans == nil {
		log.Warn("upload left orphaned objects", "name", name, "keys", keys)
		return
	}
	if qerr := h.orphans.Push(r.Context(), queue.OrphanBatch{Name: name, Keys: keys}); qerr != nil {
		h.log.LogError(r.Context(), "orphan enqueue failed", qerr, "name", name, "keys", keys)
		return
	}
	log.Info("orphaned objects queued for sweep", "name", name, "count", len(keys))
}

func projectID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
