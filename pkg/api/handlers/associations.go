package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/audit"
)

// maxRecentLimit caps the limit query parameter of the recent listing.
const maxRecentLimit = 1000

// AssociationLister lists running associations. *dicom.Adapter satisfies
// it.
type AssociationLister interface {
	Active() []dicom.AssociationInfo
}

// AuditReader reads finished associations. *audit.Store satisfies it.
type AuditReader interface {
	Get(ctx context.Context, id string) (*audit.Record, error)
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

// AssociationHandler serves the association views.
type AssociationHandler struct {
	active AssociationLister
	audit  AuditReader
}

// NewAssociationHandler creates the handler. Either collaborator may be
// nil; the matching routes then answer 503.
func NewAssociationHandler(active AssociationLister, audit AuditReader) *AssociationHandler {
	return &AssociationHandler{active: active, audit: audit}
}

// Active handles GET /api/v1/associations.
func (h *AssociationHandler) Active(w http.ResponseWriter, r *http.Request) {
	if h.active == nil {
		ServiceUnavailable(w, "DICOM acceptor not running")
		return
	}
	list := h.active.Active()
	if list == nil {
		list = []dicom.AssociationInfo{}
	}
	writeJSON(w, http.StatusOK, okResponse(list))
}

// Recent handles GET /api/v1/associations/recent?limit=N.
func (h *AssociationHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		ServiceUnavailable(w, "audit log disabled")
		return
	}

	limit := audit.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		logger.Error("Failed to list audit records", logger.Err(err))
		InternalServerError(w, "Failed to list associations")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, okResponse(records))
}

// Get handles GET /api/v1/associations/{id}.
func (h *AssociationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		ServiceUnavailable(w, "audit log disabled")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.audit.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			NotFound(w, "Association not found")
			return
		}
		logger.Error("Failed to get audit record", logger.Err(err))
		InternalServerError(w, "Failed to get association")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(rec))
}
