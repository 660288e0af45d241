package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/audit"
)

type fakeAudit struct {
	records   []audit.Record
	lastLimit int
	err       error
}

func (f *fakeAudit) Get(_ context.Context, id string) (*audit.Record, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i], nil
		}
	}
	return nil, audit.ErrNotFound
}

func (f *fakeAudit) Recent(_ context.Context, limit int) ([]audit.Record, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func routed(h *AssociationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/associations", h.Active)
	r.Get("/api/v1/associations/recent", h.Recent)
	r.Get("/api/v1/associations/{id}", h.Get)
	return r
}

func TestAssociations_Active(t *testing.T) {
	lister := &fakeLister{active: []dicom.AssociationInfo{{ID: "a1", CallingAETitle: "MODALITY"}}}
	w := httptest.NewRecorder()
	routed(NewAssociationHandler(lister, nil)).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decodeResponse(t, w)
	list := resp.Data.([]interface{})
	if len(list) != 1 {
		t.Fatalf("Expected 1 association, got %d", len(list))
	}
	if list[0].(map[string]interface{})["calling_ae"] != "MODALITY" {
		t.Errorf("Unexpected association %v", list[0])
	}
}

func TestAssociations_ActiveWithoutAdapter(t *testing.T) {
	w := httptest.NewRecorder()
	routed(NewAssociationHandler(nil, nil)).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
		t.Errorf("Expected problem content type, got %q", ct)
	}
}

func TestAssociations_Recent(t *testing.T) {
	store := &fakeAudit{records: []audit.Record{{ID: "r1", Outcome: "released"}}}
	h := routed(NewAssociationHandler(nil, store))

	t.Run("DefaultLimit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations/recent", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
		}
		if store.lastLimit != audit.DefaultRecentLimit {
			t.Errorf("Expected default limit, got %d", store.lastLimit)
		}
	})

	t.Run("CappedLimit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations/recent?limit=50000", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
		}
		if store.lastLimit != maxRecentLimit {
			t.Errorf("Expected limit %d, got %d", maxRecentLimit, store.lastLimit)
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations/recent?limit=-3", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestAssociations_RecentStoreError(t *testing.T) {
	store := &fakeAudit{err: errors.New("database is locked")}
	w := httptest.NewRecorder()
	routed(NewAssociationHandler(nil, store)).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations/recent", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestAssociations_Get(t *testing.T) {
	store := &fakeAudit{records: []audit.Record{{ID: "r1", Outcome: "aborted"}}}
	h := routed(NewAssociationHandler(nil, store))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations/r1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Data.(map[string]interface{})["outcome"] != "aborted" {
		t.Errorf("Unexpected record %v", resp.Data)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/associations/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
