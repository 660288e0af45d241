package handlers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// storeCheckTimeout bounds a /health/stores request.
const storeCheckTimeout = 5 * time.Second

// StoreCheck probes one backing store.
type StoreCheck struct {
	Name  string
	Type  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the unauthenticated probes under /health.
type HealthHandler struct {
	associations AssociationLister
	stores       []StoreCheck
}

// NewHealthHandler creates a health handler. A nil associations lister
// means the acceptor is not running and readiness fails.
func NewHealthHandler(associations AssociationLister, stores []StoreCheck) *HealthHandler {
	return &HealthHandler{associations: associations, stores: stores}
}

// Liveness answers GET /health while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"service": "dicomul"}))
}

// Readiness answers GET /health/ready: 200 once the acceptor is wired.
func (h *HealthHandler) Readiness(w http.ResponseWriter, _ *http.Request) {
	if h.associations == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("DICOM acceptor not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"active_associations": len(h.associations.Active()),
		"stores":              len(h.stores),
	}))
}

// StoreHealth is the result of one store probe.
type StoreHealth struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// StoresResponse is the body of GET /health/stores.
type StoresResponse struct {
	Stores []StoreHealth `json:"stores"`
}

// Stores answers GET /health/stores. The probes run concurrently; any
// failure turns the response into a 503.
func (h *HealthHandler) Stores(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeCheckTimeout)
	defer cancel()

	results := make([]StoreHealth, len(h.stores))
	var g errgroup.Group
	for i, s := range h.stores {
		g.Go(func() error {
			results[i] = probe(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	body := StoresResponse{Stores: results}
	for _, s := range results {
		if s.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(body))
			return
		}
	}
	writeJSON(w, http.StatusOK, healthyResponse(body))
}

func probe(ctx context.Context, s StoreCheck) StoreHealth {
	start := time.Now()
	err := s.Check(ctx)
	res := StoreHealth{
		Name:    s.Name,
		Type:    s.Type,
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
	if err != nil {
		res.Status = "unhealthy"
		res.Error = err.Error()
	}
	return res
}
