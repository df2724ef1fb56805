package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/technosupport/ts-lpr/internal/data"
)

type BuildingStore interface {
	Create(ctx context.Context, b *data.Building) error
	GetByID(ctx context.Context, id int64) (*data.Building, error)
	List(ctx context.Context) ([]*data.Building, error)
	Delete(ctx context.Context, id int64) error
}

type GateStore interface {
	Create(ctx context.Context, g *data.Gate) error
	GetByID(ctx context.Context, id int64) (*data.Gate, error)
	List(ctx context.Context) ([]*data.Gate, error)
	Delete(ctx context.Context, id int64) error
}

// SiteHandler serves buildings and gates. Gates anchor cameras; buildings
// anchor gates.
type SiteHandler struct {
	Buildings BuildingStore
	Gates     GateStore
}

// POST /api/v1/buildings
func (h *SiteHandler) CreateBuilding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	b := &data.Building{Name: req.Name, Address: req.Address}
	if err := h.Buildings.Create(r.Context(), b); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

// GET /api/v1/buildings
func (h *SiteHandler) ListBuildings(w http.ResponseWriter, r *http.Request) {
	buildings, err := h.Buildings.List(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buildings)
}

// DELETE /api/v1/buildings/{id}
func (h *SiteHandler) DeleteBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	if err := h.Buildings.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/gates
func (h *SiteHandler) CreateGate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		BuildingID int64  `json:"building_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	g := &data.Gate{Name: req.Name, BuildingID: req.BuildingID}
	if err := h.Gates.Create(r.Context(), g); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

// GET /api/v1/gates
func (h *SiteHandler) ListGates(w http.ResponseWriter, r *http.Request) {
	gates, err := h.Gates.List(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, gates)
}

// DELETE /api/v1/gates/{id}
func (h *SiteHandler) DeleteGate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	if err := h.Gates.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
