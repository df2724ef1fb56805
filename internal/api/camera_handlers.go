package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/technosupport/ts-lpr/internal/data"
)

// CameraStore is the repository surface the camera handlers use.
type CameraStore interface {
	Create(ctx context.Context, c *data.Camera) error
	GetByID(ctx context.Context, id int64) (*data.Camera, error)
	List(ctx context.Context, page, pageSize int) (*data.Page[*data.Camera], error)
	Update(ctx context.Context, c *data.Camera) error
	Delete(ctx context.Context, id int64) error
	LPRLinks(ctx context.Context, cameraID int64) ([]int64, error)
	SetLPRLinks(ctx context.Context, cameraID int64, lprIDs []int64) error
	ListSettings(ctx context.Context, cameraID int64) ([]data.SettingEntry, error)
	UpsertSetting(ctx context.Context, cameraID int64, s data.SettingEntry) error
	DeleteSetting(ctx context.Context, cameraID int64, name string) error
}

type CameraHandler struct {
	Store CameraStore
	Hooks DeviceHooks
}

type cameraRequest struct {
	Name     string  `json:"name"`
	GateID   int64   `json:"gate_id"`
	IsActive *bool   `json:"is_active"`
	LPRIDs   []int64 `json:"lpr_ids"`
}

// POST /api/v1/cameras
func (h *CameraHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	c := &data.Camera{
		Name:     req.Name,
		GateID:   req.GateID,
		IsActive: true,
		LPRIDs:   req.LPRIDs,
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}

	if err := h.Store.Create(r.Context(), c); err != nil {
		respondStoreError(w, err)
		return
	}
	if len(req.LPRIDs) > 0 {
		if err := h.Store.SetLPRLinks(r.Context(), c.ID, req.LPRIDs); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	// Every linked device needs a fresh settings payload.
	h.Hooks.CamerasChanged(r.Context(), req.LPRIDs...)

	respondJSON(w, http.StatusCreated, c)
}

// GET /api/v1/cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := h.Store.List(r.Context(), page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/cameras/{id}
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	c, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if links, err := h.Store.LPRLinks(r.Context(), id); err == nil {
		c.LPRIDs = links
	}
	if settings, err := h.Store.ListSettings(r.Context(), id); err == nil {
		c.Settings = settings
	}
	respondJSON(w, http.StatusOK, c)
}

// PUT /api/v1/cameras/{id}
func (h *CameraHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	c, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	// Devices unlinked by this update still need a reconfigure to drop
	// the camera, so collect links from before and after.
	oldLinks, err := h.Store.LPRLinks(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if req.Name != "" {
		c.Name = req.Name
	}
	if req.GateID != 0 {
		c.GateID = req.GateID
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}

	if err := h.Store.Update(r.Context(), c); err != nil {
		respondStoreError(w, err)
		return
	}
	if req.LPRIDs != nil {
		if err := h.Store.SetLPRLinks(r.Context(), id, req.LPRIDs); err != nil {
			respondStoreError(w, err)
			return
		}
		c.LPRIDs = req.LPRIDs
	} else {
		c.LPRIDs = oldLinks
	}

	h.Hooks.CamerasChanged(r.Context(), unionIDs(oldLinks, c.LPRIDs)...)
	respondJSON(w, http.StatusOK, c)
}

// DELETE /api/v1/cameras/{id}
func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	links, _ := h.Store.LPRLinks(r.Context(), id)

	if err := h.Store.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Hooks.CamerasChanged(r.Context(), links...)
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/v1/cameras/{id}/settings
func (h *CameraHandler) UpsertSetting(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	var entry data.SettingEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if entry.Name == "" {
		respondError(w, http.StatusBadRequest, "Setting name is required")
		return
	}

	if err := h.Store.UpsertSetting(r.Context(), id, entry); err != nil {
		respondStoreError(w, err)
		return
	}

	links, _ := h.Store.LPRLinks(r.Context(), id)
	h.Hooks.SettingsChanged(r.Context(), links...)
	respondJSON(w, http.StatusOK, entry)
}

// DELETE /api/v1/cameras/{id}/settings?name=...
func (h *CameraHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "Setting name is required")
		return
	}

	if err := h.Store.DeleteSetting(r.Context(), id, name); err != nil {
		respondStoreError(w, err)
		return
	}

	links, _ := h.Store.LPRLinks(r.Context(), id)
	h.Hooks.SettingsChanged(r.Context(), links...)
	w.WriteHeader(http.StatusNoContent)
}

func unionIDs(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
