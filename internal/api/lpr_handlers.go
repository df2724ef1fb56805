package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/technosupport/ts-lpr/internal/data"
	"github.com/technosupport/ts-lpr/internal/lpr"
)

// LPRStore is the repository surface the device handlers use.
type LPRStore interface {
	Create(ctx context.Context, l *data.LPR) error
	GetByID(ctx context.Context, id int64) (*data.LPR, error)
	List(ctx context.Context, page, pageSize int) (*data.Page[*data.LPR], error)
	Update(ctx context.Context, l *data.LPR) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	ListSettings(ctx context.Context, lprID int64) ([]data.SettingEntry, error)
	UpsertSetting(ctx context.Context, lprID int64, s data.SettingEntry) error
	DeleteSetting(ctx context.Context, lprID int64, name string) error
}

// DeviceHooks is notified after every committed device mutation so the
// connection pool can follow the database.
type DeviceHooks interface {
	LPRCreated(ctx context.Context, deviceID int64) error
	LPRUpdated(ctx context.Context, deviceID int64) error
	LPRDeleted(ctx context.Context, deviceID int64) error
	LPRToggled(ctx context.Context, deviceID int64, active bool) error
	CamerasChanged(ctx context.Context, deviceIDs ...int64) error
	SettingsChanged(ctx context.Context, deviceIDs ...int64) error
}

// CommandSender forwards an operator command to a live session.
type CommandSender interface {
	SendCommand(deviceID int64, payload any) error
}

// StatusSource reports device connectivity.
type StatusSource interface {
	Get(ctx context.Context, deviceID int64) string
}

type LPRHandler struct {
	Store    LPRStore
	Hooks    DeviceHooks
	Commands CommandSender
	Status   StatusSource
}

type lprRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	AuthToken   string `json:"auth_token"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	IsActive    *bool  `json:"is_active"`
}

func (req *lprRequest) validate() string {
	if req.Name == "" {
		return "Name is required"
	}
	if net.ParseIP(req.IP) == nil {
		return "Invalid IP"
	}
	if req.Port < 1 || req.Port > 65535 {
		return "Invalid port"
	}
	return ""
}

// POST /api/v1/lprs
func (h *LPRHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req lprRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	l := &data.LPR{
		Name:        req.Name,
		Description: req.Description,
		IP:          req.IP,
		Port:        req.Port,
		AuthToken:   req.AuthToken,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		IsActive:    true,
	}
	if req.IsActive != nil {
		l.IsActive = *req.IsActive
	}

	if err := h.Store.Create(r.Context(), l); err != nil {
		respondStoreError(w, err)
		return
	}

	// Post-commit hook; connection failures never roll the record back.
	if l.IsActive {
		h.Hooks.LPRCreated(r.Context(), l.ID)
	}

	respondJSON(w, http.StatusCreated, l)
}

// GET /api/v1/lprs
func (h *LPRHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := h.Store.List(r.Context(), page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/lprs/{id}
func (h *LPRHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	l, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if settings, err := h.Store.ListSettings(r.Context(), id); err == nil {
		l.Settings = settings
	}
	respondJSON(w, http.StatusOK, l)
}

// PUT /api/v1/lprs/{id}
func (h *LPRHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	var req lprRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	l, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	l.Name = req.Name
	l.Description = req.Description
	l.IP = req.IP
	l.Port = req.Port
	if req.AuthToken != "" {
		l.AuthToken = req.AuthToken
	}
	l.Latitude = req.Latitude
	l.Longitude = req.Longitude
	if req.IsActive != nil {
		l.IsActive = *req.IsActive
	}

	if err := h.Store.Update(r.Context(), l); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Hooks.LPRUpdated(r.Context(), l.ID)
	respondJSON(w, http.StatusOK, l)
}

// DELETE /api/v1/lprs/{id}
func (h *LPRHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	if err := h.Store.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Hooks.LPRDeleted(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/lprs/{id}/toggle
func (h *LPRHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.Store.SetActive(r.Context(), id, req.IsActive); err != nil {
		respondStoreError(w, err)
		return
	}

	h.Hooks.LPRToggled(r.Context(), id, req.IsActive)
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": req.IsActive})
}

// GET /api/v1/lprs/{id}/status
func (h *LPRHandler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	if _, err := h.Store.GetByID(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": h.Status.Get(r.Context(), id),
	})
}

// POST /api/v1/lprs/{id}/command
func (h *LPRHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.Commands.SendCommand(id, payload); err != nil {
		if errors.Is(err, lpr.ErrNotStreaming) {
			respondError(w, http.StatusConflict, "Device is not connected")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// GET /api/v1/lprs/{id}/settings
func (h *LPRHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	settings, err := h.Store.ListSettings(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// PUT /api/v1/lprs/{id}/settings
func (h *LPRHandler) UpsertSetting(w http.ResponseWriter, r *http.Request) {
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

	h.Hooks.SettingsChanged(r.Context(), id)
	respondJSON(w, http.StatusOK, entry)
}

// DELETE /api/v1/lprs/{id}/settings?name=...
func (h *LPRHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
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

	h.Hooks.SettingsChanged(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
