package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-lpr/internal/data"
)

type TrafficStore interface {
	List(ctx context.Context, page, pageSize int) (*data.Page[*data.TrafficListItem], error)
	ListByPlate(ctx context.Context, plate string, limit int) ([]*data.Traffic, error)
}

// Presigner turns a stored object key into a temporary download URL.
type Presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type TrafficHandler struct {
	Store TrafficStore
	Blobs Presigner
}

// GET /api/v1/traffic
func (h *TrafficHandler) List(w http.ResponseWriter, r *http.Request) {
	if plate := r.URL.Query().Get("plate"); plate != "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 500 {
			limit = 100
		}
		rows, err := h.Store.ListByPlate(r.Context(), plate, limit)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rows)
		return
	}

	page, pageSize := pageParams(r)
	result, err := h.Store.List(r.Context(), page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/traffic/image-url?key=...
func (h *TrafficHandler) ImageURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "Key is required")
		return
	}
	if h.Blobs == nil {
		respondError(w, http.StatusNotFound, "Blob storage is not configured")
		return
	}

	url, err := h.Blobs.PresignedURL(r.Context(), key, 15*time.Minute)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
