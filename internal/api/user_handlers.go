package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/technosupport/ts-lpr/internal/auth"
	"github.com/technosupport/ts-lpr/internal/data"
)

type UserStore interface {
	Create(ctx context.Context, u *data.User) error
	GetByID(ctx context.Context, id int64) (*data.User, error)
	GetByUsername(ctx context.Context, username string) (*data.User, error)
	List(ctx context.Context) ([]*data.User, error)
	SetProfileImage(ctx context.Context, id int64, key string) error
	Delete(ctx context.Context, id int64) error
}

// ProfileUploader stores an avatar and returns its object key.
type ProfileUploader interface {
	PutProfileImage(ctx context.Context, userID int64, filename, contentType string, body []byte) (string, error)
}

type UserHandler struct {
	Store UserStore
	Blobs ProfileUploader
}

// POST /api/v1/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		IsAdmin   bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "Username and a password of at least 8 characters are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	u := &data.User{
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		IsAdmin:      req.IsAdmin,
	}
	if err := h.Store.Create(r.Context(), u); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

// GET /api/v1/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.List(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// GET /api/v1/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	u, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

// DELETE /api/v1/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/users/{id}/profile-image
func (h *UserHandler) UploadProfileImage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	if h.Blobs == nil {
		respondError(w, http.StatusNotFound, "Blob storage is not configured")
		return
	}
	if _, err := h.Store.GetByID(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Image file is required")
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, 8<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Could not read image")
		return
	}

	key, err := h.Blobs.PutProfileImage(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), body)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Store.SetProfileImage(r.Context(), id, key); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"profile_image": key})
}
