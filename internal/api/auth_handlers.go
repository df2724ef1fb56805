package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-lpr/internal/auth"
	"github.com/technosupport/ts-lpr/internal/data"
	"github.com/technosupport/ts-lpr/internal/tokens"
)

type AuthHandler struct {
	Users     UserStore
	Tokens    *tokens.Manager
	Blacklist auth.TokenBlacklist
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"` // Seconds
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	u, err := h.Users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ok, err := auth.CheckPassword(req.Password, u.PasswordHash)
	if err != nil || !ok {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	userID := strconv.FormatInt(u.ID, 10)
	access, err := h.Tokens.GenerateAccessToken(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := h.Tokens.GenerateRefreshToken(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int((15 * time.Minute).Seconds()),
	})
}

// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	claims, err := h.Tokens.ValidateToken(req.RefreshToken)
	if err != nil || claims.TokenType != tokens.Refresh {
		respondError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	blacklisted, err := h.Blacklist.IsBlacklisted(r.Context(), claims.ID)
	if err != nil || blacklisted {
		respondError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := h.Tokens.GenerateAccessToken(claims.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		AccessToken: access,
		ExpiresIn:   int((15 * time.Minute).Seconds()),
	})
}

// POST /api/v1/auth/logout revokes the presented access token for the
// remainder of its lifetime.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	claims, err := h.Tokens.ValidateToken(parts[1])
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl < 0 {
		ttl = time.Minute
	}
	if err := h.Blacklist.AddToBlacklist(r.Context(), claims.ID, ttl); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
