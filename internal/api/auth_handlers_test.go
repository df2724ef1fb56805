package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-lpr/internal/auth"
	"github.com/technosupport/ts-lpr/internal/data"
	"github.com/technosupport/ts-lpr/internal/tokens"
)

type fakeUserStore struct {
	users map[string]*data.User
}

func (s *fakeUserStore) Create(_ context.Context, u *data.User) error { return nil }
func (s *fakeUserStore) GetByID(_ context.Context, id int64) (*data.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, data.ErrRecordNotFound
}
func (s *fakeUserStore) GetByUsername(_ context.Context, username string) (*data.User, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return u, nil
}
func (s *fakeUserStore) List(context.Context) ([]*data.User, error)            { return nil, nil }
func (s *fakeUserStore) SetProfileImage(context.Context, int64, string) error  { return nil }
func (s *fakeUserStore) Delete(context.Context, int64) error                   { return nil }

type memBlacklist struct{ revoked map[string]bool }

func (b *memBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	return b.revoked[jti], nil
}
func (b *memBlacklist) AddToBlacklist(_ context.Context, jti string, _ time.Duration) error {
	b.revoked[jti] = true
	return nil
}

func newAuthHandler(t *testing.T) (*AuthHandler, *memBlacklist) {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	store := &fakeUserStore{users: map[string]*data.User{
		"operator": {ID: 7, Username: "operator", PasswordHash: hash},
	}}
	bl := &memBlacklist{revoked: make(map[string]bool)}
	return &AuthHandler{Users: store, Tokens: tokens.NewManager("test-key"), Blacklist: bl}, bl
}

func TestLoginSuccess(t *testing.T) {
	h, _ := newAuthHandler(t)

	body := `{"username":"operator","password":"correct horse"}`
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	claims, err := h.Tokens.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.UserID)
	assert.Equal(t, tokens.Access, claims.TokenType)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h, _ := newAuthHandler(t)

	for name, body := range map[string]string{
		"wrong password": `{"username":"operator","password":"wrong"}`,
		"unknown user":   `{"username":"ghost","password":"correct horse"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Login(rec, httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewBufferString(body)))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	h, _ := newAuthHandler(t)

	refresh, err := h.Tokens.GenerateRefreshToken("7")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"refresh_token": refresh})
	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest("POST", "/api/v1/auth/refresh", bytes.NewBuffer(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := h.Tokens.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.Access, claims.TokenType)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h, _ := newAuthHandler(t)

	access, err := h.Tokens.GenerateAccessToken("7")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"refresh_token": access})
	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest("POST", "/api/v1/auth/refresh", bytes.NewBuffer(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	h, bl := newAuthHandler(t)

	access, err := h.Tokens.GenerateAccessToken("7")
	require.NoError(t, err)
	claims, err := h.Tokens.ValidateToken(access)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bl.revoked[claims.ID])
}
