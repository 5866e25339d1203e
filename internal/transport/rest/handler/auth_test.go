package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"typerace/internal/model"
	"typerace/internal/service"
	"typerace/internal/transport/rest/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_Guest(t *testing.T) {
	authSvc := service.NewAuthService("test-secret", time.Hour)
	h := NewAuthHandler(authSvc)

	rec := httptest.NewRecorder()
	h.Guest(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/guest", strings.NewReader(`{"displayName":"  Ann  "}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp model.GuestResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Ann", resp.DisplayName)
	assert.True(t, strings.HasPrefix(resp.UserID, "u_"))

	identity, err := authSvc.ResolveIdentity(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.UserID, identity.UserID)
}

func TestAuthHandler_GuestRejectsBadInput(t *testing.T) {
	h := NewAuthHandler(service.NewAuthService("test-secret", time.Hour))

	for _, body := range []string{`{"displayName":"   "}`, `{oops`} {
		rec := httptest.NewRecorder()
		h.Guest(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/guest", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAuthHandler_MeThroughMiddleware(t *testing.T) {
	authSvc := service.NewAuthService("test-secret", time.Hour)
	h := NewAuthHandler(authSvc)
	protected := middleware.NewAuthMiddleware(authSvc).RequireUser(http.HandlerFunc(h.Me))

	guest, err := authSvc.IssueGuest("Bo")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+guest.Token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var identity model.Identity
	decodeBody(t, rec, &identity)
	assert.Equal(t, guest.UserID, identity.UserID)
	assert.Equal(t, "Bo", identity.DisplayName)

	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
