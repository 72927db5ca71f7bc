package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/tokenx"
)

func TestAuthnMiddleware(t *testing.T) {
	codec, err := tokenx.NewCodec([]byte("test-secret-at-least-32-bytes-long"), "authx-test")
	require.NoError(t, err)

	var gotIdentity httpx.Identity
	var gotOK bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, gotOK = httpx.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	secured := httpx.AuthnMiddleware(codec)(handler)

	t.Run("valid token injects identity", func(t *testing.T) {
		token, err := tokenx.Sign(codec, tokenx.PurposeLogin,
			httpx.Identity{UserID: "user-1", Email: "alice@example.com"}, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		secured.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, gotOK)
		require.Equal(t, "user-1", gotIdentity.UserID)
		require.Equal(t, "alice@example.com", gotIdentity.Email)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		secured.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("token with wrong purpose rejected", func(t *testing.T) {
		token, err := tokenx.Sign(codec, tokenx.PurposeSession,
			httpx.Identity{UserID: "user-1"}, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		secured.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()

		secured.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
