package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/factor"
	"github.com/ibimina/authx/internal/authx/ratelimit"
	"github.com/ibimina/authx/internal/authx/replay"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/internal/authx/store/drivers/sqlite"
	"github.com/ibimina/authx/pkg/cryptox"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/tokenx"
)

type testServer struct {
	srv    *httptest.Server
	codec  *tokenx.Codec
	store  *sqlite.Store
	mailer *testMailer
}

type testMailer struct {
	code string
}

func (m *testMailer) SendCode(ctx context.Context, email, code string) error {
	m.code = code
	return nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	t.Setenv("AUTHX_DATA_KEY", "http-e2e-test-key")
	cryptox.ResetDataKeyForTesting()
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	codec, err := tokenx.NewCodec([]byte("e2e-secret-e2e-secret-e2e-secret"), "authx-test")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mailer := &testMailer{}

	sessions := &service.SessionService{Codec: codec, Devices: st.TrustedDevices()}
	passkeys := factor.NewPasskey(nil, st.PasskeyCredentials(), codec)

	mfa := &service.MFAService{
		Store: st,
		Providers: map[domain.FactorKind]factor.Provider{
			domain.FactorTOTP:     factor.NewTOTP(),
			domain.FactorEmail:    factor.NewEmail(mailer, st.OTPCodes()),
			domain.FactorWhatsApp: factor.NewWhatsApp(nil, st.OTPCodes()),
			domain.FactorBackup:   factor.NewBackup(st.MFAStates()),
			domain.FactorPasskey:  passkeys,
		},
		Limiter:  ratelimit.New(st.RateLimits(), logger),
		Replay:   replay.NewMemoryGuard(0),
		Sessions: sessions,
		Audit:    &service.AuditRecorder{Events: st.AuditEvents(), Logger: logger},
		Codec:    codec,
		Issuer:   "authx-test",
		Logger:   logger,
	}

	router := NewRouter(codec, "test", st, logger)
	router.MFAService = mfa
	router.SessionService = sessions
	router.Passkeys = passkeys
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, codec: codec, store: st, mailer: mailer}
}

func (ts *testServer) loginToken(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := tokenx.Sign(ts.codec, tokenx.PurposeLogin, httpx.Identity{UserID: userID, Email: email}, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/mfa/enroll/start"},
		{http.MethodPost, "/v1/mfa/challenge/initiate"},
		{http.MethodGet, "/v1/mfa/channels"},
		{http.MethodGet, "/v1/mfa/devices"},
	} {
		res := ts.do(t, tc.method, tc.path, "", nil)
		require.Equal(t, http.StatusUnauthorized, res.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestEnrollVerifyDisableFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.loginToken(t, "alice", "alice@example.com")

	// Start enrollment.
	res := ts.do(t, http.MethodPost, "/v1/mfa/enroll/start", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	start := decodeBody(t, res)
	require.Contains(t, start["otpauthUri"], "otpauth://totp/")
	pendingToken, _ := start["pendingToken"].(string)
	require.NotEmpty(t, pendingToken)

	// Recover the secret the way a client would read it from the QR code.
	payload, err := tokenx.Verify[domain.PendingEnrollmentPayload](ts.codec, tokenx.PurposePendingEnrollment, pendingToken)
	require.NoError(t, err)
	secret, err := cryptox.DecryptSensitiveString(payload.SecretEnc)
	require.NoError(t, err)

	// Confirm with two distinct consecutive codes.
	now := time.Now()
	res = ts.do(t, http.MethodPost, "/v1/mfa/enroll/confirm", token, map[string]string{
		"pendingToken": pendingToken,
		"code1":        totpCodeAt(t, secret, now.Add(-30*time.Second)),
		"code2":        totpCodeAt(t, secret, now),
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	confirm := decodeBody(t, res)
	backupCodes, _ := confirm["backupCodes"].([]any)
	require.Len(t, backupCodes, 10)

	// Channels reflect the enrollment.
	res = ts.do(t, http.MethodGet, "/v1/mfa/channels", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	channels := decodeBody(t, res)
	require.Equal(t, "totp", channels["preferred"])

	// A wrong code fails with the generic error.
	res = ts.do(t, http.MethodPost, "/v1/mfa/challenge/verify", token, map[string]any{
		"factor": "totp",
		"token":  "000000",
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_or_expired", decodeBody(t, res)["error"])

	// A fresh code verifies and sets both cookies.
	res = ts.do(t, http.MethodPost, "/v1/mfa/challenge/verify", token, map[string]any{
		"factor":      "totp",
		"token":       totpCodeAt(t, secret, time.Now().Add(30*time.Second)),
		"trustDevice": true,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	verify := decodeBody(t, res)
	require.Equal(t, true, verify["ok"])
	require.Equal(t, "totp", verify["factor"])

	sessionCookie := findCookie(res, SessionCookie)
	require.NotNil(t, sessionCookie)
	require.True(t, sessionCookie.HttpOnly)
	trustedCookie := findCookie(res, TrustedCookie)
	require.NotNil(t, trustedCookie)

	// The trusted device now short-circuits the next challenge.
	res = ts.do(t, http.MethodPost, "/v1/mfa/challenge/initiate", token,
		map[string]string{"factor": "totp"}, trustedCookie)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, true, decodeBody(t, res)["trusted"])

	// The device shows up in the list.
	res = ts.do(t, http.MethodGet, "/v1/mfa/devices", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	devices, _ := decodeBody(t, res)["devices"].([]any)
	require.Len(t, devices, 1)

	// A wrong disable code reads as an authentication failure.
	res = ts.do(t, http.MethodDelete, "/v1/mfa", token, map[string]string{
		"token":  "000000",
		"method": "totp",
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_or_expired", decodeBody(t, res)["error"])

	// Disable with a backup code clears everything.
	res = ts.do(t, http.MethodDelete, "/v1/mfa", token, map[string]string{
		"token":  backupCodes[0].(string),
		"method": "backup",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, true, decodeBody(t, res)["success"])

	res = ts.do(t, http.MethodGet, "/v1/mfa/channels", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "", decodeBody(t, res)["preferred"])
}

func TestChallengeValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.loginToken(t, "bob", "bob@example.com")

	t.Run("unknown factor is a bad request", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/v1/mfa/challenge/initiate", token,
			map[string]string{"factor": "carrier-pigeon"})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "invalid_factor", decodeBody(t, res)["error"])
	})

	t.Run("challenges require enrollment", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/v1/mfa/challenge/initiate", token,
			map[string]string{"factor": "totp"})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "mfa_not_enabled", decodeBody(t, res)["error"])
	})

	t.Run("malformed JSON is a bad request", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/v1/mfa/challenge/initiate", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestUnavailableChannelIs503(t *testing.T) {
	ts := newTestServer(t)
	token := ts.loginToken(t, "alice", "alice@example.com")

	// Enroll first.
	res := ts.do(t, http.MethodPost, "/v1/mfa/enroll/start", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	pendingToken, _ := decodeBody(t, res)["pendingToken"].(string)

	payload, err := tokenx.Verify[domain.PendingEnrollmentPayload](ts.codec, tokenx.PurposePendingEnrollment, pendingToken)
	require.NoError(t, err)
	secret, err := cryptox.DecryptSensitiveString(payload.SecretEnc)
	require.NoError(t, err)

	now := time.Now()
	res = ts.do(t, http.MethodPost, "/v1/mfa/enroll/confirm", token, map[string]string{
		"pendingToken": pendingToken,
		"code1":        totpCodeAt(t, secret, now.Add(-30*time.Second)),
		"code2":        totpCodeAt(t, secret, now),
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = ts.do(t, http.MethodPost, "/v1/mfa/challenge/initiate", token,
		map[string]string{"factor": "whatsapp"})
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.Equal(t, "channel_unavailable", decodeBody(t, res)["error"])
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", decodeBody(t, res)["status"])

	res = ts.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	require.Equal(t, "ok", body["status"])
}
