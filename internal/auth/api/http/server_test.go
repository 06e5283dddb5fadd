package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/driftlock/driftlock/internal/auth/passkey"
	"github.com/driftlock/driftlock/internal/auth/service"
	"github.com/driftlock/driftlock/internal/auth/storage"
	"github.com/driftlock/driftlock/internal/auth/token"
	"github.com/driftlock/driftlock/internal/auth/totp"
	"github.com/driftlock/driftlock/internal/auth/user"
)

type fakeService struct {
	register   service.RegisterResult
	options    json.RawMessage
	credential service.CredentialSummary
	login      service.LoginResult
	setup      totp.Setup
	backup     []string
	profile    service.Profile
	claims     map[string]token.Claims
	err        error
}

func (f *fakeService) Register(context.Context, service.RegisterInput) (service.RegisterResult, error) {
	return f.register, f.err
}

func (f *fakeService) BeginPasskeyRegistration(context.Context, string) (json.RawMessage, error) {
	return f.options, f.err
}

func (f *fakeService) FinishPasskeyRegistration(context.Context, string, []byte) (service.CredentialSummary, error) {
	return f.credential, f.err
}

func (f *fakeService) BeginPasskeyLogin(context.Context, string) (json.RawMessage, error) {
	return f.options, f.err
}

func (f *fakeService) FinishPasskeyLogin(context.Context, string, []byte) (service.LoginResult, error) {
	return f.login, f.err
}

func (f *fakeService) SetupTwoFactor(context.Context, string) (totp.Setup, error) {
	return f.setup, f.err
}

func (f *fakeService) ActivateTwoFactor(context.Context, string, string) ([]string, error) {
	return f.backup, f.err
}

func (f *fakeService) ValidateTwoFactor(context.Context, string, string) (service.LoginResult, error) {
	return f.login, f.err
}

func (f *fakeService) DisableTwoFactor(context.Context, string, string) error {
	return f.err
}

func (f *fakeService) CurrentUser(context.Context, string) (service.Profile, error) {
	return f.profile, f.err
}

func (f *fakeService) ValidateToken(tokenString string) (token.Claims, error) {
	claims, ok := f.claims[tokenString]
	if !ok {
		return token.Claims{}, token.ErrInvalid
	}
	return claims, nil
}

func newTestServer(fake *fakeService) *httptest.Server {
	if fake.claims == nil {
		fake.claims = map[string]token.Claims{
			"full-token":    {UserID: "user-1"},
			"pending-token": {UserID: "user-1", SecondFactorPending: true},
		}
	}
	mux := http.NewServeMux()
	NewServer(fake, nil).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func doJSON(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	fake := &fakeService{register: service.RegisterResult{
		User:  user.User{ID: "user-1", Email: "a@x.com", Username: "alice"},
		Token: "full-token",
	}}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", registerRequest{Email: "a@x.com", Username: "alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out registerResponse
	decodeResponse(t, resp, &out)
	if out.Token != "full-token" || out.User.ID != "user-1" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestRegisterConflict(t *testing.T) {
	fake := &fakeService{err: storage.ErrEmailTaken}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", registerRequest{Email: "a@x.com", Username: "alice"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var out errorResponse
	decodeResponse(t, resp, &out)
	if out.Error.Code != "USER_EMAIL_TAKEN" {
		t.Fatalf("unexpected error code %q", out.Error.Code)
	}
}

func TestRegisterRejectsBadJSON(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRegisterMethodNotAllowed(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/auth/register")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	ts := newTestServer(&fakeService{options: json.RawMessage(`{}`)})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/passkey/register-options", "", nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareRejectsPendingTokenOutsideValidate(t *testing.T) {
	fake := &fakeService{setup: totp.Setup{Secret: "S", ProvisioningURI: "otpauth://totp/x"}}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/2fa/setup", "pending-token", nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPendingTokenCanValidateSecondFactor(t *testing.T) {
	fake := &fakeService{login: service.LoginResult{Token: "full-token"}}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/2fa/validate", "pending-token", twoFactorCodeRequest{Code: "123456"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out twoFactorValidateResponse
	decodeResponse(t, resp, &out)
	if out.Token != "full-token" {
		t.Fatalf("unexpected token %q", out.Token)
	}
}

func TestLoginVerifyReportsSecondFactor(t *testing.T) {
	fake := &fakeService{login: service.LoginResult{
		User:        user.User{ID: "user-1", Email: "a@x.com", Username: "alice", TwoFactorEnabled: true},
		Token:       "pending-token",
		Requires2FA: true,
	}}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/passkey/login-verify", "", loginVerifyRequest{
		Email:    "a@x.com",
		Response: json.RawMessage(`{}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out loginVerifyResponse
	decodeResponse(t, resp, &out)
	if !out.Requires2FA || out.Token != "pending-token" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestLoginVerifyFailureBodyIsGeneric(t *testing.T) {
	fake := &fakeService{err: passkey.ErrVerificationFailed}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/passkey/login-verify", "", loginVerifyRequest{
		Email:    "a@x.com",
		Response: json.RawMessage(`{}`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var out errorResponse
	decodeResponse(t, resp, &out)
	if out.Error.Code != "PASSKEY_VERIFICATION_FAILED" {
		t.Fatalf("expected the generic failure code, got %q", out.Error.Code)
	}
	if out.Error.Message != "passkey verification failed" {
		t.Fatalf("expected the generic failure message, got %q", out.Error.Message)
	}
}

func TestRegisterOptionsPassThrough(t *testing.T) {
	fake := &fakeService{options: json.RawMessage(`{"publicKey":{"challenge":"abc"}}`)}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/passkey/register-options", "full-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	decodeResponse(t, resp, &out)
	if _, ok := out["publicKey"]; !ok {
		t.Fatalf("expected options pass-through, got %v", out)
	}
}

func TestRegisterVerifyRejectsEmptyBody(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/passkey/register-verify", "full-token", nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMeEndpoint(t *testing.T) {
	fake := &fakeService{profile: service.Profile{
		User: user.User{ID: "user-1", Email: "a@x.com", Username: "alice", TwoFactorEnabled: true},
		Credentials: []service.CredentialSummary{{
			ID:         "cred-1",
			DeviceType: "multiDevice",
			BackedUp:   true,
			CreatedAt:  time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		}},
		BackupCodesRemaining: 9,
	}}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/auth/me", "full-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out meResponse
	decodeResponse(t, resp, &out)
	if out.PasskeysCount != 1 || out.Credentials[0].ID != "cred-1" {
		t.Fatalf("unexpected profile %+v", out)
	}
	if out.BackupCodesRemaining != 9 {
		t.Fatalf("expected 9 backup codes, got %d", out.BackupCodesRemaining)
	}
}

// Exhausted backup codes must serialize as an explicit zero, not vanish from
// the body the way a disabled second factor's count would.
func TestMeReportsExhaustedBackupCodes(t *testing.T) {
	fake := &fakeService{profile: service.Profile{
		User:                 user.User{ID: "user-1", Email: "a@x.com", Username: "alice", TwoFactorEnabled: true},
		BackupCodesRemaining: 0,
	}}
	ts := newTestServer(fake)
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/auth/me", "full-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeResponse(t, resp, &body)
	remaining, ok := body["backupCodesRemaining"]
	if !ok {
		t.Fatal("expected backupCodesRemaining in response body")
	}
	if remaining != float64(0) {
		t.Fatalf("expected 0 remaining backup codes, got %v", remaining)
	}
}

func TestTwoFactorDisable(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/2fa/disable", "full-token", twoFactorCodeRequest{Code: "123456"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/up")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
