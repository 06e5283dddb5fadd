package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/driftlock/driftlock/internal/auth/service"
	"github.com/driftlock/driftlock/internal/auth/token"
	"github.com/driftlock/driftlock/internal/auth/user"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

// maxBodyBytes caps request bodies. Attestation responses are a few
// kilobytes at most.
const maxBodyBytes = 1 << 20

type userView struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

func viewUser(u user.User) userView {
	return userView{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

type credentialView struct {
	ID         string    `json:"id"`
	DeviceType string    `json:"deviceType"`
	BackedUp   bool      `json:"backedUp"`
	Transports []string  `json:"transports,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func viewCredential(summary service.CredentialSummary) credentialView {
	return credentialView{
		ID:         summary.ID,
		DeviceType: summary.DeviceType,
		BackedUp:   summary.BackedUp,
		Transports: summary.Transports,
		CreatedAt:  summary.CreatedAt,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type registerResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var in registerRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.service.Register(r.Context(), service.RegisterInput{
		Email:    in.Email,
		Username: in.Username,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Token: result.Token,
		User:  viewUser(result.User),
	})
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if !requirePost(w, r) {
		return
	}
	options, err := s.service.BeginPasskeyRegistration(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

type registerVerifyResponse struct {
	Credential credentialView `json:"credential"`
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if !requirePost(w, r) {
		return
	}
	response, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := s.service.FinishPasskeyRegistration(r.Context(), claims.UserID, response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerVerifyResponse{Credential: viewCredential(summary)})
}

type loginOptionsRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var in loginOptionsRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	options, err := s.service.BeginPasskeyLogin(r.Context(), in.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

type loginVerifyRequest struct {
	Email    string          `json:"email"`
	Response json.RawMessage `json:"response"`
}

type loginVerifyResponse struct {
	Token       string   `json:"token"`
	Requires2FA bool     `json:"requires2FA"`
	User        userView `json:"user"`
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var in loginVerifyRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.service.FinishPasskeyLogin(r.Context(), in.Email, in.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginVerifyResponse{
		Token:       result.Token,
		Requires2FA: result.Requires2FA,
		User:        viewUser(result.User),
	})
}

type twoFactorSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if !requirePost(w, r) {
		return
	}
	setup, err := s.service.SetupTwoFactor(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorSetupResponse{
		Secret: setup.Secret,
		URI:    setup.ProvisioningURI,
	})
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

type twoFactorVerifyResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if !requirePost(w, r) {
		return
	}
	var in twoFactorCodeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	backupCodes, err := s.service.ActivateTwoFactor(r.Context(), claims.UserID, in.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorVerifyResponse{BackupCodes: backupCodes})
}

type twoFactorValidateResponse struct {
	Token          string `json:"token"`
	BackupCodeUsed bool   `json:"backupCodeUsed"`
}

func (s *Server) handleTwoFactorValidate(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if !requirePost(w, r) {
		return
	}
	var in twoFactorCodeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.service.ValidateTwoFactor(r.Context(), claims.UserID, in.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorValidateResponse{
		Token:          result.Token,
		BackupCodeUsed: result.BackupCodeUsed,
	})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if !requirePost(w, r) {
		return
	}
	var in twoFactorCodeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	if err := s.service.DisableTwoFactor(r.Context(), claims.UserID, in.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	User                 userView         `json:"user"`
	PasskeysCount        int              `json:"passkeysCount"`
	Credentials          []credentialView `json:"credentials"`
	BackupCodesRemaining int              `json:"backupCodesRemaining"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	profile, err := s.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	credentials := make([]credentialView, 0, len(profile.Credentials))
	for _, summary := range profile.Credentials {
		credentials = append(credentials, viewCredential(summary))
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:                 viewUser(profile.User),
		PasskeysCount:        len(credentials),
		Credentials:          credentials,
		BackupCodesRemaining: profile.BackupCodesRemaining,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "invalid request body")
	}
	if len(body) == 0 || !json.Valid(body) {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "invalid request body")
	}
	return body, nil
}

func writeRawJSON(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
