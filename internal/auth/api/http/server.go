// Package httpapi exposes the authentication flows over HTTP JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/driftlock/driftlock/internal/auth/service"
	"github.com/driftlock/driftlock/internal/auth/token"
	"github.com/driftlock/driftlock/internal/auth/totp"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

// authService is the slice of the auth domain the transport depends on.
type authService interface {
	Register(ctx context.Context, in service.RegisterInput) (service.RegisterResult, error)
	BeginPasskeyRegistration(ctx context.Context, userID string) (json.RawMessage, error)
	FinishPasskeyRegistration(ctx context.Context, userID string, responseJSON []byte) (service.CredentialSummary, error)
	BeginPasskeyLogin(ctx context.Context, email string) (json.RawMessage, error)
	FinishPasskeyLogin(ctx context.Context, email string, responseJSON []byte) (service.LoginResult, error)
	SetupTwoFactor(ctx context.Context, userID string) (totp.Setup, error)
	ActivateTwoFactor(ctx context.Context, userID, code string) ([]string, error)
	ValidateTwoFactor(ctx context.Context, userID, code string) (service.LoginResult, error)
	DisableTwoFactor(ctx context.Context, userID, code string) error
	CurrentUser(ctx context.Context, userID string) (service.Profile, error)
	ValidateToken(tokenString string) (token.Claims, error)
}

// Server hosts the authentication HTTP endpoints.
type Server struct {
	service authService
	logger  *slog.Logger
}

// NewServer builds an HTTP server bound to the auth service.
func NewServer(svc authService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: svc, logger: logger}
}

// RegisterRoutes registers the authentication endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/passkey/register-options", s.requireAuth(s.handleRegisterOptions, false))
	mux.HandleFunc("/api/auth/passkey/register-verify", s.requireAuth(s.handleRegisterVerify, false))
	mux.HandleFunc("/api/auth/passkey/login-options", s.handleLoginOptions)
	mux.HandleFunc("/api/auth/passkey/login-verify", s.handleLoginVerify)
	mux.HandleFunc("/api/auth/2fa/setup", s.requireAuth(s.handleTwoFactorSetup, false))
	mux.HandleFunc("/api/auth/2fa/verify", s.requireAuth(s.handleTwoFactorVerify, false))
	mux.HandleFunc("/api/auth/2fa/validate", s.requireAuth(s.handleTwoFactorValidate, true))
	mux.HandleFunc("/api/auth/2fa/disable", s.requireAuth(s.handleTwoFactorDisable, false))
	mux.HandleFunc("/api/auth/me", s.requireAuth(s.handleMe, false))
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims token.Claims)

// requireAuth validates the bearer token. Every failure is a uniform 401
// so callers cannot distinguish a missing token from a forged or expired
// one. A pending token only reaches handlers that opt in.
func (s *Server) requireAuth(next authedHandler, allowPending bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.service.ValidateToken(bearerToken(r))
		if err != nil {
			writeError(w, token.ErrInvalid)
			return
		}
		if claims.SecondFactorPending && !allowPending {
			writeError(w, apperrors.New(apperrors.CodeSecondFactorRequired, "second factor required"))
			return
		}
		next(w, r, claims)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	body := errorBody{Code: string(code), Message: "internal error"}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && code != apperrors.CodeUnknown {
		body.Message = appErr.Message
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, target any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return apperrors.New(apperrors.CodeInvalidRequest, "invalid request body")
	}
	return nil
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
