// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/httpapi/bearer"
	"github.com/holomush/holoauth/internal/observability"
)

// AuthService is the slice of *auth.Service the handlers call.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*auth.TokenDetails, error)
	Authenticate(ctx context.Context, email, password string) (*auth.TokenDetails, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenDetails, error)
	Logout(ctx context.Context, refreshToken string) error
	RevokeSession(ctx context.Context, accessToken string) (*auth.RefreshToken, error)
	CurrentUser(ctx context.Context, accessToken string) (*auth.User, error)
	DeleteAccount(ctx context.Context, accessToken string) error
	ChangeEmail(ctx context.Context, accessToken, email string) error
	ChangePassword(ctx context.Context, accessToken, password string) error
}

var _ AuthService = (*auth.Service)(nil)

// Operation labels for holoauth_auth_operations_total.
const (
	opRegister       = "register"
	opLogin          = "login"
	opRefresh        = "refresh"
	opRevoke         = "revoke"
	opLogout         = "logout"
	opChangePassword = "change_password"
	opChangeEmail    = "change_email"
	opCurrentUser    = "current_user"
	opDeleteAccount  = "delete_account"
)

// Handler serves the auth endpoints.
type Handler struct {
	svc     AuthService
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler creates a Handler. metrics may be nil.
func NewHandler(svc AuthService, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, metrics: metrics, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ae := writeError(r.Context(), w, h.logger, err)
	h.metrics.RecordAuthOperation(op, ae.code)
}

func (h *Handler) succeed(op string) {
	h.metrics.RecordAuthOperation(op, observability.OutcomeSuccess)
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.fail(w, r, opRegister, err)
		return
	}

	td, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, opRegister, err)
		return
	}

	h.succeed(opRegister)
	writeJSON(w, http.StatusOK, Envelope{
		Status:       StatusSuccess,
		Message:      "Registration successful",
		TokenDetails: tokenDetails(td),
	})
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.fail(w, r, opLogin, err)
		return
	}

	td, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, opLogin, err)
		return
	}

	h.succeed(opLogin)
	writeJSON(w, http.StatusOK, Envelope{
		Status:       StatusSuccess,
		Message:      "Authentication successful",
		TokenDetails: tokenDetails(td),
	})
}

// Refresh handles POST /api/v1/auth/token/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.fail(w, r, opRefresh, err)
		return
	}

	td, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, opRefresh, err)
		return
	}

	h.succeed(opRefresh)
	writeJSON(w, http.StatusOK, Envelope{
		Status:       StatusSuccess,
		Message:      "Token refreshed",
		TokenDetails: tokenDetails(td),
	})
}

// Revoke handles POST /api/v1/auth/token/revoke. The bearer is an access token.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	token, err := bearer.Extract(r)
	if err != nil {
		h.fail(w, r, opRevoke, err)
		return
	}

	if _, err := h.svc.RevokeSession(r.Context(), token); err != nil {
		h.fail(w, r, opRevoke, err)
		return
	}

	h.succeed(opRevoke)
	writeSuccess(w, "Session revoked")
}

// Logout handles POST /api/v1/auth/logout. The bearer is a refresh token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := bearer.Extract(r)
	if err != nil {
		h.fail(w, r, opLogout, err)
		return
	}

	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.fail(w, r, opLogout, err)
		return
	}

	h.succeed(opLogout)
	writeSuccess(w, "Logout successful")
}

// ChangePassword handles PUT /api/v1/auth/password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	token, err := bearer.Extract(r)
	if err != nil {
		h.fail(w, r, opChangePassword, err)
		return
	}
	var req passwordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.fail(w, r, opChangePassword, err)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), token, req.Password); err != nil {
		h.fail(w, r, opChangePassword, err)
		return
	}

	h.succeed(opChangePassword)
	writeSuccess(w, "Password update successful")
}

// ChangeEmail handles PUT /api/v1/auth/email.
func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	token, err := bearer.Extract(r)
	if err != nil {
		h.fail(w, r, opChangeEmail, err)
		return
	}
	var req emailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.fail(w, r, opChangeEmail, err)
		return
	}

	if err := h.svc.ChangeEmail(r.Context(), token, req.Email); err != nil {
		h.fail(w, r, opChangeEmail, err)
		return
	}

	h.succeed(opChangeEmail)
	writeSuccess(w, "Email update successful")
}

// Me handles GET /api/v1/users/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token, err := bearer.Extract(r)
	if err != nil {
		h.fail(w, r, opCurrentUser, err)
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), token)
	if err != nil {
		h.fail(w, r, opCurrentUser, err)
		return
	}

	h.succeed(opCurrentUser)
	writeJSON(w, http.StatusOK, Envelope{
		Status:  StatusSuccess,
		Message: "Current user",
		User:    userDetails(user),
	})
}

// DeleteMe handles DELETE /api/v1/users/me.
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	token, err := bearer.Extract(r)
	if err != nil {
		h.fail(w, r, opDeleteAccount, err)
		return
	}

	if err := h.svc.DeleteAccount(r.Context(), token); err != nil {
		h.fail(w, r, opDeleteAccount, err)
		return
	}

	h.succeed(opDeleteAccount)
	writeSuccess(w, "Deletion successful")
}

// Health handles GET /api/v1/auth/healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, "Service is operational")
}
