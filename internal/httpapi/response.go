// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/httpapi/bearer"
	"github.com/holomush/holoauth/pkg/errutil"
)

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes reported in error_details.error.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeInvalidRequest     = "invalid_request"
	CodeUserAlreadyExists  = "user_already_exists"
	CodeUserNotFound       = "user_not_found"
	CodeSessionNotFound    = "session_not_found"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_server_error"
)

// failureMessage is the envelope message of every error response.
const failureMessage = "Authentication failed"

// Envelope is the body of every API response.
type Envelope struct {
	Status       string        `json:"status"`
	Message      string        `json:"message"`
	TokenDetails *TokenDetails `json:"token_details,omitempty"`
	User         *UserDetails  `json:"user,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
}

// TokenDetails carries an issued access token and, after register or login,
// the session's refresh token.
type TokenDetails struct {
	TokenType    string `json:"token_type"`
	Token        string `json:"token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UserDetails is the public view of an account.
type UserDetails struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorDetails describes a failed request. Field names follow the OAuth 2.0
// error response (RFC 6749 section 5.2): error, error_description and the
// optional error_uri reference.
type ErrorDetails struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

func tokenDetails(td *auth.TokenDetails) *TokenDetails {
	return &TokenDetails{
		TokenType:    td.TokenType,
		Token:        td.AccessToken,
		ExpiresIn:    td.ExpiresIn,
		RefreshToken: td.RefreshToken,
	}
}

func userDetails(u *auth.User) *UserDetails {
	return &UserDetails{
		ID:        u.ID.String(),
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected; nothing useful to do
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Envelope{Status: StatusSuccess, Message: message})
}

// apiError is the client-facing classification of an error.
type apiError struct {
	status      int
	code        string
	description string
}

// classify maps an error to its HTTP status and public error code. Anything
// not recognized is an internal error and its details stay server-side.
func classify(err error) apiError {
	switch {
	case errors.Is(err, bearer.ErrMissingHeader),
		errors.Is(err, bearer.ErrInvalidFormat),
		errors.Is(err, bearer.ErrEmptyContent),
		errors.Is(err, bearer.ErrNonUTF8):
		return apiError{http.StatusUnauthorized, CodeInvalidToken, bearerDescription(err)}
	}

	switch code := errutil.Code(err); code {
	case "AUTH_INVALID_CREDENTIALS":
		return apiError{http.StatusUnauthorized, CodeInvalidCredentials, "Invalid credentials provided"}
	case "AUTH_INVALID_TOKEN":
		if reason(err) == auth.ReasonExpired {
			return apiError{http.StatusUnauthorized, CodeTokenExpired, "The provided token has expired"}
		}
		return apiError{http.StatusUnauthorized, CodeInvalidToken, "The token provided is invalid"}
	case "TOKEN_EXPIRED":
		return apiError{http.StatusUnauthorized, CodeTokenExpired, "The provided token has expired"}
	case "TOKEN_INVALID", "TOKEN_WRONG_CLASS":
		return apiError{http.StatusUnauthorized, CodeInvalidToken, "The token provided is invalid"}
	case "REQUEST_INVALID", "REQUEST_MALFORMED", "USER_INVALID_EMAIL":
		return apiError{http.StatusBadRequest, CodeInvalidRequest, publicMessage(err)}
	case "USER_ALREADY_EXISTS":
		return apiError{http.StatusConflict, CodeUserAlreadyExists, "A user with this email already exists"}
	case "USER_NOT_FOUND":
		return apiError{http.StatusNotFound, CodeUserNotFound, "User not found"}
	case "SESSION_NOT_FOUND":
		return apiError{http.StatusNotFound, CodeSessionNotFound, "No active session"}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal, "An internal server error occurred"}
	}
}

func bearerDescription(err error) string {
	for _, sentinel := range []error{bearer.ErrMissingHeader, bearer.ErrInvalidFormat, bearer.ErrEmptyContent, bearer.ErrNonUTF8} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "The token provided is invalid"
}

func reason(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	r, _ := oopsErr.Context()["reason"].(string)
	return r
}

// publicMessage returns the message of the outermost oops error, which for
// request and email validation failures is written for clients.
func publicMessage(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Invalid request"
	}
	msg := oopsErr.Error()
	if msg == "" {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// writeError writes the error envelope for err. Internal errors are logged
// with their full oops context.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) apiError {
	ae := classify(err)
	if ae.status == http.StatusInternalServerError {
		errutil.LogErrorContext(ctx, logger, "request failed", err)
	}
	writeJSON(w, ae.status, Envelope{
		Status:  StatusError,
		Message: failureMessage,
		ErrorDetails: &ErrorDetails{
			Error:            ae.code,
			ErrorDescription: ae.description,
		},
	})
	return ae
}

// RejectRateLimited writes the 429 envelope. The admission limiter sets the
// rate-limit headers before it runs.
func RejectRateLimited(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, Envelope{
		Status:  StatusError,
		Message: "Too many requests",
		ErrorDetails: &ErrorDetails{
			Error:            CodeRateLimited,
			ErrorDescription: "Rate limit exceeded, retry after the window resets",
		},
	})
}
