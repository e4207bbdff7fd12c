// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenTypeBearer is the token_type reported with every issued token pair.
const TokenTypeBearer = "Bearer"

// Reasons a refresh token is reported invalid.
const (
	ReasonUnknown  = "unknown"
	ReasonExpired  = "expired"
	ReasonRevoked  = "revoked"
	ReasonRejected = "rejected"
)

// TokenDetails is what a client receives after register, login, or refresh.
// RefreshToken is empty for a plain refresh exchange.
type TokenDetails struct {
	TokenType    string
	AccessToken  string
	ExpiresIn    int64
	RefreshToken string
}

// TokenValidity is the outcome of checking a refresh token against the store.
// It is either ValidToken or InvalidToken.
type TokenValidity interface {
	tokenValidity()
}

// ValidToken carries the live record backing a refresh token.
type ValidToken struct {
	Record *RefreshToken
}

// InvalidToken reports why a refresh token cannot be used.
type InvalidToken struct {
	Reason string
}

func (ValidToken) tokenValidity()   {}
func (InvalidToken) tokenValidity() {}

// Service coordinates credentials, tokens and the refresh token store.
type Service struct {
	users  UserRepository
	tokens RefreshTokenRepository
	hasher PasswordHasher
	codec  *TokenCodec
	logger *slog.Logger
}

// NewAuthService creates a new Service using the default logger.
func NewAuthService(users UserRepository, tokens RefreshTokenRepository, hasher PasswordHasher, codec *TokenCodec) (*Service, error) {
	return NewAuthServiceWithLogger(users, tokens, hasher, codec, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with a custom logger.
func NewAuthServiceWithLogger(
	users UserRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	codec *TokenCodec,
	logger *slog.Logger,
) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		codec:  codec,
		logger: logger,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
}

func invalidToken(reason string) error {
	return oops.Code("AUTH_INVALID_TOKEN").
		With("reason", reason).
		Errorf("invalid token")
}

// Register creates a user and starts its first session.
func (s *Service) Register(ctx context.Context, email, password string) (*TokenDetails, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	_, err = s.users.GetByEmail(ctx, normalized)
	switch {
	case err == nil:
		return nil, oops.Code("USER_ALREADY_EXISTS").
			With("operation", "register").
			Wrap(ErrAlreadyExists)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(normalized, hash)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, oops.Code("USER_ALREADY_EXISTS").
				With("operation", "register").
				Wrap(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	details, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return details, nil
}

// Authenticate verifies an email and password and returns a token pair.
// Uses constant-time operations to prevent timing-based email enumeration.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*TokenDetails, error) {
	var user *User
	targetHash := dummyPasswordHash

	// A malformed email cannot belong to anyone; it still pays for a verify.
	if normalized, err := NormalizeEmail(email); err == nil {
		found, lookupErr := s.users.GetByEmail(ctx, normalized)
		switch {
		case lookupErr == nil:
			user = found
			targetHash = found.PasswordHash
		case !errors.Is(lookupErr, ErrNotFound):
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if user == nil {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if user == nil || !valid {
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradePasswordHash(ctx, user, password)
	}

	details, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user authenticated", "user_id", user.ID.String())
	return details, nil
}

// upgradePasswordHash re-hashes with current parameters. Login succeeds regardless.
func (s *Service) upgradePasswordHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash",
			"user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "failed to store upgraded password hash",
			"user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = newHash
}

// issueTokens resolves the user's single active refresh token and mints an
// access token from it.
func (s *Service) issueTokens(ctx context.Context, user *User) (*TokenDetails, error) {
	candidate, err := s.codec.IssueRefresh(user.ID, user.Email)
	if err != nil {
		return nil, oops.With("operation", "issue refresh token").Wrap(err)
	}

	active, err := s.activeRefreshToken(ctx, user.ID, candidate)
	if err != nil {
		return nil, err
	}

	details, err := s.exchange(active)
	if err != nil {
		return nil, err
	}
	details.RefreshToken = active.Token
	return details, nil
}

// activeRefreshToken decides between the stored record and the candidate.
func (s *Service) activeRefreshToken(ctx context.Context, userID ulid.ULID, candidate string) (*RefreshToken, error) {
	stored, err := s.tokens.GetByUser(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.storeCandidate(ctx, userID, candidate)
	case err != nil:
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "get refresh token by user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if s.usable(stored) {
		// Live session: the stored token stays, the candidate is discarded.
		s.logger.DebugContext(ctx, "reusing active refresh token", "user_id", userID.String())
		return stored, nil
	}

	// Only the record that was read is removed. If a concurrent issuance has
	// already replaced it, Create below finds that record and adopts it.
	if err := s.tokens.DeleteByID(ctx, stored.ID); err != nil {
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "delete stale refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	s.logger.DebugContext(ctx, "replaced stale refresh token", "user_id", userID.String())
	return s.storeCandidate(ctx, userID, candidate)
}

// storeCandidate persists candidate. When a concurrent issuance for the same
// user inserted first, the winner's record is adopted instead.
func (s *Service) storeCandidate(ctx context.Context, userID ulid.ULID, candidate string) (*RefreshToken, error) {
	claims, err := s.codec.Validate(candidate, ClassRefresh)
	if err != nil {
		return nil, oops.With("operation", "decode refresh token").Wrap(err)
	}
	record, err := NewRefreshToken(userID, candidate, claims.ExpiresAt.Time)
	if err != nil {
		return nil, err
	}

	err = s.tokens.Create(ctx, record)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "create refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}

	winner, getErr := s.tokens.GetByUser(ctx, userID)
	if getErr != nil {
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "get concurrent refresh token").
			With("user_id", userID.String()).
			Wrap(getErr)
	}
	if !s.usable(winner) {
		return nil, oops.Code("AUTH_SESSION_CONFLICT").
			With("user_id", userID.String()).
			Errorf("concurrent session is not usable")
	}
	s.logger.DebugContext(ctx, "adopted concurrently issued refresh token", "user_id", userID.String())
	return winner, nil
}

// usable reports whether a stored record is live and its token still verifies.
func (s *Service) usable(record *RefreshToken) bool {
	if !record.IsLiveAt(s.codec.now()) {
		return false
	}
	_, err := s.codec.Validate(record.Token, ClassRefresh)
	return err == nil
}

// exchange mints an access token for the subject of a live refresh record.
func (s *Service) exchange(record *RefreshToken) (*TokenDetails, error) {
	claims, err := s.codec.Validate(record.Token, ClassRefresh)
	if err != nil {
		return nil, oops.With("operation", "decode refresh token").Wrap(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	access, err := s.codec.IssueAccess(userID, claims.Email)
	if err != nil {
		return nil, oops.With("operation", "issue access token").Wrap(err)
	}
	expiresIn, err := s.codec.RemainingLifetime(access)
	if err != nil {
		return nil, oops.With("operation", "access token lifetime").Wrap(err)
	}

	return &TokenDetails{
		TokenType:   TokenTypeBearer,
		AccessToken: access,
		ExpiresIn:   expiresIn,
	}, nil
}

// ValidateRefreshToken checks a refresh token against the store. A record
// found to be unusable is deleted before InvalidToken is returned.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (TokenValidity, error) {
	if token == "" {
		return InvalidToken{Reason: ReasonUnknown}, nil
	}

	record, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return InvalidToken{Reason: ReasonUnknown}, nil
		}
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get refresh token").
			Wrap(err)
	}

	var reason string
	switch {
	case record.Revoked:
		reason = ReasonRevoked
	case record.IsExpiredAt(s.codec.now()):
		reason = ReasonExpired
	default:
		if _, err := s.codec.Validate(token, ClassRefresh); err != nil {
			reason = ReasonRejected
		}
	}
	if reason == "" {
		return ValidToken{Record: record}, nil
	}

	if err := s.tokens.DeleteByID(ctx, record.ID); err != nil {
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "delete invalid refresh token").
			With("user_id", record.UserID.String()).
			Wrap(err)
	}
	s.logger.DebugContext(ctx, "discarded unusable refresh token",
		"user_id", record.UserID.String(), "reason", reason)
	return InvalidToken{Reason: reason}, nil
}

// Refresh mints a new access token from a valid refresh token. The refresh
// token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenDetails, error) {
	validity, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	switch v := validity.(type) {
	case ValidToken:
		return s.exchange(v.Record)
	case InvalidToken:
		return nil, invalidToken(v.Reason)
	default:
		return nil, oops.Errorf("unexpected token validity %T", validity)
	}
}

// Logout ends the session backing a refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	validity, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	switch v := validity.(type) {
	case ValidToken:
		if err := s.tokens.DeleteByID(ctx, v.Record.ID); err != nil {
			return oops.Code("AUTH_LOGOUT_FAILED").
				With("operation", "delete refresh token").
				With("user_id", v.Record.UserID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "user logged out", "user_id", v.Record.UserID.String())
		return nil
	case InvalidToken:
		return invalidToken(v.Reason)
	default:
		return oops.Errorf("unexpected token validity %T", validity)
	}
}

// accessSubject validates an access token and returns its subject.
func (s *Service) accessSubject(accessToken string) (ulid.ULID, error) {
	claims, err := s.codec.Validate(accessToken, ClassAccess)
	if err != nil {
		return ulid.ULID{}, oops.With("operation", "validate access token").Wrap(err)
	}
	return claims.UserID()
}

// CurrentUser returns the user an access token was issued to.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	userID, err := s.accessSubject(accessToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(err)
		}
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "get user by id").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return user, nil
}

// DeleteAccount removes the caller's session and user record.
func (s *Service) DeleteAccount(ctx context.Context, accessToken string) error {
	userID, err := s.accessSubject(accessToken)
	if err != nil {
		return err
	}

	if err := s.tokens.Delete(ctx, userID); err != nil {
		return oops.Code("AUTH_DELETE_ACCOUNT_FAILED").
			With("operation", "delete refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(err)
		}
		return oops.Code("AUTH_DELETE_ACCOUNT_FAILED").
			With("operation", "delete user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account deleted", "user_id", userID.String())
	return nil
}

// ChangeEmail updates the caller's email and ends their session.
func (s *Service) ChangeEmail(ctx context.Context, accessToken, email string) error {
	user, err := s.CurrentUser(ctx, accessToken)
	if err != nil {
		return err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	existing, err := s.users.GetByEmail(ctx, normalized)
	switch {
	case err == nil && existing.ID != user.ID:
		return oops.Code("USER_ALREADY_EXISTS").
			With("operation", "change email").
			Wrap(ErrAlreadyExists)
	case err != nil && !errors.Is(err, ErrNotFound):
		return oops.Code("AUTH_CHANGE_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	if err := s.users.UpdateEmail(ctx, user.ID, normalized); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return oops.Code("USER_ALREADY_EXISTS").
				With("operation", "change email").
				Wrap(err)
		}
		return oops.Code("AUTH_CHANGE_EMAIL_FAILED").
			With("operation", "update email").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := s.endSession(ctx, user.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email changed", "user_id", user.ID.String())
	return nil
}

// ChangePassword sets a new password for the caller and ends their session.
func (s *Service) ChangePassword(ctx context.Context, accessToken, password string) error {
	user, err := s.CurrentUser(ctx, accessToken)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := s.endSession(ctx, user.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID.String())
	return nil
}

func (s *Service) endSession(ctx context.Context, userID ulid.ULID) error {
	if err := s.tokens.Delete(ctx, userID); err != nil {
		return oops.Code("AUTH_END_SESSION_FAILED").
			With("operation", "delete refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// RevokeSession marks the caller's refresh record revoked. The row is kept
// until the token is next presented.
func (s *Service) RevokeSession(ctx context.Context, accessToken string) (*RefreshToken, error) {
	userID, err := s.accessSubject(accessToken)
	if err != nil {
		return nil, err
	}

	record, err := s.tokens.Revoke(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "session revoked", "user_id", userID.String())
	return record, nil
}
