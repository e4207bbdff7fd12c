// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshToken is the persisted record of a user's active refresh token.
// The signed token itself is stored so it can be invalidated before its
// embedded expiry.
type RefreshToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Token     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRefreshToken creates a validated RefreshToken instance.
func NewRefreshToken(userID ulid.ULID, token string, expiresAt time.Time) (*RefreshToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if token == "" {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_TOKEN").Errorf("token cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	now := time.Now()
	return &RefreshToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsExpiredAt returns true if the record would be expired at the given time.
func (r *RefreshToken) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// IsLiveAt reports whether the record is neither expired nor revoked at t.
func (r *RefreshToken) IsLiveAt(t time.Time) bool {
	return !r.Revoked && !r.IsExpiredAt(t)
}

// RefreshTokenRepository persists at most one refresh record per user.
type RefreshTokenRepository interface {
	// Create stores a new record. Returns ErrAlreadyExists if the user already
	// has one; existing records are never overwritten.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByUser retrieves the record for a user.
	GetByUser(ctx context.Context, userID ulid.ULID) (*RefreshToken, error)

	// GetByToken retrieves the record holding the given token string.
	GetByToken(ctx context.Context, token string) (*RefreshToken, error)

	// Revoke marks the user's record revoked and returns it. The row is kept.
	Revoke(ctx context.Context, userID ulid.ULID) (*RefreshToken, error)

	// Delete removes the user's record. Deleting a missing record is not an error.
	Delete(ctx context.Context, userID ulid.ULID) error

	// DeleteByID removes one specific record. A record that has already been
	// replaced or removed is left alone and is not an error.
	DeleteByID(ctx context.Context, id ulid.ULID) error
}
