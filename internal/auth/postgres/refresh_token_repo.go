// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
)

const refreshTokenColumns = `id, user_id, token, expires_at, revoked, created_at, updated_at`

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
// The UNIQUE(user_id) constraint keeps one record per user.
type RefreshTokenRepository struct {
	pool poolIface
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool poolIface) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Create stores a new refresh token record. It never overwrites.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.Token,
		token.ExpiresAt,
		token.Revoked,
		token.CreatedAt,
		token.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("REFRESH_TOKEN_ALREADY_EXISTS").
				With("user_id", token.UserID.String()).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("REFRESH_TOKEN_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByUser retrieves the record for a user.
func (r *RefreshTokenRepository) GetByUser(ctx context.Context, userID ulid.ULID) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE user_id = $1
	`, userID.String())

	rec, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").
			With("operation", "get refresh token by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return rec, nil
}

// GetByToken retrieves the record holding a token string.
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token = $1
	`, token)

	rec, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").
			With("operation", "get refresh token by value").
			Wrap(err)
	}
	return rec, nil
}

// Revoke marks the user's record revoked and returns it.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, userID ulid.ULID) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2
		WHERE user_id = $1
		RETURNING `+refreshTokenColumns,
		userID.String(), time.Now())

	rec, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return rec, nil
}

// Delete removes the user's record. A missing record is not an error.
func (r *RefreshTokenRepository) Delete(ctx context.Context, userID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("REFRESH_TOKEN_DELETE_FAILED").
			With("operation", "delete refresh token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteByID removes the record with the given ID only, so a record inserted
// concurrently for the same user survives.
func (r *RefreshTokenRepository) DeleteByID(ctx context.Context, id ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("REFRESH_TOKEN_DELETE_FAILED").
			With("operation", "delete refresh token by id").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// scanRefreshToken scans a single row into a RefreshToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		idStr     string
		userIDStr string
		rec       auth.RefreshToken
	)
	err := row.Scan(&idStr, &userIDStr, &rec.Token, &rec.ExpiresAt, &rec.Revoked, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("REFRESH_TOKEN_SCAN_FAILED").
			With("operation", "scan refresh token").
			Wrap(err)
	}

	if rec.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	if rec.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_USER_ID").
			With("user_id", userIDStr).
			Wrap(err)
	}
	return &rec, nil
}

var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
