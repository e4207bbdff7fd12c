// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretLength is the shortest signing secret the codec accepts (256 bits).
const MinSecretLength = 32

// TokenClass distinguishes access tokens from refresh tokens inside the signed payload.
type TokenClass string

// Token classes.
const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

// Claims is the signed payload of every token the codec issues.
type Claims struct {
	Email string     `json:"email"`
	Class TokenClass `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").
			With("operation", "parse subject").
			Wrap(err)
	}
	return id, nil
}

// TokenCodec signs and verifies HS256 tokens for both token classes.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the codec's time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec creates a codec. Lifetimes must be positive and the secret at
// least MinSecretLength bytes.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("token lifetimes must be positive")
	}

	c := &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// Issue signs a token of the given class that expires lifetime after now.
func (c *TokenCodec) Issue(subjectID ulid.ULID, email string, class TokenClass, lifetime time.Duration) (string, error) {
	now := c.now()
	claims := &Claims{
		Email: email,
		Class: class,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("class", string(class)).
			Wrap(err)
	}
	return signed, nil
}

// IssueAccess signs an access token with the configured access lifetime.
func (c *TokenCodec) IssueAccess(subjectID ulid.ULID, email string) (string, error) {
	return c.Issue(subjectID, email, ClassAccess, c.accessTTL)
}

// IssueRefresh signs a refresh token with the configured refresh lifetime.
func (c *TokenCodec) IssueRefresh(subjectID ulid.ULID, email string) (string, error) {
	return c.Issue(subjectID, email, ClassRefresh, c.refreshTTL)
}

// Validate verifies the signature and expiry of token and checks that its
// class matches expected.
func (c *TokenCodec) Validate(token string, expected TokenClass) (*Claims, error) {
	claims, err := c.parse(token,
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").
				With("expected", string(expected)).
				Errorf("token has expired")
		}
		return nil, oops.Code("TOKEN_INVALID").
			With("expected", string(expected)).
			Wrap(err)
	}

	if claims.Class != expected {
		return nil, oops.Code("TOKEN_WRONG_CLASS").
			With("expected", string(expected)).
			With("actual", string(claims.Class)).
			Errorf("token class mismatch")
	}
	return claims, nil
}

// RemainingLifetime returns exp - iat in seconds for a correctly signed token.
// The value is a static property of the token, independent of the current time.
func (c *TokenCodec) RemainingLifetime(token string) (int64, error) {
	claims, err := c.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return 0, oops.Code("TOKEN_INVALID").
			With("operation", "remaining lifetime").
			Wrap(err)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return 0, oops.Code("TOKEN_INVALID").Errorf("token lacks exp or iat")
	}
	return claims.ExpiresAt.Unix() - claims.IssuedAt.Unix(), nil
}

func (c *TokenCodec) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers attach codes
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}
