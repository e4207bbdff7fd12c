// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bearer extracts bearer tokens from the Authorization header.
package bearer

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Prefix is the scheme prefix expected in the Authorization header.
const Prefix = "Bearer "

// Extraction failures. Extract wraps them in oops errors carrying a BEARER_* code.
var (
	ErrMissingHeader = errors.New("authorization header not found")
	ErrInvalidFormat = errors.New("invalid authorization header format: expected 'Bearer <token>'")
	ErrEmptyContent  = errors.New("invalid authorization header content: token is empty")
	ErrNonUTF8       = errors.New("authorization header contains non-UTF8 characters")
)

// Extract returns the trimmed token from "Authorization: Bearer <token>".
func Extract(r *http.Request) (string, error) {
	values := r.Header.Values("Authorization")
	if len(values) == 0 {
		return "", oops.Code("BEARER_MISSING_HEADER").Wrap(ErrMissingHeader)
	}
	header := values[0]

	if !utf8.ValidString(header) {
		return "", oops.Code("BEARER_NON_UTF8").Wrap(ErrNonUTF8)
	}

	token, ok := strings.CutPrefix(header, Prefix)
	if !ok {
		return "", oops.Code("BEARER_INVALID_FORMAT").Wrap(ErrInvalidFormat)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", oops.Code("BEARER_EMPTY_CONTENT").Wrap(ErrEmptyContent)
	}
	return token, nil
}
