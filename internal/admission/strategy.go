// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package admission provides fixed-window request limiting ahead of the auth
// endpoints. Counters live behind the Counter interface so the window can be
// shared across instances through Redis.
package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/httpapi/bearer"
)

// KeyStrategy selects how a request is mapped to a counter key.
type KeyStrategy string

// Supported strategies.
const (
	StrategyToken             KeyStrategy = "token"
	StrategyIPAddress         KeyStrategy = "ip-address"
	StrategyTokenOrIPWithPath KeyStrategy = "token-or-ip-with-path"
)

// DefaultStrategy is used when none is configured.
const DefaultStrategy = StrategyToken

// fallbackIP is used when no client address can be determined.
const fallbackIP = "127.0.0.1"

// Strategies lists every supported strategy.
func Strategies() []KeyStrategy {
	return []KeyStrategy{StrategyToken, StrategyIPAddress, StrategyTokenOrIPWithPath}
}

// ParseKeyStrategy parses a strategy name case-insensitively.
func ParseKeyStrategy(s string) (KeyStrategy, error) {
	candidate := KeyStrategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies() {
		if candidate == known {
			return known, nil
		}
	}
	return "", oops.Code("RATELIMIT_UNKNOWN_STRATEGY").
		With("strategy", s).
		Errorf("%q is not a supported key strategy; use token, ip-address or token-or-ip-with-path", s)
}

// Key derives the counter key for r. It never fails: a request without a
// usable bearer token is keyed by client IP.
func (s KeyStrategy) Key(r *http.Request) string {
	switch s {
	case StrategyIPAddress:
		return "ip:" + ClientIP(r)
	case StrategyTokenOrIPWithPath:
		return tokenOrIP(r) + ":" + r.URL.Path
	default:
		return tokenOrIP(r)
	}
}

// ipKey is Key with the bearer token ignored.
func (s KeyStrategy) ipKey(r *http.Request) string {
	key := "ip:" + ClientIP(r)
	if s == StrategyTokenOrIPWithPath {
		key += ":" + r.URL.Path
	}
	return key
}

// tokenOrIP keys by a digest of the bearer token so raw tokens never reach the
// counter store.
func tokenOrIP(r *http.Request) string {
	token, err := bearer.Extract(r)
	if err != nil {
		return "ip:" + ClientIP(r)
	}
	sum := sha256.Sum256([]byte(token))
	return "tok:" + hex.EncodeToString(sum[:16])
}

// ClientIP resolves the caller's address from X-Forwarded-For (first entry),
// then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return fallbackIP
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
