// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the token lifecycle for holoauth.
//
// # Domain Types
//
// Domain types (User, RefreshToken) should be created using their
// constructors:
//   - NewUser - creates a User with a normalized email and password hash
//   - NewRefreshToken - creates a RefreshToken with validated owner and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Tokens
//
// TokenCodec signs access and refresh tokens with HS256. Each token carries a
// class tag and is rejected when validated as the other class. A user holds at
// most one live refresh token; its signed string is stored so it can be
// invalidated before its embedded expiry.
//
// # Services
//
// Service coordinates the hasher, codec and repositories:
//   - Register, Authenticate - issue a token pair
//   - Refresh - exchange a refresh token for a new access token
//   - Logout, RevokeSession - end a session
//   - ChangeEmail, ChangePassword, DeleteAccount - mutate the account and end its session
//
// Services are created with New*Service constructors that validate dependencies.
package auth
