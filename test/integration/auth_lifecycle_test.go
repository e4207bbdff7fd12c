// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/holoauth/internal/admission"
	"github.com/holomush/holoauth/internal/httpapi"
)

const (
	email    = "alice@example.com"
	password = "Corr3ct!horse"
)

type creds struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var _ = Describe("Token lifecycle", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv(5)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if env != nil {
			env.cleanup()
		}
	})

	BeforeEach(func() {
		Expect(env.reset()).To(Succeed())
	})

	register := func() *httpapi.TokenDetails {
		status, _, body, err := env.call(http.MethodPost, "/api/v1/auth/register", "", creds{email, password})
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(body.TokenDetails).NotTo(BeNil())
		return body.TokenDetails
	}

	login := func(e, p string) (int, httpapi.Envelope) {
		status, _, body, err := env.call(http.MethodPost, "/api/v1/auth/login", "", creds{e, p})
		Expect(err).NotTo(HaveOccurred())
		return status, body
	}

	refresh := func(token string) (int, httpapi.Envelope) {
		status, _, body, err := env.call(http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refresh_token": token})
		Expect(err).NotTo(HaveOccurred())
		return status, body
	}

	Describe("registration and login", func() {
		It("issues a token pair and keeps one session per user", func() {
			issued := register()
			Expect(issued.TokenType).To(Equal("Bearer"))
			Expect(issued.ExpiresIn).To(BeNumerically(">", 0))
			Expect(issued.RefreshToken).NotTo(BeEmpty())

			status, body := login("ALICE@example.com", password)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body.TokenDetails.RefreshToken).To(Equal(issued.RefreshToken), "live session is reused")
		})

		It("rejects a duplicate email", func() {
			register()
			status, _, body, err := env.call(http.MethodPost, "/api/v1/auth/register", "", creds{"Alice@Example.com", password})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusConflict))
			Expect(body.ErrorDetails.Error).To(Equal(httpapi.CodeUserAlreadyExists))
		})

		It("rejects a wrong password and an unknown user the same way", func() {
			register()
			wrongStatus, wrong := login(email, "Wr0ng!password")
			unknownStatus, unknown := login("bob@example.com", password)

			Expect(wrongStatus).To(Equal(http.StatusUnauthorized))
			Expect(unknownStatus).To(Equal(http.StatusUnauthorized))
			Expect(wrong.ErrorDetails).To(Equal(unknown.ErrorDetails))
		})
	})

	Describe("refresh", func() {
		It("mints a new access token for a live refresh token", func() {
			issued := register()
			status, body := refresh(issued.RefreshToken)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body.TokenDetails.Token).NotTo(BeEmpty())
			Expect(body.TokenDetails.RefreshToken).To(BeEmpty())
		})

		It("refuses an access token presented as a refresh token", func() {
			issued := register()
			status, body := refresh(issued.Token)
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(body.ErrorDetails.Error).To(Equal(httpapi.CodeInvalidToken))
		})
	})

	Describe("ending sessions", func() {
		It("logout invalidates the refresh token", func() {
			issued := register()
			status, _, _, err := env.call(http.MethodPost, "/api/v1/auth/logout", issued.RefreshToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))

			status, _ = refresh(issued.RefreshToken)
			Expect(status).To(Equal(http.StatusUnauthorized))
		})

		It("revoke rejects the token and the next login starts a new session", func() {
			issued := register()
			status, _, _, err := env.call(http.MethodPost, "/api/v1/auth/token/revoke", issued.Token, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))

			status, _ = refresh(issued.RefreshToken)
			Expect(status).To(Equal(http.StatusUnauthorized))

			status, body := login(email, password)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body.TokenDetails.RefreshToken).NotTo(Equal(issued.RefreshToken))

			status, _ = refresh(body.TokenDetails.RefreshToken)
			Expect(status).To(Equal(http.StatusOK))
		})

		It("revoke without a session is not found", func() {
			issued := register()
			_, _, _, err := env.call(http.MethodPost, "/api/v1/auth/logout", issued.RefreshToken, nil)
			Expect(err).NotTo(HaveOccurred())

			status, _, body, err := env.call(http.MethodPost, "/api/v1/auth/token/revoke", issued.Token, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body.ErrorDetails.Error).To(Equal(httpapi.CodeSessionNotFound))
		})
	})

	Describe("account management", func() {
		It("changing the password ends the session and replaces the credential", func() {
			issued := register()
			newPassword := "N3w!password"
			status, _, _, err := env.call(http.MethodPut, "/api/v1/auth/password", issued.Token, map[string]string{"password": newPassword})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))

			status, _ = refresh(issued.RefreshToken)
			Expect(status).To(Equal(http.StatusUnauthorized))

			status, _ = login(email, password)
			Expect(status).To(Equal(http.StatusUnauthorized))
			status, _ = login(email, newPassword)
			Expect(status).To(Equal(http.StatusOK))
		})

		It("changing the email is visible on the current user", func() {
			issued := register()
			status, _, _, err := env.call(http.MethodPut, "/api/v1/auth/email", issued.Token, map[string]string{"email": "Alice.New@example.com"})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))

			status, _, body, err := env.call(http.MethodGet, "/api/v1/users/me", issued.Token, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(body.User.Email).To(Equal("alice.new@example.com"))
		})

		It("deleting the account removes the user", func() {
			issued := register()
			status, _, _, err := env.call(http.MethodDelete, "/api/v1/users/me", issued.Token, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))

			status, _, body, err := env.call(http.MethodGet, "/api/v1/users/me", issued.Token, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body.ErrorDetails.Error).To(Equal(httpapi.CodeUserNotFound))

			status, _ = login(email, password)
			Expect(status).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("admission", func() {
		It("rejects requests over the per-path budget and exempts health", func() {
			for range 5 {
				status, header, _, err := env.call(http.MethodPost, "/api/v1/auth/login", "", creds{email, password})
				Expect(err).NotTo(HaveOccurred())
				Expect(status).To(Equal(http.StatusUnauthorized))
				Expect(header.Get(admission.HeaderLimit)).To(Equal("5"))
			}

			status, header, body, err := env.call(http.MethodPost, "/api/v1/auth/login", "", creds{email, password})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusTooManyRequests))
			Expect(header.Get(admission.HeaderRetryAfter)).NotTo(BeEmpty())
			Expect(body.ErrorDetails.Error).To(Equal(httpapi.CodeRateLimited))

			// other paths have their own budget
			register()

			for range 10 {
				status, _, _, err := env.call(http.MethodGet, httpapi.HealthPath, "", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(status).To(Equal(http.StatusOK))
			}
		})
	})
})
