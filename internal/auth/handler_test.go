package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/frahmantamala/memory-permissions/internal"
	"github.com/frahmantamala/memory-permissions/internal/auth"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(rec *httptest.ResponseRecorder) envelope {
	var env envelope
	Expect(json.Unmarshal(rec.Body.Bytes(), &env)).To(Succeed())
	return env
}

func decodeResult(rec *httptest.ResponseRecorder) auth.AuthResult {
	var result auth.AuthResult
	Expect(json.Unmarshal(decodeEnvelope(rec).Data, &result)).To(Succeed())
	return result
}

func bytesBody(s string) *bytes.Buffer {
	return bytes.NewBufferString(s)
}

var _ = Describe("Auth Handler", func() {
	var (
		handler *auth.Handler
		repo    *mockUserRepository
	)

	post := func(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	registerBob := func() auth.AuthResult {
		rec := post(handler.Register, `{"email":"bob@email.com","password":"secret","confirmPassword":"secret"}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		var result auth.AuthResult
		Expect(json.Unmarshal(decodeEnvelope(rec).Data, &result)).To(Succeed())
		return result
	}

	BeforeEach(func() {
		repo = newMockUserRepository()
		gen := auth.NewJWTTokenGenerator(testSecret, "memory-permissions", time.Hour)
		svc := auth.NewService(repo, gen, auth.Options{BCryptCost: bcrypt.MinCost}, logger.Discard())
		handler = auth.NewHandler(svc)
		handler.Logger = logger.Discard()
	})

	Describe("POST /auth/register", func() {
		It("returns 201 with the user and a token", func() {
			result := registerBob()
			Expect(result.Token).NotTo(BeEmpty())
			Expect(result.User.Email).To(Equal("bob@email.com"))
		})

		It("never serializes the password hash", func() {
			rec := post(handler.Register, `{"email":"bob@email.com","password":"secret","confirmPassword":"secret"}`)
			Expect(rec.Body.String()).NotTo(ContainSubstring("passwordHash"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("$2a$"))
		})

		It("returns 400 with the error text for a duplicate", func() {
			registerBob()
			rec := post(handler.Register, `{"email":"bob@email.com","password":"secret","confirmPassword":"secret"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			env := decodeEnvelope(rec)
			Expect(env.Success).To(BeFalse())
			Expect(env.Message).To(Equal("email already in use"))
		})

		It("returns 400 for a mismatched confirmation", func() {
			rec := post(handler.Register, `{"email":"bob@email.com","password":"a","confirmPassword":"b"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Message).To(Equal("passwords do not match"))
		})

		It("returns 400 for a malformed body", func() {
			rec := post(handler.Register, `{"email":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Message).To(Equal("invalid request body"))
		})

		It("hides store failures behind a generic 500", func() {
			repo.errorToReturn = errStoreDown
			rec := post(handler.Register, `{"email":"bob@email.com","password":"secret","confirmPassword":"secret"}`)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(decodeEnvelope(rec).Message).To(Equal("internal server error"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("store down"))
		})
	})

	Describe("POST /auth/login", func() {
		BeforeEach(func() { registerBob() })

		It("returns 200 with a token", func() {
			rec := post(handler.Login, `{"email":"bob@email.com","password":"secret"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeEnvelope(rec).Success).To(BeTrue())
		})

		It("returns 401 for a wrong password", func() {
			rec := post(handler.Login, `{"email":"bob@email.com","password":"nope"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeEnvelope(rec).Message).To(Equal("invalid credentials"))
		})

		It("returns 401 for an unknown user", func() {
			rec := post(handler.Login, `{"email":"ghost@email.com","password":"secret"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeEnvelope(rec).Message).To(Equal("user not found"))
		})
	})

	Describe("GET /auth/verify-token and AuthMiddleware", func() {
		verify := func(authHeader string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if authHeader != "" {
				req.Header.Set("Authorization", authHeader)
			}
			rec := httptest.NewRecorder()
			handler.VerifyToken(rec, req)
			return rec
		}

		It("returns the user for a valid token", func() {
			result := registerBob()
			rec := verify("Bearer " + result.Token)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body auth.VerifyResponse
			Expect(json.Unmarshal(decodeEnvelope(rec).Data, &body)).To(Succeed())
			Expect(body.User.ID).To(Equal(result.User.ID))
		})

		It("returns 401 when the header is missing", func() {
			rec := verify("")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeEnvelope(rec).Message).To(Equal("no authentication token provided"))
		})

		It("returns 401 for an invalid token", func() {
			rec := verify("Bearer garbage")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeEnvelope(rec).Message).To(Equal("invalid or expired token"))
		})

		It("puts the identity in the request context", func() {
			result := registerBob()

			var seen *internal.User
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = internal.UserFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
			req.Header.Set("Authorization", "Bearer "+result.Token)
			rec := httptest.NewRecorder()
			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(seen).NotTo(BeNil())
			Expect(seen.ID).To(Equal(result.User.ID))
			Expect(seen.Email).To(Equal("bob@email.com"))
		})

		It("stops unauthenticated requests", func() {
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

			rec := httptest.NewRecorder()
			handler.AuthMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(called).To(BeFalse())
		})
	})
})
