package auth_test

import (
	"time"

	"github.com/frahmantamala/memory-permissions/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JWTTokenGenerator", func() {
	var gen *auth.JWTTokenGenerator

	BeforeEach(func() {
		gen = auth.NewJWTTokenGenerator(testSecret, "memory-permissions", time.Hour)
	})

	It("round-trips the user id", func() {
		token, err := gen.Issue("user-1")
		Expect(err).NotTo(HaveOccurred())

		id, err := gen.Verify(token)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("user-1"))
	})

	It("carries the id, sub and a one hour expiry", func() {
		token, err := gen.Issue("user-1")
		Expect(err).NotTo(HaveOccurred())

		claims := &auth.Claims{}
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.UserID).To(Equal("user-1"))
		Expect(claims.Subject).To(Equal("user-1"))
		Expect(claims.Issuer).To(Equal("memory-permissions"))
		Expect(claims.ExpiresAt.Sub(claims.IssuedAt.Time)).To(Equal(time.Hour))
	})

	It("rejects a token signed with another secret", func() {
		other := auth.NewJWTTokenGenerator("ffffffffffffffffffffffffffffffff", "memory-permissions", time.Hour)
		token, err := other.Issue("user-1")
		Expect(err).NotTo(HaveOccurred())

		_, err = gen.Verify(token)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an expired token", func() {
		short := auth.NewJWTTokenGenerator(testSecret, "memory-permissions", time.Millisecond)
		token, err := short.Issue("user-1")
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(1100 * time.Millisecond)
		_, err = gen.Verify(token)
		Expect(err).To(MatchError(jwt.ErrTokenExpired))
	})

	It("rejects tokens not signed with HS256", func() {
		claims := auth.Claims{
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "memory-permissions",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		Expect(err).NotTo(HaveOccurred())

		_, err = gen.Verify(token)
		Expect(err).To(MatchError(jwt.ErrTokenSignatureInvalid))
	})

	It("rejects tokens without an expiry", func() {
		claims := auth.Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "memory-permissions"}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		Expect(err).NotTo(HaveOccurred())

		_, err = gen.Verify(token)
		Expect(err).To(MatchError(jwt.ErrTokenRequiredClaimMissing))
	})

	It("rejects garbage", func() {
		_, err := gen.Verify("not-a-token")
		Expect(err).To(HaveOccurred())
	})
})
