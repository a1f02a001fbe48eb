package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenGenerator issues and verifies identity tokens.
type TokenGenerator interface {
	Issue(userID string) (string, error)
	Verify(token string) (string, error)
}

// Claims represents JWT token claims
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

type JWTTokenGenerator struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	now    func() time.Time
}

var errTokenInvalid = errors.New("token invalid")

// NewJWTTokenGenerator creates a HS256 token generator
func NewJWTTokenGenerator(secret, issuer string, ttl time.Duration) *JWTTokenGenerator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTTokenGenerator{
		Secret: []byte(secret),
		Issuer: issuer,
		TTL:    ttl,
		now:    time.Now,
	}
}

func (j *JWTTokenGenerator) Issue(userID string) (string, error) {
	now := j.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Verify returns the user id carried by a valid, unexpired HS256 token.
func (j *JWTTokenGenerator) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", errTokenInvalid
	}
	return claims.UserID, nil
}
