package auth

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type protectedClaims struct {
	Purpose string `json:"purpose"`
	Stamp   string `json:"stamp"`
	jwt.RegisteredClaims
}

// ProtectorCodec issues opaque, URL-safe tokens for links and longer-lived
// codes: an HS256 JWT naming the user and purpose and carrying a digest of
// the security stamp it was issued under.
type ProtectorCodec struct {
	name   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProtectorCodec(name string, secret []byte, ttl time.Duration, now func() time.Time) *ProtectorCodec {
	if now == nil {
		now = time.Now
	}
	return &ProtectorCodec{name: name, secret: secret, ttl: ttl, now: now}
}

func (c *ProtectorCodec) Generate(_ context.Context, s Subject, purpose string) (string, error) {
	if s.SecurityStamp == "" {
		return "", ErrUserState
	}

	key := c.key(purpose)
	issuedAt := c.now()
	claims := protectedClaims{
		Purpose: purpose,
		Stamp:   stampDigest(key, s.SecurityStamp),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", c.name, err)
	}
	return token, nil
}

func (c *ProtectorCodec) Verify(_ context.Context, s Subject, purpose, token string) bool {
	if s.SecurityStamp == "" || token == "" {
		return false
	}

	key := c.key(purpose)
	var claims protectedClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(s.UserID),
	)
	if err != nil {
		return false
	}

	if claims.Purpose != purpose {
		return false
	}
	return hmac.Equal([]byte(claims.Stamp), []byte(stampDigest(key, s.SecurityStamp)))
}

func (c *ProtectorCodec) key(purpose string) []byte {
	return deriveKey(c.secret, nil, "protector|"+c.name+"|"+purpose)
}

func stampDigest(key []byte, stamp string) string {
	return base64.RawURLEncoding.EncodeToString(macSum(key, []byte("stamp|"), []byte(stamp)))
}
