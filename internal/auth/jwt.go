package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"autoblog/internal/models"
)

var (
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrSessionTokenExpired = errors.New("session token expired")
)

// SessionClaims is the payload of the session cookie. The JWT ID is the
// server-side session ID.
type SessionClaims struct {
	Method     string `json:"amr"`
	Persistent bool   `json:"persistent,omitempty"`
	jwt.RegisteredClaims
}

// SessionTokenService signs and validates session cookie values.
type SessionTokenService struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewSessionTokenService(secret []byte, issuer string, now func() time.Time) *SessionTokenService {
	if now == nil {
		now = time.Now
	}
	return &SessionTokenService{
		key:    deriveKey(secret, nil, "session-cookie"),
		issuer: issuer,
		now:    now,
	}
}

func (s *SessionTokenService) Issue(session *models.Session) (string, error) {
	claims := SessionClaims{
		Method:     session.AuthMethod,
		Persistent: session.Persistent,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}

func (s *SessionTokenService) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	if !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidSessionToken
	}
	return claims, nil
}
