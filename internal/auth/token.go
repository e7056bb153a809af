package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"autoblog/internal/models"
)

// Token provider names.
const (
	ProviderDefault               = "Default"
	ProviderPasswordlessLogin     = "PasswordlessLoginProvider"
	ProviderPasswordlessLoginTOTP = "PasswordlessLoginTotpProvider"
)

// Token purposes. A code minted for one purpose never verifies for another.
const (
	PurposePasswordless      = "passwordless-auth"
	PurposeEmailConfirmation = "EmailConfirmation"
	PurposeResetPassword     = "ResetPassword"
)

var (
	// ErrUserState means the user record cannot back a token: it has no
	// security stamp to bind the token to.
	ErrUserState       = errors.New("user has no security stamp")
	ErrUnknownProvider = errors.New("unknown token provider")
)

// Subject is the slice of a user that tokens are bound to.
type Subject struct {
	UserID        string
	Email         string
	SecurityStamp string
}

func SubjectOf(u *models.User) Subject {
	return Subject{
		UserID:        u.ID,
		Email:         u.NormalizedEmail,
		SecurityStamp: u.SecurityStamp,
	}
}

// Codec mints and checks purpose-scoped tokens bound to a user's current
// security stamp. Verify reports only true or false; callers learn nothing
// about why a token was rejected.
type Codec interface {
	Generate(ctx context.Context, s Subject, purpose string) (string, error)
	Verify(ctx context.Context, s Subject, purpose, token string) bool
}

// Registry maps provider names to codecs. The set of providers is fixed when
// the registry is built.
type Registry struct {
	codecs map[string]Codec
}

type RegistryConfig struct {
	Secret []byte
	// PasswordlessTTL bounds both passwordless providers.
	PasswordlessTTL time.Duration
	// DataProtectionTTL bounds the default provider used for email
	// confirmation and password reset tokens.
	DataProtectionTTL time.Duration
	Now               func() time.Time
}

func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		codecs: map[string]Codec{
			ProviderDefault:               NewProtectorCodec(ProviderDefault, cfg.Secret, cfg.DataProtectionTTL, now),
			ProviderPasswordlessLogin:     NewProtectorCodec(ProviderPasswordlessLogin, cfg.Secret, cfg.PasswordlessTTL, now),
			ProviderPasswordlessLoginTOTP: NewTOTPCodec(cfg.Secret, cfg.PasswordlessTTL, now),
		},
	}
}

func (r *Registry) Lookup(provider string) (Codec, error) {
	codec, ok := r.codecs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return codec, nil
}

func (r *Registry) Generate(ctx context.Context, provider string, s Subject, purpose string) (string, error) {
	codec, err := r.Lookup(provider)
	if err != nil {
		return "", err
	}
	return codec.Generate(ctx, s, purpose)
}

// Verify is false for unknown providers as well as bad tokens.
func (r *Registry) Verify(ctx context.Context, provider string, s Subject, purpose, token string) bool {
	codec, err := r.Lookup(provider)
	if err != nil {
		return false
	}
	return codec.Verify(ctx, s, purpose, token)
}

// deriveKey expands the server secret into an independent key per use.
func deriveKey(secret, salt []byte, info string) []byte {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return key
}

func macSum(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}
