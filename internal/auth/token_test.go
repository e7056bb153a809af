package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(RegistryConfig{
		Secret:            testSecret,
		PasswordlessTTL:   5 * time.Minute,
		DataProtectionTTL: 24 * time.Hour,
		Now:               clock.Now,
	})
}

func testSubject(stamp string) Subject {
	return Subject{UserID: "usr_1", Email: "user1@example.com", SecurityStamp: stamp}
}

func TestRegistryRoundTripEveryProvider(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	registry := newTestRegistry(clock)
	subject := testSubject("stamp-1")

	for _, provider := range []string{ProviderDefault, ProviderPasswordlessLogin, ProviderPasswordlessLoginTOTP} {
		t.Run(provider, func(t *testing.T) {
			code, err := registry.Generate(ctx, provider, subject, PurposePasswordless)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if !registry.Verify(ctx, provider, subject, PurposePasswordless, code) {
				t.Fatalf("Verify(%q) = false, want true", code)
			}
		})
	}
}

func TestRegistryRotatedStampInvalidatesCodes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	registry := newTestRegistry(clock)

	for _, provider := range []string{ProviderDefault, ProviderPasswordlessLogin, ProviderPasswordlessLoginTOTP} {
		t.Run(provider, func(t *testing.T) {
			code, err := registry.Generate(ctx, provider, testSubject("stamp-old"), PurposePasswordless)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if registry.Verify(ctx, provider, testSubject("stamp-new"), PurposePasswordless, code) {
				t.Fatal("Verify() after stamp rotation = true, want false")
			}
		})
	}
}

func TestRegistryPurposeIsolation(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	registry := newTestRegistry(clock)
	subject := testSubject("stamp-1")

	for _, provider := range []string{ProviderDefault, ProviderPasswordlessLoginTOTP} {
		code, err := registry.Generate(ctx, provider, subject, PurposeResetPassword)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if registry.Verify(ctx, provider, subject, PurposePasswordless, code) {
			t.Fatalf("%s: code for %q verified for %q", provider, PurposeResetPassword, PurposePasswordless)
		}
	}
}

func TestRegistryProvidersDoNotShareTokens(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	registry := newTestRegistry(clock)
	subject := testSubject("stamp-1")

	token, err := registry.Generate(ctx, ProviderDefault, subject, PurposePasswordless)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if registry.Verify(ctx, ProviderPasswordlessLogin, subject, PurposePasswordless, token) {
		t.Fatal("token from the default provider verified under the passwordless provider")
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := newTestRegistry(&fakeClock{t: time.Now()})

	if _, err := registry.Generate(context.Background(), "Nope", testSubject("s"), PurposePasswordless); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("Generate() error = %v, want ErrUnknownProvider", err)
	}
	if registry.Verify(context.Background(), "Nope", testSubject("s"), PurposePasswordless, "123456") {
		t.Fatal("Verify() with unknown provider = true")
	}
}

func TestCodecsRequireSecurityStamp(t *testing.T) {
	registry := newTestRegistry(&fakeClock{t: time.Now()})

	for _, provider := range []string{ProviderDefault, ProviderPasswordlessLoginTOTP} {
		_, err := registry.Generate(context.Background(), provider, testSubject(""), PurposePasswordless)
		if !errors.Is(err, ErrUserState) {
			t.Fatalf("%s: Generate() error = %v, want ErrUserState", provider, err)
		}
	}
}

func TestTOTPCodecExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 29, 0, time.UTC)}
	codec := NewTOTPCodec(testSecret, 5*time.Minute, clock.Now)
	subject := testSubject("stamp-1")

	code, err := codec.Generate(ctx, subject, PurposePasswordless)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	clock.Advance(5*time.Minute - time.Second)
	if !codec.Verify(ctx, subject, PurposePasswordless, code) {
		t.Fatal("Verify() just inside the TTL = false, want true")
	}

	clock.Advance(time.Minute + time.Second)
	if codec.Verify(ctx, subject, PurposePasswordless, code) {
		t.Fatal("Verify() after the TTL = true, want false")
	}
}

func TestTOTPCodecFormat(t *testing.T) {
	codec := NewTOTPCodec(testSecret, 5*time.Minute, nil)
	code, err := codec.Generate(context.Background(), testSubject("stamp-1"), PurposePasswordless)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !isCode(code) {
		t.Fatalf("code = %q, want six digits", code)
	}

	for _, bad := range []string{"", "12345", "1234567", "12a456", " 12345"} {
		if codec.Verify(context.Background(), testSubject("stamp-1"), PurposePasswordless, bad) {
			t.Fatalf("Verify(%q) = true, want false", bad)
		}
	}
}

func TestTOTPCodecBindsEmail(t *testing.T) {
	ctx := context.Background()
	codec := NewTOTPCodec(testSecret, 5*time.Minute, nil)
	subject := testSubject("stamp-1")

	code, err := codec.Generate(ctx, subject, PurposePasswordless)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	other := subject
	other.Email = "someone@example.com"
	if codec.Verify(ctx, other, PurposePasswordless, code) {
		t.Fatal("code verified for a different email")
	}
}

func TestProtectorCodecRejectsExpiredAndTampered(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec := NewProtectorCodec(ProviderDefault, testSecret, time.Hour, clock.Now)
	subject := testSubject("stamp-1")

	token, err := codec.Generate(ctx, subject, PurposeEmailConfirmation)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token %q is not URL safe", token)
	}

	suffix := "xx"
	if strings.HasSuffix(token, suffix) {
		suffix = "yy"
	}
	tampered := token[:len(token)-2] + suffix
	if codec.Verify(ctx, subject, PurposeEmailConfirmation, tampered) {
		t.Fatal("Verify(tampered) = true, want false")
	}

	otherUser := subject
	otherUser.UserID = "usr_2"
	if codec.Verify(ctx, otherUser, PurposeEmailConfirmation, token) {
		t.Fatal("Verify() for another user = true, want false")
	}

	clock.Advance(time.Hour + time.Second)
	if codec.Verify(ctx, subject, PurposeEmailConfirmation, token) {
		t.Fatal("Verify(expired) = true, want false")
	}
}
