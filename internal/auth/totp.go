package auth

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	totpStep   = 30 * time.Second
	codeDigits = 6
	codeModulo = 1_000_000
)

// TOTPCodec issues six digit codes from an HMAC over the current time step.
// The HMAC key is derived from the server secret, the user's security stamp
// and a modifier naming the purpose and the user, so rotating the stamp
// invalidates every outstanding code. A code stays valid for at least ttl.
type TOTPCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTOTPCodec(secret []byte, ttl time.Duration, now func() time.Time) *TOTPCodec {
	if now == nil {
		now = time.Now
	}
	return &TOTPCodec{secret: secret, ttl: ttl, now: now}
}

func (c *TOTPCodec) Generate(_ context.Context, s Subject, purpose string) (string, error) {
	if s.SecurityStamp == "" {
		return "", ErrUserState
	}
	return hotp(c.key(s, purpose), c.counter()), nil
}

func (c *TOTPCodec) Verify(_ context.Context, s Subject, purpose, code string) bool {
	if s.SecurityStamp == "" || !isCode(code) {
		return false
	}

	key := c.key(s, purpose)
	current := c.counter()
	window := int64(c.ttl / totpStep)

	// Every step in the window is checked so timing does not depend on
	// which one matched.
	match := 0
	for i := int64(0); i <= window; i++ {
		match |= subtle.ConstantTimeCompare([]byte(hotp(key, current-i)), []byte(code))
	}
	return match == 1
}

func (c *TOTPCodec) counter() int64 {
	return c.now().Unix() / int64(totpStep/time.Second)
}

func (c *TOTPCodec) key(s Subject, purpose string) []byte {
	modifier := "PasswordlessLogin:" + purpose + ":" + s.Email
	return deriveKey(c.secret, []byte(s.SecurityStamp), "totp|"+s.UserID+"|"+modifier)
}

// hotp is RFC 4226 dynamic truncation over HMAC-SHA256.
func hotp(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	sum := macSum(key, msg[:])

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", codeDigits, bin%codeModulo)
}

func isCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
