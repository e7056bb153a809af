package db

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"

	"autoblog/internal/constants"
)

func generateID(prefix string) (string, error) {
	b := make([]byte, constants.IDRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

// NewSecurityStamp returns a fresh opaque stamp value.
func NewSecurityStamp() string {
	return uuid.NewString()
}
