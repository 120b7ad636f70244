// Package util holds identifier helpers shared by the auth and document
// services.
package util

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

const tokenBytes = 32

// NewID returns a URL-safe random token. A non-empty prefix is joined with
// an underscore, as in "rft_...".
func NewID(prefix string) string {
	buf := make([]byte, tokenBytes)
	_, _ = rand.Read(buf)
	token := base64.RawURLEncoding.EncodeToString(buf)
	if prefix == "" {
		return token
	}
	return prefix + "_" + token
}

// NewUUID returns a v4 UUID for rows keyed by uuid columns.
func NewUUID() string {
	return uuid.NewString()
}
