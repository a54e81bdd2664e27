// Package auth provides password hashing, token sealing and the
// per-request authentication gate.
package auth

import (
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters tuned for per-request verification on small
// deployments: time=1, memory=6MiB, parallelism=1, 32-byte output.
const (
	argonTime    = 1
	argonMemory  = 6 * 1024
	argonThreads = 1
	argonKeyLen  = 32
)

// PasswordHasher derives deterministic, salted password hashes. The salt
// is serverSecret + ":" + word, binding each hash to both the server
// secret and the resource identity: equal passwords under different
// words never collide, and rotating the secret invalidates every stored
// hash.
type PasswordHasher struct {
	secret string
}

// NewPasswordHasher creates a hasher keyed by the server secret.
func NewPasswordHasher(secret string) *PasswordHasher {
	return &PasswordHasher{secret: secret}
}

// Hash returns the base64-encoded Argon2id hash of password for word.
func (h *PasswordHasher) Hash(password, word string) string {
	salt := []byte(h.secret + ":" + word)
	sum := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(sum)
}

// Verify recomputes the hash and compares in constant time.
func (h *PasswordHasher) Verify(password, stored, word string) bool {
	if stored == "" {
		return false
	}
	computed := h.Hash(password, word)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}
