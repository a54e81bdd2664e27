package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BearerTTL is how long a minted bearer cookie stays valid.
const BearerTTL = 24 * time.Hour

const editFlag = "1"

var (
	// ErrTokenInvalid covers every decrypt/parse/mismatch failure on a
	// bearer token. Internals are deliberately not distinguished so
	// nothing leaks to the client.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenExpired reports a token outside its validity window.
	ErrTokenExpired = errors.New("auth: token expired")
)

// BearerClaims is the decoded plaintext of a bearer cookie:
// word:timestamp[:editFlag].
type BearerClaims struct {
	Word      string
	Timestamp int64
	Edit      bool
}

// TokenCipher seals and opens short bearer tokens with AES-256-GCM
// keyed by the server secret.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives the AEAD key as sha256(secret).
func NewTokenCipher(secret string) (*TokenCipher, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Seal encrypts plaintext into a cookie-safe base64 token.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (c *TokenCipher) Open(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrTokenInvalid
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrTokenInvalid
	}
	return string(plaintext), nil
}

// MintBearer seals word:now[:editFlag] into a bearer cookie value.
func (c *TokenCipher) MintBearer(word string, edit bool, now int64) (string, error) {
	plaintext := word + ":" + strconv.FormatInt(now, 10)
	if edit {
		plaintext += ":" + editFlag
	}
	return c.Seal(plaintext)
}

// OpenBearer decrypts and parses a bearer cookie.
func (c *TokenCipher) OpenBearer(token string) (*BearerClaims, error) {
	plaintext, err := c.Open(token)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(plaintext, ":")
	if len(fields) != 2 && len(fields) != 3 {
		return nil, ErrTokenInvalid
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &BearerClaims{
		Word:      fields[0],
		Timestamp: ts,
		Edit:      len(fields) == 3 && fields[2] == editFlag,
	}, nil
}

// CheckBearer validates a bearer cookie against the resolved word at
// time now (epoch millis). When edit is true the cookie must carry the
// edit flag, so a view-minted cookie never unlocks edit routes. Future
// timestamps are rejected as a clock-skew guard.
func (c *TokenCipher) CheckBearer(token, word string, edit bool, now int64) error {
	claims, err := c.OpenBearer(token)
	if err != nil {
		return err
	}
	if claims.Word != word {
		return ErrTokenInvalid
	}
	if edit && !claims.Edit {
		return ErrTokenInvalid
	}
	if claims.Timestamp > now {
		return ErrTokenInvalid
	}
	if now-claims.Timestamp > BearerTTL.Milliseconds() {
		return ErrTokenExpired
	}
	return nil
}
