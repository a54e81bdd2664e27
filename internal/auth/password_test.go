package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashDeterministic(t *testing.T) {
	h := NewPasswordHasher("test-secret")

	assert.Equal(t, h.Hash("secret", "demo01"), h.Hash("secret", "demo01"))
}

func TestHashBoundToWord(t *testing.T) {
	h := NewPasswordHasher("test-secret")

	assert.NotEqual(t, h.Hash("secret", "demo01"), h.Hash("secret", "demo02"))
}

func TestHashBoundToServerSecret(t *testing.T) {
	h1 := NewPasswordHasher("secret-one")
	h2 := NewPasswordHasher("secret-two")

	assert.NotEqual(t, h1.Hash("secret", "demo01"), h2.Hash("secret", "demo01"))
}

func TestVerify(t *testing.T) {
	h := NewPasswordHasher("test-secret")
	stored := h.Hash("secret", "demo01")

	assert.True(t, h.Verify("secret", stored, "demo01"))
	assert.False(t, h.Verify("wrong", stored, "demo01"))
	assert.False(t, h.Verify("secret", stored, "demo02"))
	assert.False(t, h.Verify("secret", "", "demo01"))
}
