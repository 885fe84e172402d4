package keygen

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var keyPattern = regexp.MustCompile(`^CB(-[0-9A-F]{4}){5}$`)

func TestGenerateFormat(t *testing.T) {
	key := Generate("backup-manager", "alice@example.com")
	assert.Regexp(t, keyPattern, key)
}

func TestGenerateIsSalted(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key := Generate("backup-manager", "alice@example.com")
		assert.False(t, seen[key], "duplicate key generated: %s", key)
		seen[key] = true
	}
}

func TestGenerateDoesNotEmbedEmail(t *testing.T) {
	key := Generate("backup-manager", "alice@example.com")
	assert.NotContains(t, key, "alice")
	assert.NotContains(t, key, "example")
}

func TestDeriveCustomerID(t *testing.T) {
	id := DeriveCustomerID("alice@example.com")
	assert.Len(t, id, 16)

	// Deterministic: same email, same id
	assert.Equal(t, id, DeriveCustomerID("alice@example.com"))

	// Normalized: case and surrounding whitespace do not matter
	assert.Equal(t, id, DeriveCustomerID("  Alice@Example.COM "))

	// Different emails map to different ids
	assert.NotEqual(t, id, DeriveCustomerID("bob@example.com"))
}
