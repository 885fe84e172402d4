package keygen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

const (
	keyPrefix = "CB"
	keyChars  = 20 // rendered as 5 groups of 4
)

// Generate produces a license key of the form CB-XXXX-XXXX-XXXX-XXXX-XXXX.
// The key is a truncated one-way digest of the plugin id, customer email,
// current time and a random salt, so it cannot be inverted to recover the
// email. Uniqueness is probabilistic; the store's unique index on
// license_key is the final authority and issuance retries on collision.
func Generate(pluginID, customerEmail string) string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// issuing keys without it is not an option
		panic("keygen: entropy source unavailable: " + err.Error())
	}

	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(time.Now().UnixNano()))

	h := sha3.New256()
	h.Write([]byte(pluginID))
	h.Write([]byte(customerEmail))
	h.Write(ts)
	h.Write(salt)

	digest := strings.ToUpper(hex.EncodeToString(h.Sum(nil)))[:keyChars]

	groups := make([]string, 0, keyChars/4+1)
	groups = append(groups, keyPrefix)
	for i := 0; i < keyChars; i += 4 {
		groups = append(groups, digest[i:i+4])
	}
	return strings.Join(groups, "-")
}

// DeriveCustomerID maps a customer email to a stable opaque id. Unlike
// Generate this is deterministic (no salt, no timestamp): the same email
// always yields the same customer id.
func DeriveCustomerID(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
