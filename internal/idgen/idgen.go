// Package idgen mints random identifiers for ledger records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 hex characters drawn from
// crypto/rand, e.g. WithPrefix("evt_"). 96 bits of randomness makes
// collisions a non-concern at ledger scale.
func WithPrefix(prefix string) string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform itself is broken.
		panic("idgen: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
