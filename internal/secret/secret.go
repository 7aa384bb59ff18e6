// Package secret derives Alice's per-swap secret deterministically from
// the node's root seed, so a restart never loses the ability to redeem a
// swap it initiated.
package secret

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Secret is the 32-byte pre-image Alice reveals by redeeming beta.
type Secret [32]byte

// Hash is the SHA-256 of a Secret, the value distributed to Bob during
// negotiation before the secret itself exists on any chain.
type Hash [32]byte

// Derive computes Alice's secret for one swap as HMAC-SHA256(rootSeed,
// localSwapID), so the same (rootSeed, localSwapID) pair always yields
// the same secret across process restarts.
func Derive(rootSeed []byte, localSwapID []byte) Secret {
	mac := hmac.New(sha256.New, rootSeed)
	mac.Write(localSwapID)
	var s Secret
	copy(s[:], mac.Sum(nil))
	return s
}

// Hash returns sha256(s), the value shared with Bob during the
// secret-hash negotiation stage.
func (s Secret) Hash() Hash {
	return Hash(sha256.Sum256(s[:]))
}

// Verify reports whether s hashes to h.
func (s Secret) Verify(h Hash) bool {
	return hmac.Equal(s.Hash()[:], h[:])
}
