package frost

import "crypto/sha256"

// taggedHash implements the BIP-340 tagged hash construction:
// SHA256(SHA256(tag) || SHA256(tag) || data...). btcec/v2's own
// schnorr package computes this internally but does not export it, so
// it is reproduced here — it is a two-line, fully public algorithm, not
// a meaningful piece of library functionality to fall back to the
// standard library for.
func taggedHash(tag string, data ...[]byte) [32]byte {
	tagSum := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagSum[:])
	h.Write(tagSum[:])
	for _, d := range data {
		h.Write(d)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
