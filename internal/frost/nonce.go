package frost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mr-tron/base58"
)

// SigningID derives the per-input session id sid = be_bytes(inputIndex)
// || txid used to bind nonce generation to a specific input so the same
// nonce is never reused across transactions or inputs.
func SigningID(inputIndex uint32, txid chainhash.Hash) []byte {
	sid := make([]byte, 4+chainhash.HashSize)
	binary.BigEndian.PutUint32(sid[:4], inputIndex)
	copy(sid[4:], txid[:])
	return sid
}

// GenNonce deterministically derives a FROST nonce pair (d, e) from a
// peer's secret share and a signing id: d and e are each
// HMAC-SHA256(secret, sid || label) reduced mod the curve order. Nonce
// generation is therefore a pure function of (secret, sid) — re-deriving
// at signing time reproduces exactly the public commitment emitted
// earlier at nonce-emission time, with nothing to persist in between.
func GenNonce(secret *btcec.ModNScalar, sid []byte) (d, e *btcec.ModNScalar) {
	secretBytes := secret.Bytes()
	d = deriveNonceScalar(secretBytes[:], sid, "nonce-d")
	e = deriveNonceScalar(secretBytes[:], sid, "nonce-e")
	return d, e
}

func deriveNonceScalar(secret, sid []byte, label string) *btcec.ModNScalar {
	mac := hmac.New(sha256.New, secret)
	mac.Write(sid)
	mac.Write([]byte(label))
	sum := mac.Sum(nil)

	var s btcec.ModNScalar
	s.SetByteSlice(sum)
	return &s
}

// DisplaySigningID base58-encodes a signing id for log lines, the same
// way a peer id or session id gets a short human-readable form rather
// than a raw hex blob.
func DisplaySigningID(sid []byte) string {
	return base58.Encode(sid)
}

// DerivePublicNonce derives the public nonce commitment (D, E) a peer
// publishes for the given secret share and signing id; callers wrap the
// result with NonceCommitment.ToWire(peerID) to place it on the wire.
func DerivePublicNonce(secret *btcec.ModNScalar, sid []byte) NonceCommitment {
	d, e := GenNonce(secret, sid)
	return NonceCommitment{
		D: scalarBaseMultPublic(d),
		E: scalarBaseMultPublic(e),
	}
}
