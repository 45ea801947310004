package frost

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/chaumfed/fedwallet/internal/models"
)

// NonceCommitment is the public half of a single-round FROST nonce pair:
// D = d*G, E = e*G. Peers exchange these (as models.FrostNonce on the
// wire) before any signing can start.
type NonceCommitment struct {
	D *btcec.PublicKey
	E *btcec.PublicKey
}

// ParseNonce decodes a wire-format FrostNonce into its curve points.
func ParseNonce(n models.FrostNonce) (NonceCommitment, error) {
	d, err := btcec.ParsePubKey(n.D[:])
	if err != nil {
		return NonceCommitment{}, err
	}
	e, err := btcec.ParsePubKey(n.E[:])
	if err != nil {
		return NonceCommitment{}, err
	}
	return NonceCommitment{D: d, E: e}, nil
}

// ToWire encodes a NonceCommitment as the wire-format FrostNonce for the
// given peer.
func (n NonceCommitment) ToWire(peer models.PeerID) models.FrostNonce {
	var wire models.FrostNonce
	wire.Peer = peer
	copy(wire.D[:], n.D.SerializeCompressed())
	copy(wire.E[:], n.E.SerializeCompressed())
	return wire
}

// KeyGenResult is the output of trusted-dealer key generation: the
// group's aggregate public key, every participant's public verification
// share (P_i = s_i*G, needed to verify individual signature shares), and
// every participant's private share. A real federation peer retains only
// its own entry of SecretShares; the dealer-held full map exists so this
// package can be exercised end-to-end in tests and single-process demo
// wiring.
type KeyGenResult struct {
	Threshold          int
	NumPeers           int
	GroupPublicKey     *btcec.PublicKey
	VerificationShares map[models.PeerID]*btcec.PublicKey
	SecretShares       map[models.PeerID]*btcec.ModNScalar
}
