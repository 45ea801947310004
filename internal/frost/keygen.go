package frost

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tyler-smith/go-bip39"

	"github.com/chaumfed/fedwallet/internal/models"
)

// GenerateTrustedDealer runs a Shamir/Feldman-style trusted-dealer key
// generation: a random degree-(threshold-1) polynomial over the scalar
// field is sampled, peer i's share is the polynomial evaluated at x=i,
// and the group public key is the polynomial's constant term times G.
//
// This stands in for FROST's distributed key-generation protocol, which
// this module treats as opaque infrastructure outside its scope (see
// DESIGN.md); it is enough to exercise and test the signing path
// end-to-end, and is explicitly not meant as a substitute for a real DKG
// in a production federation where no single party may ever learn every
// peer's secret share.
func GenerateTrustedDealer(threshold, numPeers int) (*KeyGenResult, error) {
	if threshold < 1 || threshold > numPeers {
		return nil, fmt.Errorf("frost: invalid threshold %d for %d peers", threshold, numPeers)
	}

	coefficients := make([]*btcec.ModNScalar, threshold)
	for i := range coefficients {
		s, err := randomScalar()
		if err != nil {
			return nil, fmt.Errorf("sample polynomial coefficient: %w", err)
		}
		coefficients[i] = s
	}

	secretShares := make(map[models.PeerID]*btcec.ModNScalar, numPeers)
	verificationShares := make(map[models.PeerID]*btcec.PublicKey, numPeers)
	for i := 1; i <= numPeers; i++ {
		peer := models.PeerID(i)
		share := evaluatePolynomial(coefficients, uint32(i))
		secretShares[peer] = share
		verificationShares[peer] = scalarBaseMultPublic(share)
	}

	return &KeyGenResult{
		Threshold:          threshold,
		NumPeers:           numPeers,
		GroupPublicKey:     scalarBaseMultPublic(coefficients[0]),
		VerificationShares: verificationShares,
		SecretShares:       secretShares,
	}, nil
}

// GenerateFromMnemonic runs the same trusted-dealer key generation as
// GenerateTrustedDealer, but derives its polynomial coefficients
// deterministically from a BIP-39 mnemonic instead of crypto/rand: this
// is the standalone/demo keygen path, where a single operator wants a
// reproducible federation key from a backed-up phrase rather than
// genuinely-random, unrecoverable dealer state. Coefficient i is
// HMAC-SHA256(key=seed, msg="frost-coefficient" || be_uint32(i)) reduced
// mod the curve order, the same construction internal/tweak and
// internal/frost's nonce derivation already use to turn a secret and a
// domain-separated label into a scalar.
func GenerateFromMnemonic(mnemonic string, threshold, numPeers int) (*KeyGenResult, error) {
	if threshold < 1 || threshold > numPeers {
		return nil, fmt.Errorf("frost: invalid threshold %d for %d peers", threshold, numPeers)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("frost: invalid mnemonic")
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("frost: derive seed from mnemonic: %w", err)
	}

	coefficients := make([]*btcec.ModNScalar, threshold)
	for i := range coefficients {
		coefficients[i] = deriveCoefficientScalar(seed, uint32(i))
	}

	secretShares := make(map[models.PeerID]*btcec.ModNScalar, numPeers)
	verificationShares := make(map[models.PeerID]*btcec.PublicKey, numPeers)
	for i := 1; i <= numPeers; i++ {
		peer := models.PeerID(i)
		share := evaluatePolynomial(coefficients, uint32(i))
		secretShares[peer] = share
		verificationShares[peer] = scalarBaseMultPublic(share)
	}

	return &KeyGenResult{
		Threshold:          threshold,
		NumPeers:           numPeers,
		GroupPublicKey:     scalarBaseMultPublic(coefficients[0]),
		VerificationShares: verificationShares,
		SecretShares:       secretShares,
	}, nil
}

func deriveCoefficientScalar(seed []byte, index uint32) *btcec.ModNScalar {
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], index)

	mac := hmac.New(sha256.New, seed)
	mac.Write([]byte("frost-coefficient"))
	mac.Write(idxBytes[:])
	sum := mac.Sum(nil)

	var s btcec.ModNScalar
	s.SetByteSlice(sum)
	return &s
}

// evaluatePolynomial computes sum_k(coefficients[k] * x^k) mod N using
// Horner's method.
func evaluatePolynomial(coefficients []*btcec.ModNScalar, x uint32) *btcec.ModNScalar {
	xScalar := scalarFromUint32(x)
	var acc btcec.ModNScalar
	for i := len(coefficients) - 1; i >= 0; i-- {
		acc.Mul(xScalar)
		acc.Add(coefficients[i])
	}
	return &acc
}

func randomScalar() (*btcec.ModNScalar, error) {
	buf := make([]byte, 32)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		var s btcec.ModNScalar
		overflow := s.SetByteSlice(buf)
		if overflow || s.IsZero() {
			continue
		}
		return &s, nil
	}
}

func scalarBaseMultPublic(s *btcec.ModNScalar) *btcec.PublicKey {
	var pointJ btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(s, &pointJ)
	pointJ.ToAffine()
	return btcec.NewPublicKey(&pointJ.X, &pointJ.Y)
}
