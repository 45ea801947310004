// Package frost implements FROST (Flexible Round-Optimized Schnorr
// Threshold signatures), adapted for BIP-340/341 taproot key-path
// signing, as an opaque module exposing exactly the operations the
// wallet's peg-out coordinator (C7) needs: deterministic nonce
// generation, a two-round sign session, signature-share verification,
// and combination into a single 64-byte Schnorr signature that verifies
// against the tweaked output key.
//
// Key generation in this package uses a trusted dealer (a single party
// samples a Shamir-shared polynomial and distributes shares) rather than
// a full distributed key-generation protocol; see DESIGN.md for why a
// DKG round is out of scope here.
package frost

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// curveOrder is the order of the secp256k1 base point, used for modular
// inversion (Lagrange coefficients) via math/big since ModNScalar itself
// only exposes multiplication and addition, not division.
var curveOrder, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

func scalarFromUint32(v uint32) *btcec.ModNScalar {
	var s btcec.ModNScalar
	s.SetInt(v)
	return &s
}

func scalarNegate(s *btcec.ModNScalar) *btcec.ModNScalar {
	n := *s
	n.Negate()
	return &n
}

func scalarSub(a, b *btcec.ModNScalar) *btcec.ModNScalar {
	var out btcec.ModNScalar
	out.Add2(a, scalarNegate(b))
	return &out
}

func scalarInverse(s *btcec.ModNScalar) *btcec.ModNScalar {
	raw := s.Bytes()
	bi := new(big.Int).SetBytes(raw[:])
	bi.ModInverse(bi, curveOrder)

	buf := make([]byte, 32)
	bi.FillBytes(buf)

	var inv btcec.ModNScalar
	inv.SetByteSlice(buf)
	return &inv
}

// scalarMult returns k*point for an arbitrary curve point (not just the
// base point), needed for the rho_i*E_i terms in nonce aggregation and
// for signature-share verification against public verification shares.
func scalarMult(point *btcec.PublicKey, k *btcec.ModNScalar) *btcec.PublicKey {
	var pointJ, resultJ btcec.JacobianPoint
	point.AsJacobian(&pointJ)
	btcec.ScalarMultNonConst(k, &pointJ, &resultJ)
	resultJ.ToAffine()
	return btcec.NewPublicKey(&resultJ.X, &resultJ.Y)
}

// hasEvenY reports whether p's y-coordinate is even, the BIP-340
// convention a valid x-only signing key must satisfy.
func hasEvenY(p *btcec.PublicKey) bool {
	return p.SerializeCompressed()[0] == 0x02
}

// negatePublicKey returns -p (same x-coordinate, flipped y-parity).
func negatePublicKey(p *btcec.PublicKey) *btcec.PublicKey {
	var pJ btcec.JacobianPoint
	p.AsJacobian(&pJ)
	pJ.Y.Negate(1)
	pJ.Y.Normalize()
	pJ.ToAffine()
	return btcec.NewPublicKey(&pJ.X, &pJ.Y)
}
