package frost

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"

	"github.com/chaumfed/fedwallet/internal/tweak"
)

// signingTweak carries everything a FROST signer needs to sign under a
// tweaked taproot output key, derived per the key-tweak design (§4.1) and
// adapted for BIP-340's even-y convention. A valid x-only signing key
// corresponds to a *scalar* only once any odd-y intermediate point along
// the derivation has been corrected by negation; since the secret itself
// is Shamir-shared and no party ever reconstructs it, those corrections
// are folded into the public sign/verify equations (signFactor,
// constFactor) rather than applied to any one secret value directly —
// the standard approach used by BIP-340-adapted FROST signing schemes.
type signingTweak struct {
	// signFactor is +1 or -1, applied to every participant's share
	// contribution before combination.
	signFactor *btcec.ModNScalar
	// constFactor is the public scalar added once at combination time
	// (not contributed by any single signer), folding in both the
	// per-UTXO HMAC tweak and the BIP-341 TapTweak.
	constFactor *btcec.ModNScalar
	// outputKeyXOnly is the 32-byte x-only taproot output key this
	// session signs under.
	outputKeyXOnly [32]byte
}

var one = func() *btcec.ModNScalar { var s btcec.ModNScalar; s.SetInt(1); return &s }()

// deriveSigningTweak computes the HMAC additive tweak and BIP-341
// TapTweak for spending tweak t from aggregatePub, returning the
// sign/verify correction factors and the resulting x-only output key.
func deriveSigningTweak(aggregatePub *btcec.PublicKey, t []byte) signingTweak {
	h := tweak.Hash(aggregatePub, t)
	additiveTweaked := tweak.AdditiveTweak(aggregatePub, h)

	negateAdditive := !hasEvenY(additiveTweaked)
	signFactor := one
	if negateAdditive {
		signFactor = scalarNegate(one)
	}

	// The TapTweak hash, and the output key built from it, must be
	// computed from the even-y representative of additiveTweaked — the
	// x-only lift BIP-341 defines.
	additiveEven := additiveTweaked
	if negateAdditive {
		additiveEven = negatePublicKey(additiveTweaked)
	}

	outputFull := txscript.ComputeTaprootKeyNoScript(additiveEven)
	negateOutput := !hasEvenY(outputFull)

	tapTweakScalar := tapTweakHash(additiveEven)

	// d_final = negateOutput * (signFactor * d1 + tapTweakScalar)
	//         = (negateOutput*signFactor) * d1 + (negateOutput*tapTweakScalar)
	finalSignFactor := signFactor
	finalConstFactor := tapTweakScalar
	if negateOutput {
		finalSignFactor = scalarNegate(signFactor)
		finalConstFactor = scalarNegate(tapTweakScalar)
	}

	var xonly [32]byte
	copy(xonly[:], schnorr.SerializePubKey(outputFull))

	return signingTweak{
		signFactor:     finalSignFactor,
		constFactor:    finalConstFactor,
		outputKeyXOnly: xonly,
	}
}

// tapTweakHash reproduces the same BIP-341 tagged hash
// txscript.ComputeTaprootKeyNoScript applies internally, so the
// constFactor this package folds into signing matches exactly what that
// function added to derive the output key.
func tapTweakHash(internalKey *btcec.PublicKey) *btcec.ModNScalar {
	tag := taggedHash("TapTweak", schnorr.SerializePubKey(internalKey))
	var s btcec.ModNScalar
	s.SetByteSlice(tag[:])
	return &s
}
