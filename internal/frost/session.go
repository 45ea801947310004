package frost

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/chaumfed/fedwallet/internal/models"
)

// SignSession is a single Schnorr signing session for one sighash
// message under one tweaked output key, binding together every
// participant's nonce commitment, Lagrange coefficient, and binding
// factor so that Sign/VerifySignatureShare/CombineSignatureShares all
// operate against a single, internally-consistent view.
type SignSession struct {
	Message        [32]byte
	Participants   []models.PeerID
	Commitments    map[models.PeerID]NonceCommitment
	Rho            map[models.PeerID]*btcec.ModNScalar
	Lambda         map[models.PeerID]*btcec.ModNScalar

	R              *btcec.PublicKey // uncorrected aggregate nonce point
	Rx             btcec.FieldVal   // R's x-coordinate, normalized, for signature encoding
	NonceSignFlip  bool             // true if R has odd y
	Challenge      *btcec.ModNScalar

	VerificationShares map[models.PeerID]*btcec.PublicKey
	SignFactor         *btcec.ModNScalar
	ConstFactor        *btcec.ModNScalar
	OutputKeyXOnly     [32]byte
}

// StartSignSession derives the tweaked signing key for tweakBytes against
// aggregatePub, computes per-participant binding factors and the
// aggregate nonce point, and returns a session ready for Sign /
// VerifySignatureShare / CombineSignatureShares.
func StartSignSession(
	aggregatePub *btcec.PublicKey,
	verificationShares map[models.PeerID]*btcec.PublicKey,
	tweakBytes []byte,
	commitments map[models.PeerID]NonceCommitment,
	participants []models.PeerID,
	message [32]byte,
) (*SignSession, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("frost: sign session needs at least one participant")
	}

	sorted := append([]models.PeerID(nil), participants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, p := range sorted {
		if _, ok := commitments[p]; !ok {
			return nil, fmt.Errorf("frost: missing nonce commitment for participant %d", p)
		}
		if _, ok := verificationShares[p]; !ok {
			return nil, fmt.Errorf("frost: missing verification share for participant %d", p)
		}
	}

	rho := make(map[models.PeerID]*btcec.ModNScalar, len(sorted))
	for _, p := range sorted {
		rho[p] = bindingFactor(p, sorted, commitments, message)
	}

	var aggregate *btcec.PublicKey
	for _, p := range sorted {
		c := commitments[p]
		contribution := addPoints(c.D, scalarMult(c.E, rho[p]))
		if aggregate == nil {
			aggregate = contribution
			continue
		}
		aggregate = addPoints(aggregate, contribution)
	}
	R := aggregate
	var rJ btcec.JacobianPoint
	R.AsJacobian(&rJ)
	nonceSignFlip := !hasEvenY(R)

	kt := deriveSigningTweak(aggregatePub, tweakBytes)

	rJ.X.Normalize()
	var rXBuf [32]byte
	rJ.X.PutBytesUnchecked(rXBuf[:])
	challengeBytes := taggedHash("BIP0340/challenge", rXBuf[:], kt.outputKeyXOnly[:], message[:])
	rx := rJ.X
	var challenge btcec.ModNScalar
	challenge.SetByteSlice(challengeBytes[:])

	lambda := make(map[models.PeerID]*btcec.ModNScalar, len(sorted))
	for _, p := range sorted {
		lambda[p] = LagrangeCoefficient(p, sorted)
	}

	return &SignSession{
		Message:            message,
		Participants:       sorted,
		Commitments:        commitments,
		Rho:                rho,
		Lambda:             lambda,
		R:                  R,
		Rx:                 rx,
		NonceSignFlip:      nonceSignFlip,
		Challenge:          &challenge,
		VerificationShares: verificationShares,
		SignFactor:         kt.signFactor,
		ConstFactor:        kt.constFactor,
		OutputKeyXOnly:     kt.outputKeyXOnly,
	}, nil
}

// bindingFactor computes rho_i, binding participant p's nonce to the
// full commitment set and the message, per FROST's standard
// Wagner-attack mitigation.
func bindingFactor(p models.PeerID, sorted []models.PeerID, commitments map[models.PeerID]NonceCommitment, message [32]byte) *btcec.ModNScalar {
	data := make([][]byte, 0, 2+3*len(sorted))
	idBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idBytes, uint32(p))
	data = append(data, idBytes, message[:])
	for _, q := range sorted {
		qID := make([]byte, 4)
		binary.BigEndian.PutUint32(qID, uint32(q))
		c := commitments[q]
		data = append(data, qID, c.D.SerializeCompressed(), c.E.SerializeCompressed())
	}
	sum := taggedHash("FROST/bindingfactor", data...)
	var s btcec.ModNScalar
	s.SetByteSlice(sum[:])
	return &s
}

func addPoints(a, b *btcec.PublicKey) *btcec.PublicKey {
	var aJ, bJ, sumJ btcec.JacobianPoint
	a.AsJacobian(&aJ)
	b.AsJacobian(&bJ)
	btcec.AddNonConst(&aJ, &bJ, &sumJ)
	sumJ.ToAffine()
	return btcec.NewPublicKey(&sumJ.X, &sumJ.Y)
}
