package frost

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/chaumfed/fedwallet/internal/models"
)

// LagrangeCoefficient computes the Lagrange basis coefficient for peerID
// over the given participant set, evaluated at x=0 (Shamir secret
// reconstruction): lambda_i = prod_{j != i} (j / (j - i)).
func LagrangeCoefficient(peerID models.PeerID, participants []models.PeerID) *btcec.ModNScalar {
	xi := scalarFromUint32(uint32(peerID))

	var numerator btcec.ModNScalar
	numerator.SetInt(1)
	var denominator btcec.ModNScalar
	denominator.SetInt(1)

	for _, j := range participants {
		if j == peerID {
			continue
		}
		xj := scalarFromUint32(uint32(j))
		numerator.Mul(xj)
		denominator.Mul(scalarSub(xj, xi))
	}

	var lambda btcec.ModNScalar
	lambda.Mul2(&numerator, scalarInverse(&denominator))
	return &lambda
}
