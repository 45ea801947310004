package tweak

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// DeriveScript returns the P2TR script_pubkey paid to spend the tweak t
// derived from aggregatePub: the federation descriptor with its one
// pubkey replaced by the tweaked output key.
func DeriveScript(aggregatePub *btcec.PublicKey, t []byte) ([]byte, error) {
	outputKey := TweakedOutputKey(aggregatePub, t)
	return txscript.PayToTaprootScript(outputKey)
}
