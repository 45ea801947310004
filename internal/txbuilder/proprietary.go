// Package txbuilder assembles unsigned peg-out PSBTs from the federation's
// spendable UTXO set, selecting inputs and attaching the per-input/output
// tweak annotations the rest of the module relies on to reconstruct scripts
// and sign sessions later (spec §4.3).
package txbuilder

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/chaumfed/fedwallet/internal/config"
)

// proprietaryKey builds the raw BIP-174 proprietary key bytes for the
// federation's tweak annotation: <len(prefix)><prefix><subtype><keydata>,
// with an empty keydata per spec §4.3.
func proprietaryKey() []byte {
	key := make([]byte, 0, 1+len(config.ProprietaryPrefix)+1)
	key = append(key, byte(len(config.ProprietaryPrefix)))
	key = append(key, []byte(config.ProprietaryPrefix)...)
	key = append(key, config.ProprietarySubtype)
	return key
}

// setInputTweak attaches the per-input tweak annotation to a PSBT input as
// an Unknown field, since btcutil/psbt does not model BIP-174's proprietary
// key type structurally.
func setInputTweak(in *psbt.PInput, tweak []byte) {
	in.Unknowns = append(in.Unknowns, &psbt.Unknown{
		Key:   proprietaryKey(),
		Value: append([]byte(nil), tweak...),
	})
}

// setOutputTweak attaches the tweak annotation to a PSBT output.
func setOutputTweak(out *psbt.POutput, tweak []byte) {
	out.Unknowns = append(out.Unknowns, &psbt.Unknown{
		Key:   proprietaryKey(),
		Value: append([]byte(nil), tweak...),
	})
}

// InputTweak returns the tweak annotation stored on a PSBT input, or an
// error if none is present -- every federation-owned input must carry one
// (spec §4.3 invariant c).
func InputTweak(in *psbt.PInput) ([]byte, error) {
	return findTweak(in.Unknowns)
}

// OutputTweak returns the tweak annotation stored on a PSBT output.
func OutputTweak(out *psbt.POutput) ([]byte, error) {
	return findTweak(out.Unknowns)
}

func findTweak(unknowns []*psbt.Unknown) ([]byte, error) {
	want := proprietaryKey()
	for _, u := range unknowns {
		if bytes.Equal(u.Key, want) {
			return u.Value, nil
		}
	}
	return nil, fmt.Errorf("txbuilder: no %q proprietary tweak annotation present", config.ProprietaryPrefix)
}
