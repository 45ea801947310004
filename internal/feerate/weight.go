// Package feerate implements the peg-out weight model and dust-value
// calculation the transaction builder (C3) uses to size fees.
package feerate

import "github.com/chaumfed/fedwallet/internal/config"

// BaseWeight is the fixed transaction overhead: version, input/output
// counts, locktime, and segwit marker/flag.
func BaseWeight() uint64 {
	return uint64(config.TxBaseWeight)
}

// OutputWeight returns the weight contribution of the builder's fixed
// two-output layout: destination then change.
func OutputWeight(destScriptLen, changeScriptLen int) uint64 {
	return uint64(destScriptLen)*4 + config.OutputFixedWeight +
		uint64(changeScriptLen)*4 + config.OutputFixedWeight
}

// InputWeight returns the weight contribution of a single taproot
// key-path-spend input: the declared max satisfaction weight (a single
// 64-byte Schnorr signature witness) plus the fixed non-witness input
// overhead.
func InputWeight() uint64 {
	return uint64(config.TaprootKeySpendWitnessWeight) + uint64(config.InputBaseWeight)
}

// TotalWeight sums the base, output, and per-input weight for a
// transaction with numInputs inputs and the builder's fixed two-output
// layout.
func TotalWeight(numInputs int, destScriptLen, changeScriptLen int) uint64 {
	return BaseWeight() + OutputWeight(destScriptLen, changeScriptLen) + uint64(numInputs)*InputWeight()
}

// DustValue reproduces rust-bitcoin's Script::dust_value(): an output is
// dust if spending it back out would cost at least a third of its own
// value at the standard 3 sat/vB relay-fee assumption. OP_RETURN outputs
// are never dust (they're provably unspendable, so no relay-fee concern
// applies); witness-program scripts assume a 67-byte cheapest possible
// spend, everything else assumes 148 bytes (a legacy P2PKH spend).
func DustValue(script []byte) uint64 {
	if isOpReturn(script) {
		return 0
	}
	if isWitnessProgram(script) {
		return (uint64(len(script)) + 67) * 3
	}
	return (uint64(len(script)) + 148) * 3
}

func isOpReturn(script []byte) bool {
	return len(script) > 0 && script[0] == 0x6a
}

func isWitnessProgram(script []byte) bool {
	if len(script) < 4 || len(script) > 42 {
		return false
	}
	op := script[0]
	if op != 0x00 && (op < 0x51 || op > 0x60) {
		return false
	}
	pushLen := script[1]
	return int(pushLen) == len(script)-2 && pushLen >= 2 && pushLen <= 40
}
