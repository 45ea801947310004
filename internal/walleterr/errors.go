// Package walleterr defines the sentinel errors surfaced by the federated
// wallet module to its caller, each paired with a stable string code for
// the HTTP API.
package walleterr

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors surfaced to the caller (spec §7 "Surfaced to caller").
var (
	ErrWrongNetwork          = errors.New("destination address network is not compatible with the federation's network")
	ErrUnknownPegInProofBlock = errors.New("peg-in proof references a block the federation has not agreed on")
	ErrPegInProofInvalid     = errors.New("peg-in proof failed verification")
	ErrPegInAlreadyClaimed   = errors.New("peg-in outpoint already claimed")
	ErrPegOutFeeRate         = errors.New("peg-out fee rate below current consensus fee rate")
	ErrNotEnoughSpendableUTXO = errors.New("not enough spendable UTXO value to cover amount and fees")
	ErrUnknownNetwork        = errors.New("unrecognized network name")
	ErrRpc                   = errors.New("bitcoin RPC error")
)

// Error codes, shared with the HTTP API's JSON error envelope.
const (
	CodeWrongNetwork           = "ERROR_WRONG_NETWORK"
	CodeUnknownPegInProofBlock = "ERROR_UNKNOWN_PEGIN_PROOF_BLOCK"
	CodePegInProofInvalid      = "ERROR_PEGIN_PROOF_INVALID"
	CodePegInAlreadyClaimed    = "ERROR_PEGIN_ALREADY_CLAIMED"
	CodePegOutFeeRate          = "ERROR_PEGOUT_FEE_RATE"
	CodeNotEnoughSpendableUTXO = "ERROR_NOT_ENOUGH_SPENDABLE_UTXO"
	CodeUnknownNetwork         = "ERROR_UNKNOWN_NETWORK"
	CodeRpc                    = "ERROR_RPC"
)

// Code returns the stable error code for a surfaced sentinel error, or ""
// if err does not wrap one of them.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrWrongNetwork):
		return CodeWrongNetwork
	case errors.Is(err, ErrUnknownPegInProofBlock):
		return CodeUnknownPegInProofBlock
	case errors.Is(err, ErrPegInProofInvalid):
		return CodePegInProofInvalid
	case errors.Is(err, ErrPegInAlreadyClaimed):
		return CodePegInAlreadyClaimed
	case errors.Is(err, ErrPegOutFeeRate):
		return CodePegOutFeeRate
	case errors.Is(err, ErrNotEnoughSpendableUTXO):
		return CodeNotEnoughSpendableUTXO
	case errors.Is(err, ErrUnknownNetwork):
		return CodeUnknownNetwork
	case errors.Is(err, ErrRpc):
		return CodeRpc
	default:
		return ""
	}
}

// PegOutFeeRateError reports the actual and consensus-required fee rates
// alongside the ErrPegOutFeeRate sentinel.
type PegOutFeeRateError struct {
	Actual, Consensus uint64
}

func (e *PegOutFeeRateError) Error() string {
	return fmt.Sprintf("peg-out fee rate %d below consensus fee rate %d", e.Actual, e.Consensus)
}

func (e *PegOutFeeRateError) Unwrap() error { return ErrPegOutFeeRate }

// WrongNetworkError reports the mismatched network names alongside the
// ErrWrongNetwork sentinel.
type WrongNetworkError struct {
	Actual, Expected string
}

func (e *WrongNetworkError) Error() string {
	return fmt.Sprintf("address network %q is not compatible with federation network %q", e.Actual, e.Expected)
}

func (e *WrongNetworkError) Unwrap() error { return ErrWrongNetwork }

// Fatal panics with a formatted message, tagged so callers recovering from
// it (e.g. in tests) can identify a federation-break condition rather than
// a programmer bug. Fatal conditions per spec §7: empty round proposal
// set, median block-height regression, any KV error, a PSBT missing its
// proprietary change-tweak annotation at finalization, a combined
// signature that fails to verify against its sighash.
func Fatal(format string, args ...any) {
	err := fmt.Errorf("federation-break: "+format, args...)
	slog.Error(err.Error(), "fatal", true)
	panic(err)
}
