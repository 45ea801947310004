// Package pegin validates user peg-in proofs against the federation's
// known-block set and claims the resulting UTXO (spec §4.6).
package pegin

import (
	"context"
	"fmt"

	"github.com/chaumfed/fedwallet/internal/kvkeys"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// ProofVerifier checks a PegInProof's signature against the federation's
// descriptor. The cryptographic check itself is deliberately out of scope
// here -- this interface exists so a caller can plug one in; see
// InsecureAcceptAllVerifier for tests and bring-up environments that have
// not wired a real verifier yet.
type ProofVerifier interface {
	Verify(proof models.PegInProof) error
}

// InsecureAcceptAllVerifier accepts every proof without checking its
// signature. It exists only because the spec's source explicitly stubs
// this check and leaves it as an integration point; production
// deployments must supply a real ProofVerifier.
type InsecureAcceptAllVerifier struct{}

func (InsecureAcceptAllVerifier) Verify(models.PegInProof) error { return nil }

// InputMeta describes the value and ownership a validated peg-in
// contributes to the consensus round.
type InputMeta struct {
	Amount  uint64
	PubKeys [][32]byte
}

// ValidateInput checks that proof references a block the federation has
// agreed on and an outpoint not already claimed, returning the InputMeta
// the caller should credit this peg-in with.
func ValidateInput(ctx context.Context, snapshot *kvstore.Snapshot, verifier ProofVerifier, proof models.PegInProof) (InputMeta, error) {
	_, found, err := snapshot.Get(kvkeys.BlockHash(proof.BlockHash))
	if err != nil {
		return InputMeta{}, fmt.Errorf("pegin: lookup block hash: %w", err)
	}
	if !found {
		return InputMeta{}, fmt.Errorf("pegin: block %s: %w", proof.BlockHash, walleterr.ErrUnknownPegInProofBlock)
	}

	_, claimed, err := snapshot.Get(kvkeys.UTXO(proof.Outpoint))
	if err != nil {
		return InputMeta{}, fmt.Errorf("pegin: lookup utxo: %w", err)
	}
	if claimed {
		return InputMeta{}, fmt.Errorf("pegin: outpoint %s:%d: %w", proof.Outpoint.Txid, proof.Outpoint.Vout, walleterr.ErrPegInAlreadyClaimed)
	}

	if err := verifier.Verify(proof); err != nil {
		return InputMeta{}, fmt.Errorf("pegin: verify proof: %w: %w", walleterr.ErrPegInProofInvalid, err)
	}

	return InputMeta{
		Amount:  proof.TxOutValue,
		PubKeys: [][32]byte{proof.TweakContractKey},
	}, nil
}

// ApplyInput re-validates proof and, on success, claims the peg-in's
// outpoint as a new SpendableUTXO in batch.
func ApplyInput(ctx context.Context, snapshot *kvstore.Snapshot, batch *kvstore.Batch, verifier ProofVerifier, proof models.PegInProof) (InputMeta, error) {
	meta, err := ValidateInput(ctx, snapshot, verifier, proof)
	if err != nil {
		return InputMeta{}, err
	}

	utxo := models.SpendableUTXO{Tweak: proof.TweakContractKey, Amount: proof.TxOutValue}
	encoded, err := models.EncodeSpendableUTXO(utxo)
	if err != nil {
		return InputMeta{}, fmt.Errorf("pegin: encode spendable utxo: %w", err)
	}
	batch.Put(kvkeys.UTXO(proof.Outpoint), encoded)

	return meta, nil
}
