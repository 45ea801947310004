package txbuilder

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/chaumfed/fedwallet/internal/feerate"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/tweak"
	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// SelectableUTXO is a federation UTXO considered by CreateTx, paired with
// the outpoint identifying it in the KV store.
type SelectableUTXO struct {
	Outpoint models.Outpoint
	UTXO     models.SpendableUTXO
}

// CreateTx selects UTXOs largest-first over a canonical ascending sort and
// assembles an unsigned peg-out transaction paying amount to
// destinationScript, with any leftover value returned to a change output
// tweaked under changeTweak. The destination and change outputs always
// appear in that fixed order (output 1 always carries the change tweak
// annotation), and a change output is always present, however small --
// dust is absorbed by including the change script's dust threshold in the
// selection inequality rather than by dropping the output.
//
// CreateTx returns walleterr.ErrNotEnoughSpendableUTXO if utxos cannot
// cover amount, the change script's dust threshold, and fees.
func CreateTx(
	amount uint64,
	destinationScript []byte,
	utxos []SelectableUTXO,
	feeRate models.Feerate,
	changeTweak []byte,
	aggregatePub *btcec.PublicKey,
) (*models.UnsignedTransaction, error) {
	changeScript, err := tweak.DeriveScript(aggregatePub, changeTweak)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: derive change script: %w", err)
	}
	dust := feerate.DustValue(changeScript)

	sorted := append([]SelectableUTXO(nil), utxos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UTXO.Amount < sorted[j].UTXO.Amount })

	var selected []SelectableUTXO
	var selectedValue, weight, fees uint64
	recompute := func() {
		weight = feerate.TotalWeight(len(selected), len(destinationScript), len(changeScript))
		fees = feeRate.Fee(weight)
	}
	recompute()

	for selectedValue < amount+dust+fees {
		if len(sorted) == 0 {
			return nil, fmt.Errorf("txbuilder: need %d sats (amount+dust+fees), have %d selected: %w",
				amount+dust+fees, selectedValue, walleterr.ErrNotEnoughSpendableUTXO)
		}
		next := sorted[len(sorted)-1]
		sorted = sorted[:len(sorted)-1]
		selected = append(selected, next)
		selectedValue += next.UTXO.Amount
		recompute()
	}

	change := selectedValue - fees - amount

	tx := wire.NewMsgTx(2)
	tx.LockTime = 0
	for _, u := range selected {
		outpoint := wire.OutPoint{Hash: u.Outpoint.Txid, Index: u.Outpoint.Vout}
		in := wire.NewTxIn(&outpoint, nil, nil)
		in.Sequence = 0xFFFFFFFF
		tx.AddTxIn(in)
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount), destinationScript))
	tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build psbt: %w", err)
	}

	for i, u := range selected {
		inputScript, err := tweak.DeriveScript(aggregatePub, u.UTXO.Tweak[:])
		if err != nil {
			return nil, fmt.Errorf("txbuilder: derive input script for %s: %w", u.Outpoint.Txid, err)
		}
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(u.UTXO.Amount), inputScript)
		setInputTweak(&packet.Inputs[i], u.UTXO.Tweak[:])
	}
	setOutputTweak(&packet.Outputs[1], changeTweak)

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("txbuilder: serialize psbt: %w", err)
	}

	return &models.UnsignedTransaction{
		Txid: tx.TxHash(),
		PSBT: buf.Bytes(),
		Change: change,
		Fees: models.PegOutFees{
			FeeRate: feeRate,
			Amount:  fees,
		},
	}, nil
}
