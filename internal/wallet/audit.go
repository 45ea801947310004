package wallet

import (
	"fmt"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/models"
)

// AuditReport is the module's solvency statement: every spendable UTXO is
// an asset, and every peg-out still owed change -- whether still
// gathering signatures or already broadcast and awaiting confirmation --
// is a liability, since exactly one of the two rows will eventually pay
// it out but both still represent value the federation has promised.
// Amounts are denominated in millisatoshis, matching the audit
// convention of the original implementation this module's audit
// endpoint mirrors.
type AuditReport struct {
	AssetsMsat      int64
	LiabilitiesMsat int64
	NetMsat         int64
}

// Audit sums every UTXO row as an asset and every UnsignedTransaction and
// PendingTransaction row's change as a liability.
func (w *Wallet) Audit() (AuditReport, error) {
	var report AuditReport

	utxoRows, err := w.store.PrefixScan([]byte{config.PrefixUTXO})
	if err != nil {
		return AuditReport{}, fmt.Errorf("wallet: audit scan utxos: %w", err)
	}
	for _, row := range utxoRows {
		utxo, err := models.DecodeSpendableUTXO(row.Value)
		if err != nil {
			return AuditReport{}, fmt.Errorf("wallet: audit decode utxo: %w", err)
		}
		report.AssetsMsat += int64(utxo.Amount) * 1000
	}

	unsignedRows, err := w.store.PrefixScan([]byte{config.PrefixUnsignedTransaction})
	if err != nil {
		return AuditReport{}, fmt.Errorf("wallet: audit scan unsigned transactions: %w", err)
	}
	for _, row := range unsignedRows {
		tx, err := models.DecodeUnsignedTransaction(row.Value)
		if err != nil {
			return AuditReport{}, fmt.Errorf("wallet: audit decode unsigned transaction: %w", err)
		}
		report.LiabilitiesMsat += int64(tx.Change) * 1000
	}

	pendingRows, err := w.store.PrefixScan([]byte{config.PrefixPendingTransaction})
	if err != nil {
		return AuditReport{}, fmt.Errorf("wallet: audit scan pending transactions: %w", err)
	}
	for _, row := range pendingRows {
		pending, err := models.DecodePendingTransaction(row.Value)
		if err != nil {
			return AuditReport{}, fmt.Errorf("wallet: audit decode pending transaction: %w", err)
		}
		report.LiabilitiesMsat += int64(pending.Change) * 1000
	}

	report.NetMsat = report.AssetsMsat - report.LiabilitiesMsat
	return report, nil
}
