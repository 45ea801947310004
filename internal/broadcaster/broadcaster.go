// Package broadcaster periodically resubmits every fully-signed peg-out
// transaction still awaiting confirmation, since a transaction dropped
// from bitcoind's mempool (a restart, a fee-based eviction) otherwise
// never gets another chance to propagate (spec §4.8).
package broadcaster

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/rpc"
)

// Broadcaster resubmits every PendingTransaction row to bitcoind on a
// fixed interval, independent of and unsynchronized with the consensus
// round -- rebroadcast is a local mempool-propagation concern, not
// something that needs federation agreement.
type Broadcaster struct {
	store *kvstore.Store
	rpc   rpc.BitcoindRpc
}

// New builds a Broadcaster against store and bitcoindRPC.
func New(store *kvstore.Store, bitcoindRPC rpc.BitcoindRpc) *Broadcaster {
	return &Broadcaster{store: store, rpc: bitcoindRPC}
}

// Run resubmits every pending transaction, then sleeps
// config.BroadcastInterval, until ctx is cancelled. The fixed 10-second
// cadence is reproduced verbatim rather than made configurable, matching
// the un-batched, fire-and-forget rebroadcast loop in the original
// implementation this module's broadcaster mirrors.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(config.BroadcastInterval)
	defer ticker.Stop()

	for {
		b.broadcastPending(ctx)

		select {
		case <-ctx.Done():
			slog.Info("broadcaster stopping")
			return
		case <-ticker.C:
		}
	}
}

// broadcastPending resubmits every currently pending transaction, logging
// and continuing past any single submission failure -- a rejected
// resubmission (stale inputs, already confirmed) is expected background
// noise, not a reason to stop broadcasting the rest.
func (b *Broadcaster) broadcastPending(ctx context.Context) {
	rows, err := b.store.PrefixScan([]byte{config.PrefixPendingTransaction})
	if err != nil {
		slog.Error("broadcaster: scan pending transactions failed", "error", err)
		return
	}

	for _, row := range rows {
		pending, err := models.DecodePendingTransaction(row.Value)
		if err != nil {
			slog.Error("broadcaster: decode pending transaction failed", "error", err)
			continue
		}

		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(pending.TxHex)); err != nil {
			slog.Error("broadcaster: deserialize pending transaction failed", "txid", pending.Txid, "error", err)
			continue
		}

		slog.Debug("broadcasting peg-out", "txid", pending.Txid, "weight", tx.SerializeSize()*4)
		if err := b.rpc.SubmitTransaction(ctx, &tx); err != nil {
			slog.Warn("broadcaster: submit transaction failed", "txid", pending.Txid, "error", err)
		}
	}
}
