// Package chainfollower consumes blocks up to the round-consensus height,
// recording observed block hashes and recognizing change outputs paid to
// federation-tweaked scripts so they become spendable UTXOs (spec §4.4).
package chainfollower

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/kvkeys"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/rpc"
	"github.com/chaumfed/fedwallet/internal/tweak"
)

// Follower walks the chain up to a consensus-agreed height, recording block
// hashes and recognizing change UTXOs for transactions the module is
// waiting on.
type Follower struct {
	rpc          rpc.BitcoindRpc
	store        *kvstore.Store
	aggregatePub *btcec.PublicKey
}

// New builds a Follower against the given RPC client, KV store, and the
// FROST group public key federation scripts are tweaked from.
func New(bitcoindRPC rpc.BitcoindRpc, store *kvstore.Store, aggregatePub *btcec.PublicKey) *Follower {
	return &Follower{rpc: bitcoindRPC, store: store, aggregatePub: aggregatePub}
}

// SyncUpToConsensusHeight advances local chain state from the last
// recorded height to newHeight, fetching each intervening block only when
// there is at least one PendingTransaction whose confirmation this peer is
// waiting on. oldHeight is the previously recorded tip (0 if none).
func (f *Follower) SyncUpToConsensusHeight(ctx context.Context, batch *kvstore.Batch, oldHeight, newHeight uint64) error {
	if newHeight < oldHeight {
		slog.Warn("consensus height regressed, ignoring", "old", oldHeight, "new", newHeight)
		return nil
	}
	if newHeight == oldHeight {
		return nil
	}

	pending, err := f.loadPendingTransactions()
	if err != nil {
		return fmt.Errorf("chainfollower: load pending transactions: %w", err)
	}

	for h := oldHeight + 1; h <= newHeight; h++ {
		hash, err := f.rpc.GetBlockHash(ctx, h)
		if err != nil {
			return fmt.Errorf("chainfollower: get block hash at %d: %w", h, err)
		}

		if len(pending) > 0 {
			block, err := f.rpc.GetBlock(ctx, hash)
			if err != nil {
				return fmt.Errorf("chainfollower: get block %s: %w", hash, err)
			}
			for _, tx := range block.Transactions {
				txid := tx.TxHash()
				for i, p := range pending {
					if p.Txid == txid {
						if err := f.recognizeChangeUTXO(batch, p); err != nil {
							return fmt.Errorf("chainfollower: recognize change utxo for %s: %w", txid, err)
						}
						pending = append(pending[:i], pending[i+1:]...)
						break
					}
				}
			}
		}

		batch.Put(kvkeys.BlockHash(hash), []byte{1})
		slog.Debug("chain follower recorded block", "height", h, "hash", hash.String())
	}

	return nil
}

// recognizeChangeUTXO computes the script-pubkey the change output of
// pending was tweaked under, and inserts a SpendableUTXO for every
// matching output of its confirmed transaction.
func (f *Follower) recognizeChangeUTXO(batch *kvstore.Batch, pending models.PendingTransaction) error {
	scriptPK, err := tweak.DeriveScript(f.aggregatePub, pending.Tweak[:])
	if err != nil {
		return fmt.Errorf("derive tweaked script: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(pending.TxHex)); err != nil {
		return fmt.Errorf("deserialize pending tx: %w", err)
	}

	for idx, out := range tx.TxOut {
		if !bytes.Equal(out.PkScript, scriptPK) {
			continue
		}
		outpoint := models.Outpoint{Txid: pending.Txid, Vout: uint32(idx)}
		utxo := models.SpendableUTXO{Tweak: pending.Tweak, Amount: uint64(out.Value)}
		encoded, err := models.EncodeSpendableUTXO(utxo)
		if err != nil {
			return fmt.Errorf("encode spendable utxo: %w", err)
		}
		batch.Put(kvkeys.UTXO(outpoint), encoded)
		slog.Info("recognized change utxo", "txid", pending.Txid, "vout", idx, "amount", utxo.Amount)
	}
	return nil
}

// loadPendingTransactions reads every PendingTransaction row currently
// awaiting confirmation.
func (f *Follower) loadPendingTransactions() ([]models.PendingTransaction, error) {
	rows, err := f.store.PrefixScan([]byte{config.PrefixPendingTransaction})
	if err != nil {
		return nil, err
	}
	out := make([]models.PendingTransaction, 0, len(rows))
	for _, row := range rows {
		pending, err := models.DecodePendingTransaction(row.Value)
		if err != nil {
			return nil, fmt.Errorf("decode pending transaction: %w", err)
		}
		out = append(out, pending)
	}
	return out, nil
}
