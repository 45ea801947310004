// Package kvkeys is the single source of truth for the byte-prefixed KV
// keys every component builds and parses (spec §6), so the wire format of
// a persisted entity is never redefined independently by two packages.
package kvkeys

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/models"
)

// BlockHash returns the key recording that hash is a member of the
// federation's agreed-on block set.
func BlockHash(hash chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = config.PrefixBlockHash
	copy(key[1:], hash[:])
	return key
}

// UTXO returns the key for a SpendableUTXO at the given outpoint.
func UTXO(o models.Outpoint) []byte {
	b := o.Bytes()
	key := make([]byte, 1+len(b))
	key[0] = config.PrefixUTXO
	copy(key[1:], b)
	return key
}

// UnsignedTransaction returns the key for an in-flight UnsignedTransaction.
func UnsignedTransaction(txid chainhash.Hash) []byte {
	return txidKey(config.PrefixUnsignedTransaction, txid)
}

// PendingTransaction returns the key for a broadcast-ready PendingTransaction.
func PendingTransaction(txid chainhash.Hash) []byte {
	return txidKey(config.PrefixPendingTransaction, txid)
}

// PegOutSignatureCI returns the key for this peer's staged signature-share
// consensus item for txid.
func PegOutSignatureCI(txid chainhash.Hash) []byte {
	return txidKey(config.PrefixPegOutTxSignatureCI, txid)
}

// PegOutNonceCI returns the key for this peer's staged nonce consensus
// item for txid.
func PegOutNonceCI(txid chainhash.Hash) []byte {
	return txidKey(config.PrefixPegOutTxNonceCI, txid)
}

// RoundConsensusRow is the fixed singleton key for the one RoundConsensus
// row the KV store ever holds.
var RoundConsensusRow = []byte{config.PrefixRoundConsensus}

func txidKey(prefix byte, txid chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = prefix
	copy(key[1:], txid[:])
	return key
}
