// Package models holds the persisted and wire data types shared across the
// federated wallet's components.
package models

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// PeerID identifies a federation participant. Peers are numbered 1..n, as
// FROST participant identifiers must be nonzero scalars.
type PeerID uint32

// Feerate is expressed in satoshis per kilo-virtual-byte.
type Feerate uint64

// Fee returns the integer-truncated fee for a transaction of the given
// weight (in weight units, i.e. 4x vsize).
func (f Feerate) Fee(weight uint64) uint64 {
	return uint64(f) * weight / 1000
}

// Outpoint identifies a Bitcoin transaction output.
type Outpoint struct {
	Txid chainhash.Hash
	Vout uint32
}

// Bytes returns the canonical KV-key encoding of the outpoint: txid bytes
// followed by big-endian vout. This also defines the "natural outpoint
// ordering" used to break UTXO-selection ties deterministically across
// peers.
func (o Outpoint) Bytes() []byte {
	b := make([]byte, chainhash.HashSize+4)
	copy(b, o.Txid[:])
	binary.BigEndian.PutUint32(b[chainhash.HashSize:], o.Vout)
	return b
}

// SpendableUTXO is a federation-custodied output, keyed by Outpoint.
type SpendableUTXO struct {
	Tweak  [32]byte
	Amount uint64
}

// RoundConsensus is the single, epoch-replaced agreement row.
type RoundConsensus struct {
	BlockHeight      uint32
	FeeRate          Feerate
	RandomnessBeacon [32]byte
}

// FrostNonce is a participant's public first-round commitment for one
// transaction input.
type FrostNonce struct {
	Peer PeerID
	D    [33]byte // compressed commitment point
	E    [33]byte
}

// FrostSigShare is a participant's second-round signature share for one
// transaction input.
type FrostSigShare struct {
	Peer  PeerID
	Share [32]byte // scalar, big-endian
}

// PeerNonces are the nonces a single peer contributed for every input of a
// transaction, in input order.
type PeerNonces struct {
	Peer   PeerID
	Nonces []FrostNonce
}

// PeerShares are the signature shares a single peer contributed for every
// input of a transaction, in input order.
type PeerShares struct {
	Peer   PeerID
	Shares []FrostSigShare
}

// PegOutFees is the fee terms a peg-out request must meet or exceed.
type PegOutFees struct {
	FeeRate Feerate
	Amount  uint64 // resulting fee in satoshis for the built transaction
}

// UnsignedTransaction is the in-flight state of a peg-out undergoing
// threshold signing.
type UnsignedTransaction struct {
	Txid       chainhash.Hash
	PSBT       []byte // serialized PSBT packet (see internal/txbuilder)
	Nonces     []PeerNonces
	Signatures []PeerShares
	Change     uint64
	Fees       PegOutFees
}

// HasNonces reports whether any peer has contributed nonces.
func (u *UnsignedTransaction) HasNonces() bool { return len(u.Nonces) > 0 }

// HasSignatures reports whether any peer has contributed signature shares.
func (u *UnsignedTransaction) HasSignatures() bool { return len(u.Signatures) > 0 }

// PendingTransaction is a fully signed, broadcast-ready peg-out awaiting
// confirmation.
type PendingTransaction struct {
	Txid   chainhash.Hash
	TxHex  []byte // raw serialized wire.MsgTx
	Tweak  [32]byte
	Change uint64
}

// PegInProof is the user-submitted evidence that a federation-tweaked
// output was paid on-chain.
type PegInProof struct {
	BlockHash       chainhash.Hash
	Outpoint        Outpoint
	TxOutValue      uint64
	TweakContractKey [32]byte // the tweak under which the output was paid
	Signature       []byte    // proof signature, verified by ProofVerifier
}

// PegOutRequest is a user's request to redeem mint value for an on-chain
// payment.
type PegOutRequest struct {
	DestinationScript []byte
	Amount            uint64
	Fees              PegOutFees
	NetworkName       string // the network the destination address was parsed for
}

// ConsensusItemKind tags the consensus wire-item union (see §6 of the spec).
type ConsensusItemKind byte

const (
	KindRoundConsensus   ConsensusItemKind = 0x01
	KindPegOutNonce      ConsensusItemKind = 0x02
	KindPegOutSignature  ConsensusItemKind = 0x03
)

// ConsensusItem is one peer's contribution to a consensus round.
type ConsensusItem struct {
	Kind         ConsensusItemKind
	RoundItem    RoundConsensusItem
	NonceItem    PegOutNonceItem
	SignatureItem PegOutSignatureItem
}

// RoundConsensusItem is one peer's proposal for the round's global state.
type RoundConsensusItem struct {
	Height      uint32
	FeeRate     Feerate
	Randomness  [32]byte
}

// PegOutNonceItem carries one peer's nonce contribution for a txid.
type PegOutNonceItem struct {
	Txid   chainhash.Hash
	Nonces []FrostNonce
}

// PegOutSignatureItem carries one peer's signature-share contribution for
// a txid.
type PegOutSignatureItem struct {
	Txid   chainhash.Hash
	Shares []FrostSigShare
}
