// Package pegout drives the peg-out FROST coordinator: the per-epoch
// state machine that gathers nonces and signature shares across
// consensus rounds and finalizes fully-signed peg-out transactions
// (spec §4.7).
package pegout

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/frost"
	"github.com/chaumfed/fedwallet/internal/kvkeys"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/txbuilder"
	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// Coordinator holds the FROST group parameters and this peer's own
// secret share needed to advance peg-out signing across epochs.
type Coordinator struct {
	AggregatePub       *btcec.PublicKey
	VerificationShares map[models.PeerID]*btcec.PublicKey
	Threshold          int
	Self               models.PeerID
	SecretShare        *btcec.ModNScalar
}

// New builds a Coordinator for this peer.
func New(
	aggregatePub *btcec.PublicKey,
	verificationShares map[models.PeerID]*btcec.PublicKey,
	threshold int,
	self models.PeerID,
	secretShare *btcec.ModNScalar,
) *Coordinator {
	return &Coordinator{
		AggregatePub:       aggregatePub,
		VerificationShares: verificationShares,
		Threshold:          threshold,
		Self:               self,
		SecretShare:        secretShare,
	}
}

// EmitNonces derives this peer's first-round nonce commitments for every
// input of tx, per the coordinator's deterministic nonce-emission rule:
// sid = be_bytes(input_index) || txid. Called once, at peg-out creation.
func (c *Coordinator) EmitNonces(tx models.UnsignedTransaction) ([]models.FrostNonce, error) {
	packet, err := parsePacket(tx)
	if err != nil {
		return nil, err
	}

	numInputs := len(packet.UnsignedTx.TxIn)
	nonces := make([]models.FrostNonce, numInputs)
	for i := 0; i < numInputs; i++ {
		sid := frost.SigningID(uint32(i), tx.Txid)
		commitment := frost.DerivePublicNonce(c.SecretShare, sid)
		nonces[i] = commitment.ToWire(c.Self)
		slog.Debug("emitted peg-out nonce", "peer", c.Self, "input", i, "sid", frost.DisplaySigningID(sid))
	}
	return nonces, nil
}

// EndConsensusEpoch runs this epoch's peg-out actions against every
// in-flight UnsignedTransaction row, in the order the coordinator's
// design specifies: nonce-round fault detection, signature-round fault
// detection, advance-to-signing, and finalize. It returns the set of
// peers observed misbehaving this epoch, for the caller to drop from
// future consensus rounds.
func (c *Coordinator) EndConsensusEpoch(snap *kvstore.Snapshot, batch *kvstore.Batch, consensusPeers []models.PeerID) ([]models.PeerID, error) {
	rows, err := snap.PrefixScan([]byte{config.PrefixUnsignedTransaction})
	if err != nil {
		return nil, fmt.Errorf("pegout: scan unsigned transactions: %w", err)
	}

	var txN, txS []models.UnsignedTransaction
	for _, row := range rows {
		tx, err := models.DecodeUnsignedTransaction(row.Value)
		if err != nil {
			return nil, fmt.Errorf("pegout: decode unsigned transaction: %w", err)
		}
		switch {
		case tx.HasSignatures():
			txS = append(txS, tx)
		case tx.HasNonces():
			txN = append(txN, tx)
		}
	}

	drop := make(map[models.PeerID]bool)

	c.detectNonceRoundFaults(txN, consensusPeers, drop)
	if err := c.detectSignatureRoundFaults(txS, drop); err != nil {
		return nil, err
	}
	if err := c.advanceNoncesToSignatures(batch, txN, drop); err != nil {
		return nil, err
	}
	if err := c.finalizeSignedTransactions(batch, txS); err != nil {
		return nil, err
	}

	return sortedPeers(drop), nil
}

// detectNonceRoundFaults adds every consensus peer that contributed no
// nonce to a TX_N transaction to drop.
func (c *Coordinator) detectNonceRoundFaults(txN []models.UnsignedTransaction, consensusPeers []models.PeerID, drop map[models.PeerID]bool) {
	for _, tx := range txN {
		contributed := make(map[models.PeerID]bool, len(tx.Nonces))
		for _, pn := range tx.Nonces {
			contributed[pn.Peer] = true
		}
		for _, p := range consensusPeers {
			if !contributed[p] {
				slog.Error("peer missed peg-out nonce round", "peer", p, "txid", tx.Txid)
				drop[p] = true
			}
		}
	}
}

// detectSignatureRoundFaults adds every participant of a TX_S
// transaction that either failed to contribute a share or contributed an
// invalid one to drop.
func (c *Coordinator) detectSignatureRoundFaults(txS []models.UnsignedTransaction, drop map[models.PeerID]bool) error {
	for _, tx := range txS {
		packet, err := parsePacket(tx)
		if err != nil {
			return err
		}
		numInputs := len(packet.UnsignedTx.TxIn)
		for i := 0; i < numInputs; i++ {
			session, participants, err := createSignSession(c.AggregatePub, c.VerificationShares, packet, i, tx.Nonces)
			if err != nil {
				return err
			}
			shares, err := sharesForInput(tx.Signatures, i)
			if err != nil {
				return err
			}
			for _, p := range participants {
				share, ok := shares[p]
				if !ok {
					slog.Error("peer missed peg-out signature share", "peer", p, "txid", tx.Txid, "input", i)
					drop[p] = true
					continue
				}
				if !frost.VerifySignatureShare(session, p, share) {
					slog.Warn("peer contributed an invalid peg-out signature share", "peer", p, "txid", tx.Txid, "input", i)
					drop[p] = true
				}
			}
		}
	}
	return nil
}

// advanceNoncesToSignatures filters drop from each TX_N transaction's
// nonces and, once at least Threshold contributors remain, produces this
// peer's own signature share for every input.
func (c *Coordinator) advanceNoncesToSignatures(batch *kvstore.Batch, txN []models.UnsignedTransaction, drop map[models.PeerID]bool) error {
	for _, tx := range txN {
		filtered := make([]models.PeerNonces, 0, len(tx.Nonces))
		for _, pn := range tx.Nonces {
			if !drop[pn.Peer] {
				filtered = append(filtered, pn)
			}
		}

		if len(filtered) < c.Threshold {
			slog.Info("peg-out cannot start signing yet", "txid", tx.Txid, "have", len(filtered), "threshold", c.Threshold)
			continue
		}

		participants := make([]models.PeerID, 0, len(filtered))
		selfIncluded := false
		for _, pn := range filtered {
			participants = append(participants, pn.Peer)
			if pn.Peer == c.Self {
				selfIncluded = true
			}
		}

		tx.Nonces = filtered

		if selfIncluded {
			packet, err := parsePacket(tx)
			if err != nil {
				return err
			}
			numInputs := len(packet.UnsignedTx.TxIn)
			myShares := make([]models.FrostSigShare, numInputs)
			for i := 0; i < numInputs; i++ {
				session, _, err := createSignSession(c.AggregatePub, c.VerificationShares, packet, i, filtered)
				if err != nil {
					return err
				}
				sid := frost.SigningID(uint32(i), tx.Txid)
				d, e := frost.GenNonce(c.SecretShare, sid)
				z, err := frost.Sign(session, c.Self, c.SecretShare, d, e)
				if err != nil {
					return fmt.Errorf("pegout: sign input %d of %s: %w", i, tx.Txid, err)
				}
				myShares[i] = models.FrostSigShare{Peer: c.Self, Share: z.Bytes()}
			}
			tx.Signatures = []models.PeerShares{{Peer: c.Self, Shares: myShares}}

			shareItem := models.PegOutSignatureItem{Txid: tx.Txid, Shares: myShares}
			encodedItem, err := models.EncodePegOutSignatureItem(shareItem)
			if err != nil {
				return fmt.Errorf("pegout: encode signature item: %w", err)
			}
			batch.Put(kvkeys.PegOutSignatureCI(tx.Txid), encodedItem)
			batch.Delete(kvkeys.PegOutNonceCI(tx.Txid))
		}

		encoded, err := models.EncodeUnsignedTransaction(tx)
		if err != nil {
			return fmt.Errorf("pegout: encode unsigned transaction: %w", err)
		}
		batch.Put(kvkeys.UnsignedTransaction(tx.Txid), encoded)
	}
	return nil
}

// finalizeSignedTransactions combines every TX_S transaction's shares
// into a final Schnorr signature per input, once every session
// participant has contributed one, and moves the fully-signed
// transaction to PendingTransaction.
func (c *Coordinator) finalizeSignedTransactions(batch *kvstore.Batch, txS []models.UnsignedTransaction) error {
	for _, tx := range txS {
		packet, err := parsePacket(tx)
		if err != nil {
			return err
		}
		numInputs := len(packet.UnsignedTx.TxIn)

		witnesses := make([][]byte, numInputs)
		complete := true
		for i := 0; i < numInputs; i++ {
			session, participants, err := createSignSession(c.AggregatePub, c.VerificationShares, packet, i, tx.Nonces)
			if err != nil {
				return err
			}
			shares, err := sharesForInput(tx.Signatures, i)
			if err != nil {
				return err
			}
			for _, p := range participants {
				if _, ok := shares[p]; !ok {
					complete = false
					break
				}
			}
			if !complete {
				break
			}

			sig, err := frost.CombineSignatureShares(session, shares)
			if err != nil {
				walleterr.Fatal("pegout: combined signature for %s input %d failed to verify: %v", tx.Txid, i, err)
			}
			witness, err := finalWitness(sig.Serialize())
			if err != nil {
				return err
			}
			witnesses[i] = witness
		}

		if !complete {
			slog.Info("peg-out still gathering signature shares", "txid", tx.Txid)
			continue
		}

		for i, w := range witnesses {
			packet.Inputs[i].FinalScriptWitness = w
		}

		finalTx, err := psbt.Extract(packet)
		if err != nil {
			return fmt.Errorf("pegout: extract final transaction for %s: %w", tx.Txid, err)
		}

		changeTweakBytes, err := txbuilder.OutputTweak(&packet.Outputs[1])
		if err != nil {
			walleterr.Fatal("pegout: finalized peg-out %s missing change tweak annotation: %v", tx.Txid, err)
		}
		var changeTweak [32]byte
		copy(changeTweak[:], changeTweakBytes)

		var txHex bytes.Buffer
		if err := finalTx.Serialize(&txHex); err != nil {
			return fmt.Errorf("pegout: serialize final transaction %s: %w", tx.Txid, err)
		}

		pending := models.PendingTransaction{Txid: tx.Txid, TxHex: txHex.Bytes(), Tweak: changeTweak, Change: tx.Change}
		encoded, err := models.EncodePendingTransaction(pending)
		if err != nil {
			return fmt.Errorf("pegout: encode pending transaction: %w", err)
		}
		batch.Put(kvkeys.PendingTransaction(tx.Txid), encoded)
		batch.Delete(kvkeys.PegOutSignatureCI(tx.Txid))
		batch.Delete(kvkeys.UnsignedTransaction(tx.Txid))

		slog.Info("peg-out finalized", "txid", tx.Txid, "change", tx.Change)
	}
	return nil
}

func sortedPeers(set map[models.PeerID]bool) []models.PeerID {
	out := make([]models.PeerID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
