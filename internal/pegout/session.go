package pegout

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/chaumfed/fedwallet/internal/frost"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/txbuilder"
)

// parsePacket decodes the stored PSBT of an in-flight peg-out.
func parsePacket(tx models.UnsignedTransaction) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(tx.PSBT), false)
	if err != nil {
		return nil, fmt.Errorf("pegout: parse psbt for %s: %w", tx.Txid, err)
	}
	return packet, nil
}

// prevOutFetcher builds the "Prevouts::All" witness-UTXO set the taproot
// key-spend sighash is computed against.
func prevOutFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		fetcher.AddPrevOut(packet.UnsignedTx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	return fetcher
}

// createSignSession derives input i's taproot key-spend sighash and
// starts a FROST sign session against participants' nonce commitments,
// per the sign-session derivation in the peg-out coordinator's design.
func createSignSession(
	aggregatePub *btcec.PublicKey,
	verificationShares map[models.PeerID]*btcec.PublicKey,
	packet *psbt.Packet,
	inputIndex int,
	nonces []models.PeerNonces,
) (*frost.SignSession, []models.PeerID, error) {
	tweak, err := txbuilder.InputTweak(&packet.Inputs[inputIndex])
	if err != nil {
		return nil, nil, fmt.Errorf("pegout: input %d: %w", inputIndex, err)
	}

	commitments, participants, err := nonceCommitmentsForInput(nonces, inputIndex)
	if err != nil {
		return nil, nil, err
	}

	fetcher := prevOutFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)
	sighash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, packet.UnsignedTx, inputIndex, fetcher)
	if err != nil {
		return nil, nil, fmt.Errorf("pegout: compute taproot sighash for input %d: %w", inputIndex, err)
	}
	var message [32]byte
	copy(message[:], sighash)

	session, err := frost.StartSignSession(aggregatePub, verificationShares, tweak, commitments, participants, message)
	if err != nil {
		return nil, nil, fmt.Errorf("pegout: start sign session for input %d: %w", inputIndex, err)
	}
	return session, participants, nil
}

// nonceCommitmentsForInput gathers every peer's parsed nonce commitment
// for inputIndex from the transaction's accumulated nonce contributions.
func nonceCommitmentsForInput(nonces []models.PeerNonces, inputIndex int) (map[models.PeerID]frost.NonceCommitment, []models.PeerID, error) {
	commitments := make(map[models.PeerID]frost.NonceCommitment, len(nonces))
	participants := make([]models.PeerID, 0, len(nonces))
	for _, pn := range nonces {
		if inputIndex >= len(pn.Nonces) {
			return nil, nil, fmt.Errorf("pegout: peer %d did not contribute a nonce for input %d", pn.Peer, inputIndex)
		}
		c, err := frost.ParseNonce(pn.Nonces[inputIndex])
		if err != nil {
			return nil, nil, fmt.Errorf("pegout: parse nonce from peer %d: %w", pn.Peer, err)
		}
		commitments[pn.Peer] = c
		participants = append(participants, pn.Peer)
	}
	return commitments, participants, nil
}

// sharesForInput gathers every peer's signature share for inputIndex
// from the transaction's accumulated signature contributions.
func sharesForInput(shares []models.PeerShares, inputIndex int) (map[models.PeerID]*btcec.ModNScalar, error) {
	out := make(map[models.PeerID]*btcec.ModNScalar, len(shares))
	for _, ps := range shares {
		if inputIndex >= len(ps.Shares) {
			continue
		}
		share := ps.Shares[inputIndex]
		var s btcec.ModNScalar
		s.SetByteSlice(share.Share[:])
		out[share.Peer] = &s
	}
	return out, nil
}

// finalWitness serializes a 64-byte Schnorr signature as the sole
// witness element for a taproot key-path spend, in PSBT wire format.
func finalWitness(sig []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, wire.TxWitness{sig}); err != nil {
		return nil, fmt.Errorf("pegout: serialize final witness: %w", err)
	}
	return buf.Bytes(), nil
}
