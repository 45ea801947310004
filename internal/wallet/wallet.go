// Package wallet is the federated on-chain wallet module's facade: it
// implements the consensus-participant contract (consensus_proposal,
// await_consensus_proposal, begin_consensus_epoch, validate_output,
// apply_output, audit) by wiring together every other component --
// chainfollower, roundconsensus, pegin, pegout, txbuilder -- against the
// KV store and bitcoind RPC client (spec §4, §5).
package wallet

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/chaumfed/fedwallet/internal/chainfollower"
	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/frost"
	"github.com/chaumfed/fedwallet/internal/kvkeys"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/pegin"
	"github.com/chaumfed/fedwallet/internal/pegout"
	"github.com/chaumfed/fedwallet/internal/roundconsensus"
	"github.com/chaumfed/fedwallet/internal/rpc"
	"github.com/chaumfed/fedwallet/internal/txbuilder"
	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// PeerConsensusItem pairs a peer's identity with the consensus item it
// proposed this epoch, as delivered by the BFT transport layer.
type PeerConsensusItem struct {
	Peer models.PeerID
	Item models.ConsensusItem
}

// Wallet is one federation peer's view of the module: its own FROST
// secret share, the RPC client and chain follower it drives block sync
// through, and the peg-out coordinator tracking in-flight signing
// sessions.
type Wallet struct {
	cfg          *config.Config
	store        *kvstore.Store
	rpc          rpc.BitcoindRpc
	follower     *chainfollower.Follower
	coordinator  *pegout.Coordinator
	verifier     pegin.ProofVerifier
	aggregatePub *btcec.PublicKey
}

// New builds a Wallet for this peer from its FROST key material and
// already-opened dependencies.
func New(
	cfg *config.Config,
	store *kvstore.Store,
	bitcoindRPC rpc.BitcoindRpc,
	verifier pegin.ProofVerifier,
	aggregatePub *btcec.PublicKey,
	verificationShares map[models.PeerID]*btcec.PublicKey,
	threshold int,
	self models.PeerID,
	secretShare *btcec.ModNScalar,
) *Wallet {
	follower := chainfollower.New(bitcoindRPC, store, aggregatePub)
	coordinator := pegout.New(aggregatePub, verificationShares, threshold, self, secretShare)
	return &Wallet{
		cfg:          cfg,
		store:        store,
		rpc:          bitcoindRPC,
		follower:     follower,
		coordinator:  coordinator,
		verifier:     verifier,
		aggregatePub: aggregatePub,
	}
}

// TargetHeight is this peer's proposed consensus block height: the
// network tip less the federation's finality delay, floored at zero.
func TargetHeight(chainTip uint64, finalityDelay uint32) uint32 {
	if chainTip < uint64(finalityDelay) {
		return 0
	}
	return uint32(chainTip - uint64(finalityDelay))
}

// ConsensusHeight reports the last agreed block height, or 0 if no round
// has completed yet. It is the wallet module's "/block_height" API
// endpoint.
func (w *Wallet) ConsensusHeight() (uint32, error) {
	return w.lastConsensusHeight()
}

// lastConsensusHeight reads the previously agreed block height, or 0 if
// no round has completed yet (a freshly created federation).
func (w *Wallet) lastConsensusHeight() (uint32, error) {
	value, found, err := w.store.Get(kvkeys.RoundConsensusRow)
	if err != nil {
		return 0, fmt.Errorf("wallet: read round consensus: %w", err)
	}
	if !found {
		return 0, nil
	}
	rc, err := models.DecodeRoundConsensus(value)
	if err != nil {
		return 0, fmt.Errorf("wallet: decode round consensus: %w", err)
	}
	return rc.BlockHeight, nil
}

// ConsensusProposal builds this peer's proposal for the current epoch:
// every staged signature-share item, then every staged nonce item, then
// exactly one RoundConsensusItem -- matching the wire-item ordering the
// rest of the module expects items to arrive in.
func (w *Wallet) ConsensusProposal(ctx context.Context) ([]models.ConsensusItem, error) {
	var items []models.ConsensusItem

	sigRows, err := w.store.PrefixScan([]byte{config.PrefixPegOutTxSignatureCI})
	if err != nil {
		return nil, fmt.Errorf("wallet: scan signature items: %w", err)
	}
	for _, row := range sigRows {
		item, err := models.DecodePegOutSignatureItem(row.Value)
		if err != nil {
			return nil, fmt.Errorf("wallet: decode signature item: %w", err)
		}
		items = append(items, models.ConsensusItem{Kind: models.KindPegOutSignature, SignatureItem: item})
	}

	nonceRows, err := w.store.PrefixScan([]byte{config.PrefixPegOutTxNonceCI})
	if err != nil {
		return nil, fmt.Errorf("wallet: scan nonce items: %w", err)
	}
	for _, row := range nonceRows {
		item, err := models.DecodePegOutNonceItem(row.Value)
		if err != nil {
			return nil, fmt.Errorf("wallet: decode nonce item: %w", err)
		}
		items = append(items, models.ConsensusItem{Kind: models.KindPegOutNonce, NonceItem: item})
	}

	roundItem, err := w.roundProposal(ctx)
	if err != nil {
		return nil, err
	}
	items = append(items, models.ConsensusItem{Kind: models.KindRoundConsensus, RoundItem: roundItem})

	return items, nil
}

// roundProposal builds this peer's RoundConsensusItem: the target block
// height (never proposed lower than the last agreed height, since the
// chain tip can only have been temporarily re-orged shallower than the
// federation's finality delay already accounts for), the current network
// fee rate estimate (falling back to the configured default if bitcoind's
// estimate is temporarily unavailable), and a fresh randomness
// contribution.
func (w *Wallet) roundProposal(ctx context.Context) (models.RoundConsensusItem, error) {
	tip, err := w.rpc.GetBlockHeight(ctx)
	if err != nil {
		return models.RoundConsensusItem{}, fmt.Errorf("wallet: get block height: %w", err)
	}
	ourTarget := TargetHeight(tip, w.cfg.FinalityDelay)

	lastHeight, err := w.lastConsensusHeight()
	if err != nil {
		return models.RoundConsensusItem{}, err
	}

	proposedHeight := ourTarget
	if ourTarget < lastHeight {
		slog.Warn("target height regressed, sticking to last consensus height", "target", ourTarget, "last", lastHeight)
		proposedHeight = lastHeight
	}

	feeRate, err := w.rpc.GetFeeRate(ctx, w.cfg.ConfirmationTarget)
	if err != nil {
		slog.Warn("fee rate estimate unavailable, using configured default", "error", err)
		feeRate = models.Feerate(w.cfg.DefaultFeeRate)
	}

	var randomness [32]byte
	if _, err := rand.Read(randomness[:]); err != nil {
		return models.RoundConsensusItem{}, fmt.Errorf("wallet: sample randomness contribution: %w", err)
	}

	return models.RoundConsensusItem{Height: proposedHeight, FeeRate: feeRate, Randomness: randomness}, nil
}

// AwaitConsensusProposal blocks until this peer actually has something to
// propose: a round with no staged nonces or signatures, whose target
// height hasn't moved past the last agreed height, carries nothing new
// for the federation and is skipped rather than hammering the BFT
// transport every epoch.
func (w *Wallet) AwaitConsensusProposal(ctx context.Context) ([]models.ConsensusItem, error) {
	for {
		proposal, err := w.ConsensusProposal(ctx)
		if err != nil {
			return nil, err
		}

		idle, err := w.isIdle(ctx, proposal)
		if err != nil {
			return nil, err
		}
		if !idle {
			return proposal, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(config.RoundIdlePollEvery):
		}
	}
}

// isIdle implements the idle-round check: nothing to propose this epoch
// iff the only item is the single round-consensus item, and that item's
// target height has not advanced past the last agreed height.
func (w *Wallet) isIdle(ctx context.Context, proposal []models.ConsensusItem) (bool, error) {
	nonces, signatures := 0, 0
	var roundItem models.RoundConsensusItem
	for _, item := range proposal {
		switch item.Kind {
		case models.KindPegOutNonce:
			nonces++
		case models.KindPegOutSignature:
			signatures++
		case models.KindRoundConsensus:
			roundItem = item.RoundItem
		}
	}
	if nonces != 0 || signatures != 0 {
		return false, nil
	}

	lastHeight, err := w.lastConsensusHeight()
	if err != nil {
		return false, err
	}
	return roundItem.Height <= lastHeight, nil
}

// BeginConsensusEpoch applies the agreed consensus items for this epoch:
// stages peer nonce/signature contributions onto their UnsignedTransaction
// rows (items referencing an unknown txid are logged and dropped), then
// aggregates every peer's round proposal into the epoch's agreed
// RoundConsensus, driving the chain follower up to the new height.
func (w *Wallet) BeginConsensusEpoch(ctx context.Context, batch *kvstore.Batch, items []PeerConsensusItem) (models.RoundConsensus, error) {
	pending := make(map[chainhash.Hash]*models.UnsignedTransaction)
	loadTx := func(txid chainhash.Hash) (*models.UnsignedTransaction, error) {
		if tx, ok := pending[txid]; ok {
			return tx, nil
		}
		value, found, err := w.store.Get(kvkeys.UnsignedTransaction(txid))
		if err != nil {
			return nil, fmt.Errorf("wallet: read unsigned transaction %s: %w", txid, err)
		}
		if !found {
			return nil, nil
		}
		tx, err := models.DecodeUnsignedTransaction(value)
		if err != nil {
			return nil, fmt.Errorf("wallet: decode unsigned transaction %s: %w", txid, err)
		}
		pending[txid] = &tx
		return &tx, nil
	}

	var roundItems []roundconsensus.PeerRoundItem
	for _, ci := range items {
		switch ci.Item.Kind {
		case models.KindPegOutNonce:
			item := ci.Item.NonceItem
			tx, err := loadTx(item.Txid)
			if err != nil {
				return models.RoundConsensus{}, err
			}
			if tx == nil {
				slog.Warn("peer sent peg-out nonce for unknown psbt", "peer", ci.Peer, "txid", item.Txid)
				continue
			}
			tx.Nonces = append(tx.Nonces, models.PeerNonces{Peer: ci.Peer, Nonces: item.Nonces})

		case models.KindPegOutSignature:
			item := ci.Item.SignatureItem
			tx, err := loadTx(item.Txid)
			if err != nil {
				return models.RoundConsensus{}, err
			}
			if tx == nil {
				slog.Warn("peer sent peg-out signature for unknown psbt", "peer", ci.Peer, "txid", item.Txid)
				continue
			}
			tx.Signatures = append(tx.Signatures, models.PeerShares{Peer: ci.Peer, Shares: item.Shares})

		case models.KindRoundConsensus:
			roundItems = append(roundItems, roundconsensus.PeerRoundItem{Peer: ci.Peer, Item: ci.Item.RoundItem})
		}
	}

	for txid, tx := range pending {
		encoded, err := models.EncodeUnsignedTransaction(*tx)
		if err != nil {
			return models.RoundConsensus{}, fmt.Errorf("wallet: encode unsigned transaction %s: %w", txid, err)
		}
		batch.Put(kvkeys.UnsignedTransaction(txid), encoded)
	}

	lastHeight, err := w.lastConsensusHeight()
	if err != nil {
		return models.RoundConsensus{}, err
	}

	return roundconsensus.ApplyRoundConsensus(ctx, w.follower, batch, roundItems, lastHeight)
}

// EndConsensusEpoch runs the peg-out coordinator's per-epoch actions
// (nonce/signature fault detection, advance-to-signing, finalize) against
// a consistent snapshot of this epoch's committed state, and returns the
// peers observed misbehaving so the caller can drop them from future
// rounds.
func (w *Wallet) EndConsensusEpoch(consensusPeers []models.PeerID) ([]models.PeerID, error) {
	snap, err := w.store.NewSnapshot()
	if err != nil {
		return nil, fmt.Errorf("wallet: open snapshot: %w", err)
	}
	defer snap.Close()

	batch := w.store.NewBatch()
	drop, err := w.coordinator.EndConsensusEpoch(snap, batch, consensusPeers)
	if err != nil {
		return nil, err
	}
	if err := w.store.Commit(batch); err != nil {
		return nil, fmt.Errorf("wallet: commit end-of-epoch batch: %w", err)
	}
	return drop, nil
}

// RunEpoch drives one full consensus epoch from an already-agreed item
// set: it commits BeginConsensusEpoch's batch, then runs
// EndConsensusEpoch, returning the peers observed misbehaving. It exists
// for callers -- a solo bring-up driver, a test -- that don't need
// BeginConsensusEpoch's returned RoundConsensus value and would otherwise
// have to repeat this same batch/commit dance themselves.
func (w *Wallet) RunEpoch(ctx context.Context, items []PeerConsensusItem, consensusPeers []models.PeerID) ([]models.PeerID, error) {
	batch := w.store.NewBatch()
	if _, err := w.BeginConsensusEpoch(ctx, batch, items); err != nil {
		return nil, err
	}
	if err := w.store.Commit(batch); err != nil {
		return nil, fmt.Errorf("wallet: commit begin-of-epoch batch: %w", err)
	}
	return w.EndConsensusEpoch(consensusPeers)
}

// ValidateInput checks a peg-in proof without applying it.
func (w *Wallet) ValidateInput(ctx context.Context, proof models.PegInProof) (pegin.InputMeta, error) {
	snap, err := w.store.NewSnapshot()
	if err != nil {
		return pegin.InputMeta{}, fmt.Errorf("wallet: open snapshot: %w", err)
	}
	defer snap.Close()
	return pegin.ValidateInput(ctx, snap, w.verifier, proof)
}

// ApplyInput claims a validated peg-in's outpoint as a new spendable UTXO.
func (w *Wallet) ApplyInput(ctx context.Context, batch *kvstore.Batch, proof models.PegInProof) (pegin.InputMeta, error) {
	snap, err := w.store.NewSnapshot()
	if err != nil {
		return pegin.InputMeta{}, fmt.Errorf("wallet: open snapshot: %w", err)
	}
	defer snap.Close()
	return pegin.ApplyInput(ctx, snap, batch, w.verifier, proof)
}

// currentRoundConsensus reads the epoch's agreed RoundConsensus row; it
// must exist by the time any peg-out is validated, since a federation
// always completes at least one round before user traffic is possible.
func (w *Wallet) currentRoundConsensus() (models.RoundConsensus, error) {
	value, found, err := w.store.Get(kvkeys.RoundConsensusRow)
	if err != nil {
		return models.RoundConsensus{}, fmt.Errorf("wallet: read round consensus: %w", err)
	}
	if !found {
		return models.RoundConsensus{}, fmt.Errorf("wallet: no round consensus agreed yet")
	}
	return models.DecodeRoundConsensus(value)
}

// availableUTXOs lists every currently spendable UTXO, for peg-out
// transaction construction.
func (w *Wallet) availableUTXOs() ([]txbuilder.SelectableUTXO, error) {
	rows, err := w.store.PrefixScan([]byte{config.PrefixUTXO})
	if err != nil {
		return nil, fmt.Errorf("wallet: scan utxos: %w", err)
	}
	out := make([]txbuilder.SelectableUTXO, 0, len(rows))
	for _, row := range rows {
		utxo, err := models.DecodeSpendableUTXO(row.Value)
		if err != nil {
			return nil, fmt.Errorf("wallet: decode utxo: %w", err)
		}
		outpoint, err := outpointFromUTXOKey(row.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, txbuilder.SelectableUTXO{Outpoint: outpoint, UTXO: utxo})
	}
	return out, nil
}

// outpointFromUTXOKey recovers the Outpoint a UTXO row's key encodes:
// the one-byte prefix followed by models.Outpoint.Bytes().
func outpointFromUTXOKey(key []byte) (models.Outpoint, error) {
	if len(key) != 1+chainhash.HashSize+4 {
		return models.Outpoint{}, fmt.Errorf("wallet: malformed utxo key (len %d)", len(key))
	}
	var o models.Outpoint
	copy(o.Txid[:], key[1:1+chainhash.HashSize])
	o.Vout = be32(key[1+chainhash.HashSize:])
	return o, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// addressFromScript reconstructs the btcutil.Address a peg-out request's
// destination script was originally parsed from, against the chaincfg
// params networkName names. Round-tripping through the claimed network's
// params is what lets CheckAddressNetworkCompatible see the same address
// type/network pairing the original encoded address carried.
func addressFromScript(script []byte, networkName string) (btcutil.Address, error) {
	params, err := rpc.ParamsForNetwork(networkName)
	if err != nil {
		return nil, err
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil {
		return nil, fmt.Errorf("wallet: extract address from destination script: %w", err)
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("wallet: destination script does not resolve to a single address")
	}
	return addrs[0], nil
}

// ValidateOutput checks that a peg-out request is admissible: the
// destination network is compatible with the federation's configured
// network, the offered fee rate meets the current consensus floor, and
// the available UTXO set can actually fund amount+fees. It returns the
// amount the request would move if applied, without mutating state.
func (w *Wallet) ValidateOutput(req models.PegOutRequest) (uint64, error) {
	addr, err := addressFromScript(req.DestinationScript, req.NetworkName)
	if err != nil {
		return 0, err
	}
	if err := rpc.CheckAddressNetworkCompatible(addr, w.cfg.Network); err != nil {
		return 0, err
	}

	consensus, err := w.currentRoundConsensus()
	if err != nil {
		return 0, err
	}
	if req.Fees.FeeRate < consensus.FeeRate {
		return 0, fmt.Errorf("wallet: %w", &walleterr.PegOutFeeRateError{
			Actual:    uint64(req.Fees.FeeRate),
			Consensus: uint64(consensus.FeeRate),
		})
	}

	utxos, err := w.availableUTXOs()
	if err != nil {
		return 0, err
	}
	if _, err := txbuilder.CreateTx(req.Amount, req.DestinationScript, utxos, req.Fees.FeeRate, consensus.RandomnessBeacon[:], w.aggregatePub); err != nil {
		return 0, fmt.Errorf("wallet: %w", walleterr.ErrNotEnoughSpendableUTXO)
	}

	return req.Amount, nil
}

// ApplyOutput validates req, builds its peg-out transaction (consuming the
// selected UTXOs and tweaking its change output under the current round's
// randomness beacon), emits this peer's own first-round nonces, and
// stages everything in batch.
func (w *Wallet) ApplyOutput(ctx context.Context, batch *kvstore.Batch, req models.PegOutRequest) (uint64, error) {
	amount, err := w.ValidateOutput(req)
	if err != nil {
		return 0, err
	}
	slog.Debug("queuing peg-out", "amount", req.Amount)

	consensus, err := w.currentRoundConsensus()
	if err != nil {
		return 0, err
	}

	utxos, err := w.availableUTXOs()
	if err != nil {
		return 0, err
	}

	tx, err := txbuilder.CreateTx(req.Amount, req.DestinationScript, utxos, req.Fees.FeeRate, consensus.RandomnessBeacon[:], w.aggregatePub)
	if err != nil {
		return 0, fmt.Errorf("wallet: build peg-out transaction: %w", err)
	}
	slog.Info("generating nonces for peg-out", "txid", tx.Txid)

	for _, u := range utxos {
		if usesUTXO(*tx, u.Outpoint) {
			batch.Delete(kvkeys.UTXO(u.Outpoint))
		}
	}

	nonces, err := w.coordinator.EmitNonces(*tx)
	if err != nil {
		return 0, fmt.Errorf("wallet: emit nonces: %w", err)
	}
	tx.Nonces = []models.PeerNonces{{Peer: w.coordinator.Self, Nonces: nonces}}

	encodedTx, err := models.EncodeUnsignedTransaction(*tx)
	if err != nil {
		return 0, fmt.Errorf("wallet: encode unsigned transaction: %w", err)
	}
	batch.Put(kvkeys.UnsignedTransaction(tx.Txid), encodedTx)

	nonceItem := models.PegOutNonceItem{Txid: tx.Txid, Nonces: nonces}
	encodedItem, err := models.EncodePegOutNonceItem(nonceItem)
	if err != nil {
		return 0, fmt.Errorf("wallet: encode nonce item: %w", err)
	}
	batch.Put(kvkeys.PegOutNonceCI(tx.Txid), encodedItem)

	return amount, nil
}

// EstimatePegOutFees dry-runs CreateTx against the current round
// consensus's fee rate and randomness beacon to report the fee terms a
// peg-out of amountSats to destinationScript would actually incur, or nil
// if the available UTXO set cannot currently fund it.
func (w *Wallet) EstimatePegOutFees(destinationScript []byte, amountSats uint64) (*models.PegOutFees, error) {
	consensus, err := w.currentRoundConsensus()
	if err != nil {
		return nil, err
	}
	utxos, err := w.availableUTXOs()
	if err != nil {
		return nil, err
	}
	tx, err := txbuilder.CreateTx(amountSats, destinationScript, utxos, consensus.FeeRate, consensus.RandomnessBeacon[:], w.aggregatePub)
	if err != nil {
		return nil, nil
	}
	return &tx.Fees, nil
}

// usesUTXO reports whether tx spends outpoint as one of its inputs. It
// re-parses the stored PSBT's declared inputs rather than trust any
// caller-maintained index, since the PSBT is the single source of truth
// for what CreateTx actually selected.
func usesUTXO(tx models.UnsignedTransaction, outpoint models.Outpoint) bool {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(tx.PSBT), false)
	if err != nil {
		return false
	}
	for _, in := range packet.UnsignedTx.TxIn {
		if in.PreviousOutPoint.Hash == outpoint.Txid && in.PreviousOutPoint.Index == outpoint.Vout {
			return true
		}
	}
	return false
}
