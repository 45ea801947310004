package wallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/frost"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/pegin"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeRPC is a minimal in-memory rpc.BitcoindRpc for exercising the
// facade without a live bitcoind.
type fakeRPC struct {
	height  uint64
	feeRate models.Feerate
	sent    []*wire.MsgTx
}

func (f *fakeRPC) GetNetwork(ctx context.Context) (string, error) { return "regtest", nil }
func (f *fakeRPC) GetBlockHeight(ctx context.Context) (uint64, error) { return f.height, nil }
func (f *fakeRPC) GetBlockHash(ctx context.Context, height uint64) (chainhash.Hash, error) {
	var h chainhash.Hash
	h[0] = byte(height)
	return h, nil
}
func (f *fakeRPC) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	return wire.NewMsgBlock(wire.NewBlockHeader(0, &chainhash.Hash{}, &chainhash.Hash{}, 0, 0)), nil
}
func (f *fakeRPC) GetFeeRate(ctx context.Context, confTarget uint16) (models.Feerate, error) {
	return f.feeRate, nil
}
func (f *fakeRPC) SubmitTransaction(ctx context.Context, tx *wire.MsgTx) error {
	f.sent = append(f.sent, tx)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Network:            "regtest",
		PeerID:             1,
		NumPeers:           1,
		Threshold:          1,
		FinalityDelay:      0,
		ConfirmationTarget: 6,
		DefaultFeeRate:     1000,
		BitcoindRPCURLs:    []string{"http://127.0.0.1:0"},
	}
}

func newTestWallet(t *testing.T, store *kvstore.Store, rpcClient *fakeRPC) (*Wallet, *frost.KeyGenResult) {
	t.Helper()
	keygen, err := frost.GenerateTrustedDealer(1, 1)
	if err != nil {
		t.Fatalf("GenerateTrustedDealer() error = %v", err)
	}
	w := New(testConfig(), store, rpcClient, pegin.InsecureAcceptAllVerifier{}, keygen.GroupPublicKey,
		keygen.VerificationShares, keygen.Threshold, models.PeerID(1), keygen.SecretShares[models.PeerID(1)])
	return w, keygen
}

func seedRoundConsensus(t *testing.T, w *Wallet, height uint32, feeRate models.Feerate) {
	t.Helper()
	batch := w.store.NewBatch()
	_, err := w.BeginConsensusEpoch(context.Background(), batch, []PeerConsensusItem{
		{Peer: 1, Item: models.ConsensusItem{
			Kind:      models.KindRoundConsensus,
			RoundItem: models.RoundConsensusItem{Height: height, FeeRate: feeRate, Randomness: [32]byte{0xAB}},
		}},
	})
	if err != nil {
		t.Fatalf("BeginConsensusEpoch() error = %v", err)
	}
	if err := w.store.Commit(batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func seedUTXO(t *testing.T, w *Wallet, keygen *frost.KeyGenResult, outpointByte byte, tweak32 byte, amount uint64) models.Outpoint {
	t.Helper()
	outpoint := models.Outpoint{Txid: chainhash.Hash{outpointByte}, Vout: 0}
	utxo := models.SpendableUTXO{Tweak: [32]byte{tweak32}, Amount: amount}
	encoded, err := models.EncodeSpendableUTXO(utxo)
	if err != nil {
		t.Fatalf("EncodeSpendableUTXO() error = %v", err)
	}
	batch := w.store.NewBatch()
	batch.Put(utxoKeyForTest(outpoint), encoded)
	if err := w.store.Commit(batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return outpoint
}

// utxoKeyForTest mirrors kvkeys.UTXO without importing it twice; kept
// local so the test stays readable next to seedUTXO.
func utxoKeyForTest(o models.Outpoint) []byte {
	b := o.Bytes()
	key := make([]byte, 1+len(b))
	key[0] = config.PrefixUTXO
	copy(key[1:], b)
	return key
}

func regtestDestinationScript(t *testing.T) []byte {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(make([]byte, 20), &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash() error = %v", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript() error = %v", err)
	}
	return script
}

// TestConsensusProposalOrdering checks the wire-item ordering every other
// component relies on: signatures first, then nonces, then exactly one
// round-consensus item.
func TestConsensusProposalOrdering(t *testing.T) {
	store := openTestStore(t)
	rpcClient := &fakeRPC{height: 100, feeRate: 1500}
	w, _ := newTestWallet(t, store, rpcClient)

	txid := chainhash.Hash{0x42}
	nonceItem := models.PegOutNonceItem{Txid: txid, Nonces: []models.FrostNonce{{Peer: 1}}}
	encodedNonce, _ := models.EncodePegOutNonceItem(nonceItem)
	sigItem := models.PegOutSignatureItem{Txid: txid, Shares: []models.FrostSigShare{{Peer: 1}}}
	encodedSig, _ := models.EncodePegOutSignatureItem(sigItem)

	batch := store.NewBatch()
	batch.Put(nonceCIKeyForTest(txid), encodedNonce)
	batch.Put(sigCIKeyForTest(txid), encodedSig)
	if err := store.Commit(batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	items, err := w.ConsensusProposal(context.Background())
	if err != nil {
		t.Fatalf("ConsensusProposal() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].Kind != models.KindPegOutSignature {
		t.Errorf("items[0].Kind = %v, want KindPegOutSignature", items[0].Kind)
	}
	if items[1].Kind != models.KindPegOutNonce {
		t.Errorf("items[1].Kind = %v, want KindPegOutNonce", items[1].Kind)
	}
	if items[2].Kind != models.KindRoundConsensus {
		t.Errorf("items[2].Kind = %v, want KindRoundConsensus", items[2].Kind)
	}
}

func nonceCIKeyForTest(txid chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = config.PrefixPegOutTxNonceCI
	copy(key[1:], txid[:])
	return key
}

func sigCIKeyForTest(txid chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = config.PrefixPegOutTxSignatureCI
	copy(key[1:], txid[:])
	return key
}

// TestIsIdleTargetHeightNotAdvanced covers the idle-round check: no
// nonces, no signatures, and a target height that hasn't moved past the
// last agreed height means nothing to propose.
func TestIsIdleTargetHeightNotAdvanced(t *testing.T) {
	store := openTestStore(t)
	rpcClient := &fakeRPC{height: 50, feeRate: 1000}
	w, _ := newTestWallet(t, store, rpcClient)
	seedRoundConsensus(t, w, 50, 1000)

	proposal, err := w.ConsensusProposal(context.Background())
	if err != nil {
		t.Fatalf("ConsensusProposal() error = %v", err)
	}
	idle, err := w.isIdle(context.Background(), proposal)
	if err != nil {
		t.Fatalf("isIdle() error = %v", err)
	}
	if !idle {
		t.Errorf("isIdle() = false, want true (target height == last consensus height, nothing staged)")
	}
}

// TestIsIdleFalseWhenHeightAdvances covers the complementary case: once
// the chain tip moves forward, there is a new round proposal to make.
func TestIsIdleFalseWhenHeightAdvances(t *testing.T) {
	store := openTestStore(t)
	rpcClient := &fakeRPC{height: 50, feeRate: 1000}
	w, _ := newTestWallet(t, store, rpcClient)
	seedRoundConsensus(t, w, 40, 1000)

	proposal, err := w.ConsensusProposal(context.Background())
	if err != nil {
		t.Fatalf("ConsensusProposal() error = %v", err)
	}
	idle, err := w.isIdle(context.Background(), proposal)
	if err != nil {
		t.Fatalf("isIdle() error = %v", err)
	}
	if idle {
		t.Errorf("isIdle() = true, want false (target height 50 > last consensus height 40)")
	}
}

// TestValidateOutputRejectsBelowConsensusFeeRate mirrors the peg-out
// fee-rate floor check: a request below the agreed consensus fee rate is
// rejected even if funds are otherwise sufficient.
func TestValidateOutputRejectsBelowConsensusFeeRate(t *testing.T) {
	store := openTestStore(t)
	rpcClient := &fakeRPC{height: 100, feeRate: 2000}
	w, keygen := newTestWallet(t, store, rpcClient)
	seedRoundConsensus(t, w, 100, 2000)
	seedUTXO(t, w, keygen, 0x01, 0x02, 1_000_000)

	req := models.PegOutRequest{
		DestinationScript: regtestDestinationScript(t),
		Amount:            10_000,
		Fees:              models.PegOutFees{FeeRate: 500},
		NetworkName:       "regtest",
	}

	_, err := w.ValidateOutput(req)
	if err == nil {
		t.Fatal("ValidateOutput() error = nil, want ErrPegOutFeeRate")
	}
}

// TestApplyOutputEndToEndS4 exercises the full single-peer peg-out path
// (threshold 1, one federation member): apply queues nonces, the first
// epoch end produces the signature share, and the second finalizes a
// broadcast-ready transaction, since the lone signer is both the nonce
// contributor and the signer.
func TestApplyOutputEndToEndS4(t *testing.T) {
	store := openTestStore(t)
	rpcClient := &fakeRPC{height: 100, feeRate: 1000}
	w, keygen := newTestWallet(t, store, rpcClient)
	seedRoundConsensus(t, w, 100, 1000)
	seedUTXO(t, w, keygen, 0x01, 0x02, 1_000_000)

	req := models.PegOutRequest{
		DestinationScript: regtestDestinationScript(t),
		Amount:            10_000,
		Fees:              models.PegOutFees{FeeRate: 1000},
		NetworkName:       "regtest",
	}

	batch := store.NewBatch()
	if _, err := w.ApplyOutput(context.Background(), batch, req); err != nil {
		t.Fatalf("ApplyOutput() error = %v", err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// First epoch: the lone peer's own nonce already clears the
	// threshold, so this epoch advances the transaction straight to a
	// signature share -- but finalize only considers transactions that
	// already had signatures when the epoch began.
	drop, err := w.EndConsensusEpoch([]models.PeerID{1})
	if err != nil {
		t.Fatalf("EndConsensusEpoch() error = %v", err)
	}
	if len(drop) != 0 {
		t.Errorf("EndConsensusEpoch() drop = %v, want empty", drop)
	}

	// Second epoch: the transaction now has every participant's share
	// and finalizes into a broadcast-ready PendingTransaction.
	drop, err = w.EndConsensusEpoch([]models.PeerID{1})
	if err != nil {
		t.Fatalf("EndConsensusEpoch() error = %v", err)
	}
	if len(drop) != 0 {
		t.Errorf("EndConsensusEpoch() drop = %v, want empty", drop)
	}

	report, err := w.Audit()
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if report.LiabilitiesMsat == 0 {
		t.Errorf("Audit().LiabilitiesMsat = 0, want change still owed via PendingTransaction")
	}
}

// TestAuditSumsAssetsAndLiabilities covers the solvency statement across
// all three relevant prefixes.
func TestAuditSumsAssetsAndLiabilities(t *testing.T) {
	store := openTestStore(t)
	rpcClient := &fakeRPC{height: 100, feeRate: 1000}
	w, keygen := newTestWallet(t, store, rpcClient)
	seedUTXO(t, w, keygen, 0x05, 0x06, 500_000)

	report, err := w.Audit()
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if report.AssetsMsat != 500_000*1000 {
		t.Errorf("AssetsMsat = %d, want %d", report.AssetsMsat, 500_000*1000)
	}
	if report.LiabilitiesMsat != 0 {
		t.Errorf("LiabilitiesMsat = %d, want 0", report.LiabilitiesMsat)
	}
}
