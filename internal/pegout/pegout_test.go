package pegout

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chaumfed/fedwallet/internal/frost"
	"github.com/chaumfed/fedwallet/internal/kvkeys"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/txbuilder"
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

// buildSingleInputTx assembles a one-input, two-output peg-out via the
// tx builder so its PSBT carries real witness-UTXO and proprietary-tweak
// annotations, matching what the coordinator would actually operate on.
func buildSingleInputTx(t *testing.T, keygen *frost.KeyGenResult) models.UnsignedTransaction {
	t.Helper()
	utxo := txbuilder.SelectableUTXO{
		Outpoint: models.Outpoint{Txid: chainhash.Hash{0x11}, Vout: 0},
		UTXO:     models.SpendableUTXO{Tweak: [32]byte{0x07}, Amount: 100_000},
	}
	destScript := append([]byte{0x51, 0x20}, make([]byte, 32)...)
	result, err := txbuilder.CreateTx(1_000, destScript, []txbuilder.SelectableUTXO{utxo}, models.Feerate(1), []byte{0xAA}, keygen.GroupPublicKey)
	if err != nil {
		t.Fatalf("CreateTx() error = %v", err)
	}
	return *result
}

func coordinatorFor(keygen *frost.KeyGenResult, peer models.PeerID) *Coordinator {
	return New(keygen.GroupPublicKey, keygen.VerificationShares, keygen.Threshold, peer, keygen.SecretShares[peer])
}

func putNonces(t *testing.T, tx *models.UnsignedTransaction, c *Coordinator) {
	t.Helper()
	nonces, err := c.EmitNonces(*tx)
	if err != nil {
		t.Fatalf("EmitNonces() error = %v", err)
	}
	tx.Nonces = append(tx.Nonces, models.PeerNonces{Peer: c.Self, Nonces: nonces})
}

// signAsPeer reproduces the second-round share a peer would emit for
// input 0 of tx, given the nonces already accumulated on it.
func signAsPeer(t *testing.T, c *Coordinator, tx models.UnsignedTransaction) models.FrostSigShare {
	t.Helper()
	packet, err := parsePacket(tx)
	if err != nil {
		t.Fatalf("parsePacket() error = %v", err)
	}
	session, _, err := createSignSession(c.AggregatePub, c.VerificationShares, packet, 0, tx.Nonces)
	if err != nil {
		t.Fatalf("createSignSession() error = %v", err)
	}
	sid := frost.SigningID(0, tx.Txid)
	d, e := frost.GenNonce(c.SecretShare, sid)
	z, err := frost.Sign(session, c.Self, c.SecretShare, d, e)
	if err != nil {
		t.Fatalf("frost.Sign() error = %v", err)
	}
	return models.FrostSigShare{Peer: c.Self, Share: z.Bytes()}
}

func putUnsignedTx(t *testing.T, store *kvstore.Store, tx models.UnsignedTransaction) {
	t.Helper()
	encoded, err := models.EncodeUnsignedTransaction(tx)
	if err != nil {
		t.Fatalf("EncodeUnsignedTransaction() error = %v", err)
	}
	batch := store.NewBatch()
	batch.Put(kvkeys.UnsignedTransaction(tx.Txid), encoded)
	if err := store.Commit(batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

// TestThresholdGatingS4 mirrors scenario S4: 5 peers, threshold=3. In
// epoch E1 only peers {1,2} have contributed nonces -- no share is
// emitted. In E2 peer 3 also contributes, and the local peer (peer 1)
// emits and persists its own signature share, deleting its nonce
// proposal row.
func TestThresholdGatingS4(t *testing.T) {
	keygen, err := frost.GenerateTrustedDealer(3, 5)
	if err != nil {
		t.Fatalf("GenerateTrustedDealer() error = %v", err)
	}
	c1 := coordinatorFor(keygen, 1)
	c2 := coordinatorFor(keygen, 2)
	c3 := coordinatorFor(keygen, 3)

	tx := buildSingleInputTx(t, keygen)
	putNonces(t, &tx, c1)
	putNonces(t, &tx, c2)

	store := openTestStore(t)
	putUnsignedTx(t, store, tx)

	seed := store.NewBatch()
	seed.Put(kvkeys.PegOutNonceCI(tx.Txid), []byte("placeholder"))
	if err := store.Commit(seed); err != nil {
		t.Fatalf("seed Commit() error = %v", err)
	}

	snap1, err := store.NewSnapshot()
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	batch1 := store.NewBatch()
	if _, err := c1.EndConsensusEpoch(snap1, batch1, []models.PeerID{1, 2}); err != nil {
		t.Fatalf("EndConsensusEpoch(E1) error = %v", err)
	}
	snap1.Close()
	if err := store.Commit(batch1); err != nil {
		t.Fatalf("Commit(E1) error = %v", err)
	}

	value, found, err := store.Get(kvkeys.UnsignedTransaction(tx.Txid))
	if err != nil || !found {
		t.Fatalf("UnsignedTransaction row missing after E1: found=%v err=%v", found, err)
	}
	afterE1, err := models.DecodeUnsignedTransaction(value)
	if err != nil {
		t.Fatalf("DecodeUnsignedTransaction() error = %v", err)
	}
	if afterE1.HasSignatures() {
		t.Fatal("E1: expected no signature share to be emitted with only 2 of 3 threshold nonces present")
	}

	thirdNonce, err := c3.EmitNonces(afterE1)
	if err != nil {
		t.Fatalf("EmitNonces(peer3) error = %v", err)
	}
	afterE1.Nonces = append(afterE1.Nonces, models.PeerNonces{Peer: 3, Nonces: thirdNonce})
	putUnsignedTx(t, store, afterE1)

	snap2, err := store.NewSnapshot()
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	batch2 := store.NewBatch()
	if _, err := c1.EndConsensusEpoch(snap2, batch2, []models.PeerID{1, 2, 3}); err != nil {
		t.Fatalf("EndConsensusEpoch(E2) error = %v", err)
	}
	snap2.Close()
	if err := store.Commit(batch2); err != nil {
		t.Fatalf("Commit(E2) error = %v", err)
	}

	value2, found, err := store.Get(kvkeys.UnsignedTransaction(tx.Txid))
	if err != nil || !found {
		t.Fatalf("UnsignedTransaction row missing after E2: found=%v err=%v", found, err)
	}
	afterE2, err := models.DecodeUnsignedTransaction(value2)
	if err != nil {
		t.Fatalf("DecodeUnsignedTransaction() error = %v", err)
	}
	if !afterE2.HasSignatures() {
		t.Fatal("E2: expected peer 1 to have emitted its own signature share once threshold nonces arrived")
	}
	if len(afterE2.Signatures) != 1 || afterE2.Signatures[0].Peer != 1 {
		t.Errorf("E2: signatures = %+v, want exactly peer 1's own share", afterE2.Signatures)
	}

	if _, found, _ := store.Get(kvkeys.PegOutNonceCI(tx.Txid)); found {
		t.Error("E2: expected the local nonce proposal row to be deleted once signing started")
	}
	if _, found, _ := store.Get(kvkeys.PegOutSignatureCI(tx.Txid)); !found {
		t.Error("E2: expected the local signature proposal row to be inserted")
	}
}

// TestDetectSignatureRoundFaultsIsDeterministicS5 mirrors scenario S5 and
// invariant 7: peer 4 contributes an invalid signature share; every peer
// computes the same drop_peers set from identical inputs.
func TestDetectSignatureRoundFaultsIsDeterministicS5(t *testing.T) {
	keygen, err := frost.GenerateTrustedDealer(3, 5)
	if err != nil {
		t.Fatalf("GenerateTrustedDealer() error = %v", err)
	}
	c1 := coordinatorFor(keygen, 1)
	c2 := coordinatorFor(keygen, 2)
	c4 := coordinatorFor(keygen, 4)

	tx := buildSingleInputTx(t, keygen)
	putNonces(t, &tx, c1)
	putNonces(t, &tx, c2)
	putNonces(t, &tx, c4)

	validShare1 := signAsPeer(t, c1, tx)
	validShare2 := signAsPeer(t, c2, tx)
	invalidShare4 := models.FrostSigShare{Peer: 4, Share: [32]byte{0xFF, 0xEE, 0xDD}}

	tx.Signatures = []models.PeerShares{
		{Peer: 1, Shares: []models.FrostSigShare{validShare1}},
		{Peer: 2, Shares: []models.FrostSigShare{validShare2}},
		{Peer: 4, Shares: []models.FrostSigShare{invalidShare4}},
	}

	dropAsSeenBy1 := make(map[models.PeerID]bool)
	if err := c1.detectSignatureRoundFaults([]models.UnsignedTransaction{tx}, dropAsSeenBy1); err != nil {
		t.Fatalf("detectSignatureRoundFaults(peer1) error = %v", err)
	}
	dropAsSeenBy4 := make(map[models.PeerID]bool)
	if err := c4.detectSignatureRoundFaults([]models.UnsignedTransaction{tx}, dropAsSeenBy4); err != nil {
		t.Fatalf("detectSignatureRoundFaults(peer4) error = %v", err)
	}

	if len(dropAsSeenBy1) != 1 || !dropAsSeenBy1[4] {
		t.Errorf("peer1 drop set = %v, want {4}", dropAsSeenBy1)
	}
	if len(dropAsSeenBy4) != 1 || !dropAsSeenBy4[4] {
		t.Errorf("peer4 drop set = %v, want {4}", dropAsSeenBy4)
	}
}

// TestFinalizeCombinesAndVerifiesSignatureInvariant5 checks invariant 5:
// for a successfully finalized peg-out, the combined signature verifies
// against the tweaked output key for the taproot key-spend sighash, for
// every input.
func TestFinalizeCombinesAndVerifiesSignatureInvariant5(t *testing.T) {
	keygen, err := frost.GenerateTrustedDealer(2, 3)
	if err != nil {
		t.Fatalf("GenerateTrustedDealer() error = %v", err)
	}
	c1 := coordinatorFor(keygen, 1)
	c2 := coordinatorFor(keygen, 2)

	tx := buildSingleInputTx(t, keygen)
	putNonces(t, &tx, c1)
	putNonces(t, &tx, c2)

	share1 := signAsPeer(t, c1, tx)
	share2 := signAsPeer(t, c2, tx)
	tx.Signatures = []models.PeerShares{
		{Peer: 1, Shares: []models.FrostSigShare{share1}},
		{Peer: 2, Shares: []models.FrostSigShare{share2}},
	}

	store := openTestStore(t)
	putUnsignedTx(t, store, tx)

	batch := store.NewBatch()
	if err := c1.finalizeSignedTransactions(batch, []models.UnsignedTransaction{tx}); err != nil {
		t.Fatalf("finalizeSignedTransactions() error = %v", err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if _, found, _ := store.Get(kvkeys.UnsignedTransaction(tx.Txid)); found {
		t.Error("expected UnsignedTransaction row to be deleted after finalization")
	}
	if _, found, _ := store.Get(kvkeys.PegOutSignatureCI(tx.Txid)); found {
		t.Error("expected the local signature proposal row to be deleted after finalization")
	}

	value, found, err := store.Get(kvkeys.PendingTransaction(tx.Txid))
	if err != nil || !found {
		t.Fatalf("PendingTransaction row missing: found=%v err=%v", found, err)
	}
	pending, err := models.DecodePendingTransaction(value)
	if err != nil {
		t.Fatalf("DecodePendingTransaction() error = %v", err)
	}
	if pending.Change != tx.Change {
		t.Errorf("pending.Change = %d, want %d", pending.Change, tx.Change)
	}
	wantTweak := [32]byte{0xAA}
	if pending.Tweak != wantTweak {
		t.Errorf("pending.Tweak = %x, want %x", pending.Tweak, wantTweak)
	}

	var finalTx wire.MsgTx
	if err := finalTx.Deserialize(bytes.NewReader(pending.TxHex)); err != nil {
		t.Fatalf("deserialize final tx: %v", err)
	}
	if len(finalTx.TxIn[0].Witness) != 1 || len(finalTx.TxIn[0].Witness[0]) != 64 {
		t.Fatalf("final witness = %v, want a single 64-byte Schnorr signature", finalTx.TxIn[0].Witness)
	}

	sig, err := schnorr.ParseSignature(finalTx.TxIn[0].Witness[0])
	if err != nil {
		t.Fatalf("ParseSignature() error = %v", err)
	}

	packet, err := parsePacket(tx)
	if err != nil {
		t.Fatalf("parsePacket() error = %v", err)
	}
	session, _, err := createSignSession(c1.AggregatePub, c1.VerificationShares, packet, 0, tx.Nonces)
	if err != nil {
		t.Fatalf("createSignSession() error = %v", err)
	}
	outputKey, err := schnorr.ParsePubKey(session.OutputKeyXOnly[:])
	if err != nil {
		t.Fatalf("ParsePubKey() error = %v", err)
	}
	if !sig.Verify(session.Message[:], outputKey) {
		t.Error("invariant 5 violated: combined signature does not verify against the tweaked output key and sighash")
	}
}
