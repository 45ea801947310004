package roundconsensus

import (
	"testing"

	"github.com/chaumfed/fedwallet/internal/models"
)

func item(peer models.PeerID, height uint32, feeRate models.Feerate, randomness [32]byte) PeerRoundItem {
	return PeerRoundItem{Peer: peer, Item: models.RoundConsensusItem{Height: height, FeeRate: feeRate, Randomness: randomness}}
}

func TestAggregateMedianHeightAndFeeRate(t *testing.T) {
	items := []PeerRoundItem{
		item(1, 100, 5, [32]byte{}),
		item(2, 102, 9, [32]byte{}),
		item(3, 101, 7, [32]byte{}),
	}
	result := Aggregate(items, 90)
	if result.BlockHeight != 101 {
		t.Errorf("BlockHeight = %d, want 101 (median of 100,101,102)", result.BlockHeight)
	}
	if result.FeeRate != 7 {
		t.Errorf("FeeRate = %d, want 7 (median of 5,7,9)", result.FeeRate)
	}
}

func TestAggregateRandomnessIsXORFold(t *testing.T) {
	var a, b, c [32]byte
	a[0], a[1] = 0xFF, 0x0F
	b[0], b[1] = 0x0F, 0xF0
	c[0], c[1] = 0x00, 0x00

	items := []PeerRoundItem{
		item(1, 10, 1, a),
		item(2, 10, 1, b),
		item(3, 10, 1, c),
	}
	result := Aggregate(items, 0)

	wantByte0 := a[0] ^ b[0] ^ c[0]
	wantByte1 := a[1] ^ b[1] ^ c[1]
	if result.RandomnessBeacon[0] != wantByte0 || result.RandomnessBeacon[1] != wantByte1 {
		t.Errorf("RandomnessBeacon[:2] = %x, want [%x %x]", result.RandomnessBeacon[:2], wantByte0, wantByte1)
	}
}

func TestAggregatePanicsOnEmptyItems(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Aggregate(nil) did not panic on empty round_items")
		}
	}()
	Aggregate(nil, 0)
}

func TestAggregatePanicsOnHeightRegression(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Aggregate() did not panic on median height regression")
		}
	}()
	items := []PeerRoundItem{
		item(1, 50, 1, [32]byte{}),
		item(2, 51, 1, [32]byte{}),
		item(3, 49, 1, [32]byte{}),
	}
	Aggregate(items, 1000)
}

func TestAggregateMedianOfEvenCountUsesUpperMiddle(t *testing.T) {
	items := []PeerRoundItem{
		item(1, 10, 100, [32]byte{}),
		item(2, 20, 200, [32]byte{}),
	}
	result := Aggregate(items, 0)
	if result.BlockHeight != 20 {
		t.Errorf("BlockHeight = %d, want 20 (index len/2 = 1 of [10,20])", result.BlockHeight)
	}
	if result.FeeRate != 200 {
		t.Errorf("FeeRate = %d, want 200", result.FeeRate)
	}
}
