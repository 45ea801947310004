package feerate

import (
	"testing"

	"github.com/chaumfed/fedwallet/internal/models"
)

func TestTotalWeightMatchesFormula(t *testing.T) {
	const destLen, changeLen = 34, 34
	got := TotalWeight(2, destLen, changeLen)
	want := BaseWeight() + OutputWeight(destLen, changeLen) + 2*InputWeight()
	if got != want {
		t.Errorf("TotalWeight() = %d, want %d", got, want)
	}
}

func TestFeeIntegerDivisionTruncates(t *testing.T) {
	rate := models.Feerate(999)
	weight := uint64(3)
	got := rate.Fee(weight)
	want := uint64(999) * 3 / 1000
	if got != want {
		t.Errorf("Fee() = %d, want %d (truncated)", got, want)
	}
	if got != 2 {
		t.Errorf("Fee() = %d, want 2 for sanity (999*3/1000 truncates to 2)", got)
	}
}

func TestDustValueOpReturnIsZero(t *testing.T) {
	script := []byte{0x6a, 0x04, 'a', 'b', 'c', 'd'}
	if got := DustValue(script); got != 0 {
		t.Errorf("DustValue(OP_RETURN) = %d, want 0", got)
	}
}

func TestDustValueTaprootWitnessProgram(t *testing.T) {
	script := make([]byte, 34)
	script[0] = 0x51 // OP_1
	script[1] = 0x20 // 32-byte push
	got := DustValue(script)
	want := (uint64(34) + 67) * 3
	if got != want {
		t.Errorf("DustValue(P2TR) = %d, want %d", got, want)
	}
}

func TestDustValueLegacyScript(t *testing.T) {
	// P2PKH: OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
	script := make([]byte, 25)
	script[0] = 0x76
	script[1] = 0xa9
	got := DustValue(script)
	want := (uint64(25) + 148) * 3
	if got != want {
		t.Errorf("DustValue(P2PKH) = %d, want %d", got, want)
	}
}
