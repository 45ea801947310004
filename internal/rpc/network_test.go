package rpc

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/chaumfed/fedwallet/internal/walleterr"
)

func mustDecode(t *testing.T, addr string, params *chaincfg.Params) btcutil.Address {
	t.Helper()
	a, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		t.Fatalf("DecodeAddress(%q) error = %v", addr, err)
	}
	return a
}

func TestCheckAddressNetworkCompatible_TestnetLegacyAcceptsRegtestAndSignet(t *testing.T) {
	// A testnet P2PKH address, well-formed per BIP-13/BIP-16 version bytes
	// shared across testnet/regtest/signet.
	addr := mustDecode(t, "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", &chaincfg.TestNet3Params)

	for _, network := range []string{"testnet", "regtest", "signet"} {
		if err := CheckAddressNetworkCompatible(addr, network); err != nil {
			t.Errorf("legacy testnet address rejected for network %q: %v", network, err)
		}
	}
	if err := CheckAddressNetworkCompatible(addr, "mainnet"); err == nil {
		t.Error("legacy testnet address accepted for mainnet, want rejection")
	}
}

func TestCheckAddressNetworkCompatible_TestnetSegwitRejectsRegtest(t *testing.T) {
	addr := mustDecode(t, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", &chaincfg.TestNet3Params)

	for _, network := range []string{"testnet", "signet"} {
		if err := CheckAddressNetworkCompatible(addr, network); err != nil {
			t.Errorf("testnet segwit address rejected for network %q: %v", network, err)
		}
	}
	if err := CheckAddressNetworkCompatible(addr, "regtest"); err == nil {
		t.Error("testnet segwit address accepted for regtest, want rejection (regtest uses its own bech32 HRP)")
	}
}

func TestCheckAddressNetworkCompatible_MainnetMustMatchExactly(t *testing.T) {
	addr := mustDecode(t, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", &chaincfg.MainNetParams)

	if err := CheckAddressNetworkCompatible(addr, "mainnet"); err != nil {
		t.Errorf("mainnet address rejected for mainnet: %v", err)
	}
	if err := CheckAddressNetworkCompatible(addr, "testnet"); err == nil {
		t.Error("mainnet address accepted for testnet, want rejection")
	} else if !errors.Is(err, walleterr.ErrWrongNetwork) {
		t.Errorf("error = %v, want wrapping ErrWrongNetwork", err)
	}
}

func TestCheckAddressNetworkCompatible_UnknownConfiguredNetwork(t *testing.T) {
	addr := mustDecode(t, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", &chaincfg.MainNetParams)

	if err := CheckAddressNetworkCompatible(addr, "not-a-real-network"); !errors.Is(err, walleterr.ErrUnknownNetwork) {
		t.Errorf("error = %v, want wrapping ErrUnknownNetwork", err)
	}
}
