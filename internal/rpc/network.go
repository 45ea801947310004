package rpc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// networks maps the config's network names to chaincfg params, matching
// the set of names bitcoind itself reports via getblockchaininfo's "chain"
// field (main/test/signet/regtest).
var networks = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"main":    &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"test":    &chaincfg.TestNet3Params,
	"signet":  &chaincfg.SigNetParams,
	"regtest": &chaincfg.RegressionNetParams,
}

// ParamsForNetwork resolves a configured network name to its chaincfg
// params, returning walleterr.ErrUnknownNetwork if unrecognized.
func ParamsForNetwork(name string) (*chaincfg.Params, error) {
	p, ok := networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", walleterr.ErrUnknownNetwork, name)
	}
	return p, nil
}

// CheckAddressNetworkCompatible implements the bit-exact compatibility
// table from the external-interfaces contract: testnet-encoded legacy
// P2PKH/P2SH addresses are accepted against {testnet, regtest, signet}
// since they share an address-version byte; every other testnet-encoded
// address type (bech32 segwit, taproot) is only accepted against
// {testnet, signet}, since regtest uses its own bech32 HRP ("bcrt") and
// so can never actually decode as one; everything else must match
// cfg.network exactly.
func CheckAddressNetworkCompatible(addr btcutil.Address, cfgNetwork string) error {
	cfgParams, err := ParamsForNetwork(cfgNetwork)
	if err != nil {
		return err
	}

	switch addr.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash:
		if addr.IsForNet(&chaincfg.TestNet3Params) {
			if cfgNetwork == "testnet" || cfgNetwork == "test" || cfgNetwork == "regtest" || cfgNetwork == "signet" {
				return nil
			}
			return &walleterr.WrongNetworkError{Actual: "testnet", Expected: cfgNetwork}
		}
	default:
		if addr.IsForNet(&chaincfg.TestNet3Params) {
			if cfgNetwork == "testnet" || cfgNetwork == "test" || cfgNetwork == "signet" {
				return nil
			}
			return &walleterr.WrongNetworkError{Actual: "testnet", Expected: cfgNetwork}
		}
	}

	if addr.IsForNet(cfgParams) {
		return nil
	}
	return &walleterr.WrongNetworkError{Actual: addressNetworkName(addr), Expected: cfgNetwork}
}

// addressNetworkName best-efforts a human-readable network name for an
// address that failed the compatibility check, for error messages only.
func addressNetworkName(addr btcutil.Address) string {
	for name, params := range networks {
		if addr.IsForNet(params) {
			return name
		}
	}
	return "unknown"
}
