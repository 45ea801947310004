package config

import "time"

// PSBT proprietary key carrying per-UTXO/change tweak information across
// epochs (spec §6).
const (
	ProprietaryPrefix  = "minimint"
	ProprietarySubtype = 0x00
)

// KV store key prefixes (spec §6).
const (
	PrefixRoundConsensus      byte = 0x30
	PrefixBlockHash           byte = 0x31
	PrefixUTXO                byte = 0x32
	PrefixUnsignedTransaction byte = 0x33
	PrefixPendingTransaction  byte = 0x34
	PrefixPegOutTxSignatureCI byte = 0x35
	PrefixPegOutTxNonceCI     byte = 0x36
)

// Consensus wire-item variant tags (spec §6).
const (
	WireKindRoundConsensus  byte = 0x01
	WireKindPegOutNonce     byte = 0x02
	WireKindPegOutSignature byte = 0x03
)

// Weight model constants (spec §4.2).
const (
	TxBaseWeight                 = 16 + 12 + 12 + 16
	OutputFixedWeight            = 33
	TaprootKeySpendWitnessWeight = 66 // single 64-byte Schnorr sig + length-prefix/annex accounting
	InputBaseWeight              = 160
)

// Database
const (
	DBWALMode     = true
	DBBusyTimeout = 5000 // milliseconds
)

// Logging
const (
	LogFilePattern = "fedwallet-%s-%s.log" // date, level
	LogMaxAgeDays  = 30
)

// Timers
const (
	BroadcastInterval  = 10 * time.Second
	RoundIdlePollEvery = 1 * time.Second
)

// Bitcoin RPC client
const (
	RPCRequestTimeout = 15 * time.Second
	RPCMaxRetries     = 3
	RPCRetryBaseDelay = 1 * time.Second
	RPCRateLimitRPS   = 10
)

// HTTP server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	APITimeout           = 30 * time.Second
	ShutdownTimeout      = 10 * time.Second
)
