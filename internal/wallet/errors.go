package wallet

import "errors"

// ErrInvalidMnemonic is returned when a mnemonic fails BIP-39 validation or
// does not have the expected word count.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Error codes, shared with the HTTP API's JSON error envelope.
const (
	ErrorInvalidMnemonic = "ERROR_INVALID_MNEMONIC"
)
