package config

import "errors"

// ErrInvalidConfig is returned by Config.Validate for any malformed field.
var ErrInvalidConfig = errors.New("invalid configuration")

// Error codes, shared with the HTTP API's JSON error envelope.
const (
	ErrorInvalidConfig = "ERROR_INVALID_CONFIG"
)
