package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// errorEnvelope is the JSON body written for every non-2xx response.
type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps err to an HTTP status via its walleterr sentinel, if any,
// and writes the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := walleterr.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, walleterr.ErrWrongNetwork),
		errors.Is(err, walleterr.ErrPegOutFeeRate),
		errors.Is(err, walleterr.ErrNotEnoughSpendableUTXO),
		errors.Is(err, walleterr.ErrUnknownNetwork),
		errors.Is(err, walleterr.ErrUnknownPegInProofBlock),
		errors.Is(err, walleterr.ErrPegInAlreadyClaimed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, walleterr.ErrPegInProofInvalid):
		status = http.StatusForbidden
	case errors.Is(err, walleterr.ErrRpc):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: err.Error(), Code: code})
}
