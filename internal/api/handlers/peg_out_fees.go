package handlers

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/chaumfed/fedwallet/internal/wallet"
)

type pegOutFeesRequest struct {
	DestinationScriptHex string `json:"destination_script_hex"`
	AmountSats           uint64 `json:"amount_sats"`
}

// PegOutFees returns a handler for POST /api/peg_out_fees, reporting the
// fee terms a peg-out of the given amount to the given destination script
// would incur against the federation's current UTXO set, or a 422 if the
// federation cannot currently fund it.
func PegOutFees(w *wallet.Wallet) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req pegOutFeesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "malformed request body", http.StatusBadRequest)
			return
		}

		script, err := hex.DecodeString(req.DestinationScriptHex)
		if err != nil {
			http.Error(rw, "destination_script_hex is not valid hex", http.StatusBadRequest)
			return
		}

		fees, err := w.EstimatePegOutFees(script, req.AmountSats)
		if err != nil {
			writeError(rw, err)
			return
		}
		if fees == nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(rw).Encode(errorEnvelope{Error: "not enough spendable UTXO value to cover amount and fees"})
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(fees)
	}
}
