package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/chaumfed/fedwallet/internal/wallet"
)

// BlockHeight returns a handler for GET /api/block_height, reporting the
// federation's last agreed consensus block height.
func BlockHeight(w *wallet.Wallet) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		height, err := w.ConsensusHeight()
		if err != nil {
			writeError(rw, err)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]uint32{"height": height})
	}
}
