package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/chaumfed/fedwallet/internal/wallet"
)

// Audit returns a handler for GET /api/audit, reporting the federation's
// current solvency statement (assets vs. liabilities, in millisatoshis).
func Audit(w *wallet.Wallet) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		report, err := w.Audit()
		if err != nil {
			writeError(rw, err)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(report)
	}
}
