package models

import "encoding/json"

// Persisted rows are stored as JSON blobs in the generic KV store, matching
// the module's preference for JSON over a binary codec wherever a value
// crosses a storage or wire boundary.

func EncodeSpendableUTXO(u SpendableUTXO) ([]byte, error) { return json.Marshal(u) }

func DecodeSpendableUTXO(b []byte) (SpendableUTXO, error) {
	var u SpendableUTXO
	err := json.Unmarshal(b, &u)
	return u, err
}

func EncodePendingTransaction(p PendingTransaction) ([]byte, error) { return json.Marshal(p) }

func DecodePendingTransaction(b []byte) (PendingTransaction, error) {
	var p PendingTransaction
	err := json.Unmarshal(b, &p)
	return p, err
}

func EncodeUnsignedTransaction(u UnsignedTransaction) ([]byte, error) { return json.Marshal(u) }

func DecodeUnsignedTransaction(b []byte) (UnsignedTransaction, error) {
	var u UnsignedTransaction
	err := json.Unmarshal(b, &u)
	return u, err
}

func EncodeRoundConsensus(r RoundConsensus) ([]byte, error) { return json.Marshal(r) }

func DecodeRoundConsensus(b []byte) (RoundConsensus, error) {
	var r RoundConsensus
	err := json.Unmarshal(b, &r)
	return r, err
}

func EncodePegOutNonceItem(i PegOutNonceItem) ([]byte, error) { return json.Marshal(i) }

func DecodePegOutNonceItem(b []byte) (PegOutNonceItem, error) {
	var i PegOutNonceItem
	err := json.Unmarshal(b, &i)
	return i, err
}

func EncodePegOutSignatureItem(i PegOutSignatureItem) ([]byte, error) { return json.Marshal(i) }

func DecodePegOutSignatureItem(b []byte) (PegOutSignatureItem, error) {
	var i PegOutSignatureItem
	err := json.Unmarshal(b, &i)
	return i, err
}
