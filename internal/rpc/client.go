// Package rpc implements the BitcoindRpc capability consumed by the
// wallet module (spec §6): get_network, get_block_height, get_block_hash,
// get_block, get_fee_rate, submit_transaction. It is an HTTP JSON-RPC
// client over bitcoind's standard RPC surface, rotating across configured
// endpoints on failure the way the teacher's Esplora UTXO/broadcast
// clients rotate across Blockstream/Mempool.
package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/time/rate"

	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// walletRpcErr is the sentinel all RPC-layer errors wrap, so callers can
// detect "a Bitcoin RPC error occurred" with errors.Is regardless of cause.
var walletRpcErr = walleterr.ErrRpc

// BitcoindRpc is the capability contract this module depends on; it is
// modeled as an interface rather than a concrete type so tests can supply
// a fake implementation.
type BitcoindRpc interface {
	GetNetwork(ctx context.Context) (string, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetBlockHash(ctx context.Context, height uint64) (chainhash.Hash, error)
	GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error)
	GetFeeRate(ctx context.Context, confTarget uint16) (models.Feerate, error)
	SubmitTransaction(ctx context.Context, tx *wire.MsgTx) error
}

// endpoint is one configured bitcoind RPC node.
type endpoint struct {
	url         string
	user, pass  string
	rateLimiter *rate.Limiter
}

// Client is a round-robin, rate-limited, retrying BitcoindRpc
// implementation.
type Client struct {
	http      *http.Client
	endpoints []endpoint
	next      atomic.Uint64
}

// New builds a Client rotating across urls, all sharing the given basic
// auth credentials.
func New(urls []string, user, pass string) *Client {
	eps := make([]endpoint, len(urls))
	for i, u := range urls {
		eps[i] = endpoint{
			url:         u,
			user:        user,
			pass:        pass,
			rateLimiter: rate.NewLimiter(rate.Limit(config.RPCRateLimitRPS), config.RPCRateLimitRPS),
		}
	}
	slog.Info("bitcoind RPC client created", "endpointCount", len(eps))
	return &Client{
		http:      &http.Client{Timeout: config.RPCRequestTimeout},
		endpoints: eps,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs a single JSON-RPC call, rotating providers and retrying
// on transient failure per config.RPCMaxRetries.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	var lastErr error
	for attempt := 0; attempt < config.RPCMaxRetries; attempt++ {
		idx := int(c.next.Add(1)-1) % len(c.endpoints)
		ep := c.endpoints[idx]

		if err := ep.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter wait: %s", walletRpcErr, err)
		}

		err := c.callOnce(ctx, ep, method, params, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}

		slog.Warn("bitcoind RPC call failed, retrying",
			"method", method, "endpoint", ep.url, "attempt", attempt, "error", err)

		delay := GetRetryAfter(err)
		if delay == 0 {
			delay = config.RPCRetryBaseDelay * time.Duration(attempt+1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: all endpoints failed: %s", walletRpcErr, lastErr)
}

func (c *Client) callOnce(ctx context.Context, ep endpoint, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.user != "" {
		req.SetBasicAuth(ep.user, ep.pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NewTransientError(fmt.Errorf("RPC request to %s: %w", ep.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return NewTransientErrorWithRetry(fmt.Errorf("rate limited by %s", ep.url), config.RPCRetryBaseDelay)
	}
	if resp.StatusCode >= 500 {
		return NewTransientError(fmt.Errorf("RPC HTTP %d from %s", resp.StatusCode, ep.url))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: RPC HTTP %d from %s", walletRpcErr, resp.StatusCode, ep.url)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return NewTransientError(fmt.Errorf("decode RPC response: %w", err))
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: %s (code %d)", walletRpcErr, rpcResp.Error.Message, rpcResp.Error.Code)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("unmarshal RPC result: %w", err)
	}
	return nil
}

// GetNetwork returns the network name bitcoind reports (e.g. "main",
// "test", "signet", "regtest").
func (c *Client) GetNetwork(ctx context.Context) (string, error) {
	var info struct {
		Chain string `json:"chain"`
	}
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return "", err
	}
	return info.Chain, nil
}

// GetBlockHeight returns the current chain tip height.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBlockHash returns the block hash at the given height.
func (c *Client) GetBlockHash(ctx context.Context, height uint64) (chainhash.Hash, error) {
	var hex_ string
	if err := c.call(ctx, "getblockhash", []any{height}, &hex_); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := chainhash.NewHashFromStr(hex_)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("parse block hash: %w", err)
	}
	return *h, nil
}

// GetBlock fetches a full block by hash, requesting raw-hex serialization
// (verbosity 0) and decoding it with wire.MsgBlock.
func (c *Client) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	var blockHex string
	if err := c.call(ctx, "getblock", []any{hash.String(), 0}, &blockHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, fmt.Errorf("decode block hex: %w", err)
	}
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize block: %w", err)
	}
	return &block, nil
}

// GetFeeRate estimates the fee rate (sats/kvB) for confirmation within
// confTarget blocks using estimatesmartfee (which reports BTC/kvB).
func (c *Client) GetFeeRate(ctx context.Context, confTarget uint16) (models.Feerate, error) {
	var result struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := c.call(ctx, "estimatesmartfee", []any{confTarget}, &result); err != nil {
		return 0, err
	}
	if len(result.Errors) > 0 || result.FeeRate <= 0 {
		return 0, fmt.Errorf("%w: estimatesmartfee returned no estimate", walletRpcErr)
	}
	satsPerKvB := uint64(result.FeeRate * 1e8)
	return models.Feerate(satsPerKvB), nil
}

// SubmitTransaction broadcasts a fully-signed transaction. Idempotent on
// the chain side; the broadcaster relies on this.
func (c *Client) SubmitTransaction(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("serialize transaction: %w", err)
	}
	return c.call(ctx, "sendrawtransaction", []any{hex.EncodeToString(buf.Bytes())}, nil)
}
