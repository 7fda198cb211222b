package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tos-network/tos-headerwatch/internal/apperrors"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

// Wire framing constants for the JSON-RPC 1.0 peer contract, per
// original_source/src/jsonrpc.rs.
const (
	jsonRPCVersion      = "1.0"
	jsonRPCID           = 45324
	headerHexLength     = 160
	newHeadersBatchSize = 50
)

// ErrTransient marks a peer RPC failure worth retrying (connection refused,
// timeout, temporary network error). ErrTerminal marks one that will not
// resolve by retrying (malformed response, protocol-level error).
var (
	ErrTransient = errors.New("transient peer rpc error")
	ErrTerminal  = errors.New("terminal peer rpc error")
)

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
	ID      int             `json:"id"`
}

// CoinbaseTx is the raw coinbase transaction payload returned by coinbase().
// Pool classification operates on RawData; see internal/minerid.
type CoinbaseTx struct {
	RawData []byte
}

// PeerClient is a JSON-RPC 1.0 client implementing the peer contract
// (tips, new_headers, coinbase, version, info) against one full-node RPC
// endpoint, grounded on tos_client.go's health-tracking + http.Client idiom
// but with the wire framing of the source's Bitcoin-style RPC.
type PeerClient struct {
	url      string
	user     string
	password string
	client   *http.Client

	info domain.NodeInfo

	mu           sync.RWMutex
	healthy      bool
	successCount int
	failCount    int
}

// NewPeerClient builds a client for one peer. info is static identity
// configured by the operator, not fetched remotely.
func NewPeerClient(url, user, password string, timeout time.Duration, info domain.NodeInfo) *PeerClient {
	return &PeerClient{
		url:      url,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: timeout},
		info:     info,
		healthy:  true,
	}
}

// Info returns this peer's static identity.
func (c *PeerClient) Info() domain.NodeInfo {
	return c.info
}

func (c *PeerClient) recordResult(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.successCount++
		c.healthy = true
	} else {
		c.failCount++
		c.healthy = false
	}
}

// Healthy reports the peer's last-known reachability.
func (c *PeerClient) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *PeerClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      jsonRPCID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w: %v", ErrTerminal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w: %v", ErrTerminal, err)
	}
	httpReq.Header.Set("Content-Type", "plain/text")
	if c.user != "" {
		httpReq.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.recordResult(false)
		return nil, fmt.Errorf("%s: %w: %v", method, ErrTransient, err)
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		c.recordResult(false)
		return nil, fmt.Errorf("%s: decode response: %w: %v", method, ErrTerminal, err)
	}

	if rpcResp.ID != jsonRPCID {
		// non-fatal: warn-worthy but not a protocol violation in itself.
		util.Warnf("rpc: %s: response id %d does not match request id %d", method, rpcResp.ID, jsonRPCID)
	}
	if rpcResp.JSONRPC != "" && rpcResp.JSONRPC != jsonRPCVersion {
		// non-fatal: same as above, the source only warns here too.
		util.Warnf("rpc: %s: response jsonrpc version %q, expected %q", method, rpcResp.JSONRPC, jsonRPCVersion)
	}
	if rpcResp.Error != nil {
		c.recordResult(false)
		return nil, fmt.Errorf("%s: %w: %s", method, apperrors.ErrPeerRPC, rpcResp.Error.Message)
	}

	c.recordResult(true)
	return rpcResp.Result, nil
}

// Tips fetches the peer's current chain tips.
func (c *PeerClient) Tips(ctx context.Context) ([]domain.ChainTip, error) {
	raw, err := c.call(ctx, "getchaintips", []interface{}{})
	if err != nil {
		return nil, err
	}
	var tips []domain.ChainTip
	if err := json.Unmarshal(raw, &tips); err != nil {
		return nil, fmt.Errorf("tips: unmarshal: %w: %v", ErrTerminal, err)
	}
	return tips, nil
}

// Version fetches the peer's reported subversion string.
func (c *PeerClient) Version(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, "getnetworkinfo", []interface{}{})
	if err != nil {
		return "", err
	}
	var payload struct {
		SubVersion string `json:"subversion"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("version: unmarshal: %w: %v", ErrTerminal, err)
	}
	return payload.SubVersion, nil
}

func (c *PeerClient) getBlockHeaderHex(ctx context.Context, hashHex string) (string, error) {
	raw, err := c.call(ctx, "getblockheader", []interface{}{hashHex, false})
	if err != nil {
		return "", err
	}
	var headerHex string
	if err := json.Unmarshal(raw, &headerHex); err != nil {
		return "", fmt.Errorf("getblockheader: unmarshal: %w: %v", ErrTerminal, err)
	}
	if len(headerHex) != headerHexLength {
		return "", fmt.Errorf("getblockheader: expected %d hex chars, got %d: %w",
			headerHexLength, len(headerHex), ErrTerminal)
	}
	return headerHex, nil
}

// NewHeaders walks back from each tip's hash, requesting raw headers one at
// a time, until it reaches a header already known (per isKnown) or crosses
// firstTrackedHeight. Batches of headers are emitted on progress as they
// accumulate so a long back-fill shows incremental movement. Returns the
// hashes of every newly-seen header, since all of them need a miner lookup.
func (c *PeerClient) NewHeaders(
	ctx context.Context,
	tips []domain.ChainTip,
	isKnown func(domain.Hash) bool,
	firstTrackedHeight uint64,
	progress chan<- []domain.HeaderInfo,
) ([]domain.Hash, error) {
	var minersNeeded []domain.Hash

	for _, tip := range tips {
		curHex := tip.Hash
		height := tip.Height
		var batch []domain.HeaderInfo

		for height >= firstTrackedHeight {
			hashBytes, err := hex.DecodeString(curHex)
			if err != nil || len(hashBytes) != 32 {
				return minersNeeded, fmt.Errorf("new_headers: bad hash %q: %w", curHex, ErrTerminal)
			}
			var cur domain.Hash
			copy(cur[:], hashBytes)
			if isKnown(cur) {
				break
			}

			headerHex, err := c.getBlockHeaderHex(ctx, curHex)
			if err != nil {
				if len(batch) > 0 && progress != nil {
					progress <- batch
				}
				return minersNeeded, err
			}
			rawBytes, err := hex.DecodeString(headerHex)
			if err != nil {
				return minersNeeded, fmt.Errorf("new_headers: decode header hex: %w: %v", ErrTerminal, err)
			}
			raw, err := domain.ParseRawHeader(rawBytes)
			if err != nil {
				return minersNeeded, fmt.Errorf("new_headers: %w: %v", ErrTerminal, err)
			}

			hi := domain.HeaderInfo{Height: height, Header: raw}
			batch = append(batch, hi)
			minersNeeded = append(minersNeeded, raw.BlockHash())

			if len(batch) >= newHeadersBatchSize {
				if progress != nil {
					progress <- batch
				}
				batch = nil
			}

			if height == 0 {
				break
			}
			curHex = raw.PrevBlockHash().String()
			height--
		}

		if len(batch) > 0 && progress != nil {
			progress <- batch
		}
	}

	return minersNeeded, nil
}

// Coinbase fetches the coinbase transaction of the block at hash/height.
func (c *PeerClient) Coinbase(ctx context.Context, hash domain.Hash, height uint64) (CoinbaseTx, error) {
	raw, err := c.call(ctx, "getblock", []interface{}{hash.String(), 2})
	if err != nil {
		return CoinbaseTx{}, err
	}
	var payload struct {
		Tx []struct {
			Hex string `json:"hex"`
		} `json:"tx"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CoinbaseTx{}, fmt.Errorf("coinbase: unmarshal: %w: %v", ErrTerminal, err)
	}
	if len(payload.Tx) == 0 {
		return CoinbaseTx{}, fmt.Errorf("coinbase: block %s has no transactions: %w", hash.String(), ErrTerminal)
	}
	rawTx, err := hex.DecodeString(payload.Tx[0].Hex)
	if err != nil {
		return CoinbaseTx{}, fmt.Errorf("coinbase: decode tx hex: %w: %v", ErrTerminal, err)
	}
	return CoinbaseTx{RawData: rawTx}, nil
}
