package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// HTTPClient implements Client against a standard Ethereum JSON-RPC
// endpoint (eth_getTransactionCount, eth_gasPrice, eth_maxPriorityFeePerGas,
// eth_estimateGas, eth_sendRawTransaction, eth_getTransactionReceipt).
type HTTPClient struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPClient constructs an HTTPClient against url. A default 30s-timeout
// http.Client is used if httpClient is nil.
func NewHTTPClient(url string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{URL: url, HTTPClient: httpClient}
}

func (c *HTTPClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("%s: %w", method, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewTransientError(fmt.Errorf("%s: http %d", method, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, NewFatalError(fmt.Errorf("%s: http %d", method, resp.StatusCode))
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewTransientError(fmt.Errorf("%s: decode response: %w", method, err))
	}
	if parsed.Error != nil {
		return nil, NewFatalError(fmt.Errorf("%s: rpc error %d: %s", method, parsed.Error.Code, parsed.Error.Message))
	}
	return parsed.Result, nil
}

func decodeHexQuantity(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode hex quantity: %w", err)
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		s = "0"
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

func (c *HTTPClient) NonceAt(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	n, err := decodeHexQuantity(raw)
	if err != nil {
		return 0, NewFatalError(err)
	}
	return n.Uint64(), nil
}

// SuggestFees fetches eth_gasPrice and, best-effort, eth_maxPriorityFeePerGas;
// networks that don't support EIP-1559 simply return a zero priority fee,
// and callers fall back to the legacy GasPrice field.
func (c *HTTPClient) SuggestFees(ctx context.Context) (FeeFields, error) {
	gasPriceRaw, err := c.call(ctx, "eth_gasPrice")
	if err != nil {
		return FeeFields{}, err
	}
	gasPrice, err := decodeHexQuantity(gasPriceRaw)
	if err != nil {
		return FeeFields{}, NewFatalError(err)
	}

	fees := FeeFields{GasPrice: gasPrice}

	tipRaw, err := c.call(ctx, "eth_maxPriorityFeePerGas")
	if err != nil {
		return fees, nil
	}
	tip, err := decodeHexQuantity(tipRaw)
	if err != nil {
		return fees, nil
	}
	fees.MaxPriorityFeePerGas = tip
	fees.MaxFeePerGas = new(big.Int).Add(gasPrice, tip)
	return fees, nil
}

func (c *HTTPClient) EstimateGas(ctx context.Context, from, data string) (uint64, error) {
	params := map[string]any{"from": from, "data": data, "to": nil}
	raw, err := c.call(ctx, "eth_estimateGas", params)
	if err != nil {
		return 0, err
	}
	n, err := decodeHexQuantity(raw)
	if err != nil {
		return 0, NewFatalError(err)
	}
	return n.Uint64(), nil
}

func (c *HTTPClient) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	raw, err := c.call(ctx, "eth_sendRawTransaction", rawTxHex)
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", NewFatalError(fmt.Errorf("decode tx hash: %w", err))
	}
	return hash, nil
}

type receiptPayload struct {
	TransactionHash string `json:"transactionHash"`
	ContractAddress string `json:"contractAddress"`
	BlockNumber     string `json:"blockNumber"`
	GasUsed         string `json:"gasUsed"`
	Status          string `json:"status"`
}

// WaitForReceipt polls eth_getTransactionReceipt until it's available or
// timeout elapses, per spec.md §4.4.5's 300s receipt-polling step.
func (c *HTTPClient) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 2 * time.Second

	for {
		raw, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
		if err != nil {
			return nil, err
		}
		if string(raw) != "null" && len(raw) > 0 {
			var payload receiptPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, NewFatalError(fmt.Errorf("decode receipt: %w", err))
			}
			blockNumber, _ := decodeHexQuantity(json.RawMessage(`"` + payload.BlockNumber + `"`))
			gasUsed, _ := decodeHexQuantity(json.RawMessage(`"` + payload.GasUsed + `"`))
			status, _ := strconv.ParseUint(strings.TrimPrefix(payload.Status, "0x"), 16, 64)
			return &Receipt{
				TxHash:          payload.TransactionHash,
				ContractAddress: payload.ContractAddress,
				BlockNumber:     blockNumberOrZero(blockNumber),
				GasUsed:         blockNumberOrZero(gasUsed),
				Status:          status,
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, NewTransientError(fmt.Errorf("receipt not available for %s after %s", txHash, timeout))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func blockNumberOrZero(n *big.Int) uint64 {
	if n == nil {
		return 0
	}
	return n.Uint64()
}
