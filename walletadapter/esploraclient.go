package walletadapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"golang.org/x/time/rate"
)

// EsploraConfig configures an EsploraClient, the default ChainClient
// implementation, mirroring the shape of the wallet's oracle-side HTTP
// client.
type EsploraConfig struct {
	// BaseURL is the Esplora-compatible REST API root.
	// Default: https://mempool.space/api
	BaseURL string

	// RateLimit is the number of requests per second allowed.
	// Default: 10
	RateLimit int

	// Timeout is the HTTP request timeout.
	// Default: 30 seconds
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for transient failures.
	// Default: 3
	RetryAttempts int

	// RetryDelay is the base delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// Transport, if set, replaces http.DefaultTransport -- cmd/gun uses
	// this to route chain-backend requests through a local Tor SOCKS
	// proxy when BaseURL's host is a .onion service.
	Transport http.RoundTripper
}

// DefaultEsploraConfig returns a default configuration.
func DefaultEsploraConfig() *EsploraConfig {
	return &EsploraConfig{
		BaseURL:       "https://mempool.space/api",
		RateLimit:     10,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// EsploraClient implements ChainClient against an Esplora-compatible
// REST API (mempool.space, a self-hosted esplora, etc).
type EsploraClient struct {
	cfg *EsploraConfig

	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewEsploraClient constructs an EsploraClient from cfg, or
// DefaultEsploraConfig if cfg is nil.
func NewEsploraClient(cfg *EsploraConfig) *EsploraClient {
	if cfg == nil {
		cfg = DefaultEsploraConfig()
	}

	return &EsploraClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
	}
}

func (c *EsploraClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, bool, error) {
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, false, fmt.Errorf("rate limiter: %w", err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, false, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("esplora unreachable: %w", err)
			c.backoff(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			c.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, true, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, false, nil
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			lastErr = fmt.Errorf("esplora returned status %d", resp.StatusCode)
			c.backoff(ctx, attempt)
			continue
		default:
			return nil, false, fmt.Errorf("esplora status %d: %s", resp.StatusCode, respBody)
		}
	}
	return nil, false, lastErr
}

func (c *EsploraClient) backoff(ctx context.Context, attempt int) {
	if attempt >= c.cfg.RetryAttempts {
		return
	}
	select {
	case <-time.After(c.cfg.RetryDelay * time.Duration(attempt+1)):
	case <-ctx.Done():
	}
}

// Broadcast submits tx as raw hex to the /tx endpoint.
func (c *EsploraClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("serialize tx: %w", err)
	}

	_, ok, err := c.doRequest(ctx, http.MethodPost, "/tx", []byte(hex.EncodeToString(buf.Bytes())))
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	if !ok {
		return ErrTxNotFound
	}
	return nil
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

// GetTransaction fetches the raw transaction and its confirmation
// status from Esplora's /tx/{txid}/hex and /tx/{txid}/status.
func (c *EsploraClient) GetTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, int64, error) {
	hexBody, ok, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/tx/%s/hex", txid), nil)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrTxNotFound
	}

	rawTx, err := hex.DecodeString(string(hexBody))
	if err != nil {
		return nil, 0, fmt.Errorf("decode tx hex: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, 0, fmt.Errorf("deserialize tx: %w", err)
	}

	statusBody, ok, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/tx/%s/status", txid), nil)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return &tx, 0, nil
	}

	var status txStatus
	if err := json.Unmarshal(statusBody, &status); err != nil {
		return nil, 0, fmt.Errorf("parse tx status: %w", err)
	}
	if !status.Confirmed {
		return &tx, 0, nil
	}

	tip, err := c.CurrentHeight(ctx)
	if err != nil {
		return nil, 0, err
	}

	confs := int64(tip) - status.BlockHeight + 1
	if confs < 0 {
		confs = 0
	}
	return &tx, confs, nil
}

// CurrentHeight returns the chain tip height.
func (c *EsploraClient) CurrentHeight(ctx context.Context) (uint32, error) {
	body, ok, err := c.doRequest(ctx, http.MethodGet, "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("chain tip height unavailable")
	}

	var height uint32
	if err := json.Unmarshal(body, &height); err != nil {
		return 0, fmt.Errorf("parse height: %w", err)
	}
	return height, nil
}

type outspendStatus struct {
	Spent bool   `json:"spent"`
	Txid  string `json:"txid"`
}

// OutpointSpentBy queries Esplora's /tx/{txid}/outspend/{vout} to find
// whether op has been spent, and by which transaction.
func (c *EsploraClient) OutpointSpentBy(ctx context.Context, op wire.OutPoint) (*chainhash.Hash, error) {
	body, ok, err := c.doRequest(ctx, http.MethodGet,
		fmt.Sprintf("/tx/%s/outspend/%d", op.Hash, op.Index), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var status outspendStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("parse outspend status: %w", err)
	}
	if !status.Spent || status.Txid == "" {
		return nil, nil
	}

	spentBy, err := chainhash.NewHashFromStr(status.Txid)
	if err != nil {
		return nil, fmt.Errorf("parse outspend txid: %w", err)
	}
	return spentBy, nil
}

// EstimateFee queries /v1/fees/recommended-style fee estimates and
// converts the sat/vByte rate for confTarget into sat/kW, the unit
// the rest of the wallet stack (lnwallet/chainfee) uses throughout.
func (c *EsploraClient) EstimateFee(ctx context.Context, confTarget uint32) (chainfee.SatPerKWeight, error) {
	body, ok, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/fee-estimates/%d", confTarget), nil)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Esplora's conventional endpoint is a single map of target -> sat/vB.
		body, ok, err = c.doRequest(ctx, http.MethodGet, "/fee-estimates", nil)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("fee estimates unavailable")
		}

		var estimates map[string]float64
		if err := json.Unmarshal(body, &estimates); err != nil {
			return 0, fmt.Errorf("parse fee estimates: %w", err)
		}
		satPerVByte, ok := estimates[fmt.Sprintf("%d", confTarget)]
		if !ok {
			return 0, fmt.Errorf("no fee estimate for target %d", confTarget)
		}
		return chainfee.SatPerKVByte(satPerVByte * 1000).FeePerKWeight(), nil
	}

	var satPerVByte float64
	if err := json.Unmarshal(body, &satPerVByte); err != nil {
		return 0, fmt.Errorf("parse fee estimate: %w", err)
	}
	return chainfee.SatPerKVByte(satPerVByte * 1000).FeePerKWeight(), nil
}
