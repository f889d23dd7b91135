// Package payment implements domain.PaymentGateway against the value
// transfer service. Outbound transfers are bounded-effort: a declined
// transfer or a timeout produces a failed TransferResult, never a hang, so
// the auction engine can fall back to the credit ledger.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gavelmarket/gavel/internal/crypto"
	"github.com/gavelmarket/gavel/internal/domain"
)

// Config holds the gateway endpoint and credentials.
type Config struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Timeout     time.Duration
	Marketplace domain.Account // escrow account value moves through
}

// Gateway is the REST client for the value transfer service.
type Gateway struct {
	baseURL     string
	auth        *crypto.HMACAuth
	marketplace domain.Account
	httpClient  *http.Client
}

// NewGateway creates a gateway client.
func NewGateway(cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var auth *crypto.HMACAuth
	if cfg.APIKey != "" {
		auth = &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}
	}

	return &Gateway{
		baseURL:     cfg.BaseURL,
		auth:        auth,
		marketplace: cfg.Marketplace,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// transferRequest is the gateway's wire format for a transfer order.
type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// transferResponse is the gateway's wire format for a transfer outcome.
type transferResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Collect pulls attached bid value from the bidder into marketplace escrow.
func (g *Gateway) Collect(ctx context.Context, from domain.Account, amount int64) (domain.TransferResult, error) {
	return g.transfer(ctx, transferRequest{
		From:   from.String(),
		To:     g.marketplace.String(),
		Amount: amount,
	})
}

// Transfer pays value out of marketplace escrow to the given account.
func (g *Gateway) Transfer(ctx context.Context, to domain.Account, amount int64) (domain.TransferResult, error) {
	return g.transfer(ctx, transferRequest{
		From:   g.marketplace.String(),
		To:     to.String(),
		Amount: amount,
	})
}

// transfer executes a transfer order. A declined transfer (4xx with a
// reason) and a transport timeout both map to a failed TransferResult; only
// malformed responses and invalid requests surface as errors.
func (g *Gateway) transfer(ctx context.Context, order transferRequest) (domain.TransferResult, error) {
	const path = "/v1/transfers"

	payload, err := json.Marshal(order)
	if err != nil {
		return domain.TransferResult{}, fmt.Errorf("payment: encode transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.TransferResult{}, fmt.Errorf("payment: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if g.auth != nil {
		for k, v := range g.auth.Headers(http.MethodPost, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are bounded-effort outcomes, not
		// faults: report a failed transfer so the caller takes the fallback
		// path.
		if errors.Is(err, context.Canceled) {
			return domain.TransferResult{}, err
		}
		return domain.TransferResult{OK: false, Reason: "gateway unreachable: " + err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.TransferResult{}, fmt.Errorf("payment: read response: %w", err)
	}

	var out transferResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode >= 500 {
			return domain.TransferResult{OK: false, Reason: fmt.Sprintf("gateway status %d", resp.StatusCode)}, nil
		}
		return domain.TransferResult{}, fmt.Errorf("payment: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 && out.OK {
		return domain.TransferResult{OK: true}, nil
	}

	reason := out.Reason
	if reason == "" {
		reason = fmt.Sprintf("gateway status %d", resp.StatusCode)
	}
	return domain.TransferResult{OK: false, Reason: reason}, nil
}

// Compile-time interface check.
var _ domain.PaymentGateway = (*Gateway)(nil)
