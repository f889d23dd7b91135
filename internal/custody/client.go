// Package custody implements domain.CustodyClient against the asset
// registry's REST API. The registry is the source of truth for asset
// ownership; the marketplace takes custody on listing and releases it on
// unlisting or settlement.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gavelmarket/gavel/internal/crypto"
	"github.com/gavelmarket/gavel/internal/domain"
)

// Config holds the registry endpoint and credentials.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client is the REST client for the asset registry.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a registry client. Requests are HMAC-signed when
// credentials are configured.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var auth *crypto.HMACAuth
	if cfg.APIKey != "" {
		auth = &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// OwnerOf returns the current owner of an asset.
func (c *Client) OwnerOf(ctx context.Context, assetID string) (domain.Account, error) {
	path := fmt.Sprintf("/v1/assets/%s/owner", url.PathEscape(assetID))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.ZeroAccount, fmt.Errorf("custody: owner of %s: %w", assetID, err)
	}

	var resp struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ZeroAccount, fmt.Errorf("custody: decode owner: %w", err)
	}

	owner, err := domain.ParseAccount(resp.Owner)
	if err != nil {
		return domain.ZeroAccount, fmt.Errorf("custody: owner of %s: %w", assetID, err)
	}
	return owner, nil
}

// Transfer moves an asset from one account to another. The registry rejects
// the call when from is not the current owner or the transfer was not
// pre-authorized by the owner.
func (c *Client) Transfer(ctx context.Context, assetID string, from, to domain.Account) error {
	path := fmt.Sprintf("/v1/assets/%s/transfer", url.PathEscape(assetID))

	payload, err := json.Marshal(map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
	if err != nil {
		return fmt.Errorf("custody: encode transfer: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("custody: transfer %s: %w", assetID, err)
	}
	return nil
}

// do executes a single request against the registry and returns the response
// body. Non-2xx responses are returned as errors carrying the registry's
// error message.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("registry status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("registry status %d", resp.StatusCode)
	}

	return body, nil
}

// Compile-time interface check.
var _ domain.CustodyClient = (*Client)(nil)
