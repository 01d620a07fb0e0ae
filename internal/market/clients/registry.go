// Package clients holds HTTP clients for the engine's external collaborators.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultClientTimeout = 10 * time.Second

// AssetRegistry instructs the external custody service to move one item unit.
type AssetRegistry interface {
	TransferItem(ctx context.Context, itemID uint64, from, to string) error
}

// RegistryClient calls an asset registry over HTTP.
type RegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRegistryClient creates a registry client for the given base URL.
func NewRegistryClient(baseURL string) (*RegistryClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("registry base url is required")
	}
	return &RegistryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}, nil
}

type transferItemRequest struct {
	ItemID uint64 `json:"item_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// TransferItem instructs the registry to transfer itemID from the custody
// identity to the buyer. Any non-2xx response is a transfer failure.
func (c *RegistryClient) TransferItem(ctx context.Context, itemID uint64, from, to string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return fmt.Errorf("transfer identities are required")
	}
	payload, err := json.Marshal(transferItemRequest{ItemID: itemID, From: from, To: to})
	if err != nil {
		return fmt.Errorf("encode transfer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call asset registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("asset registry rejected transfer of item %d: %s", itemID, responseDetail(resp))
	}
	return nil
}

func responseDetail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
}

var _ AssetRegistry = (*RegistryClient)(nil)
