package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FundsTransmitter executes outbound fund transfers for withdrawals.
type FundsTransmitter interface {
	Transfer(ctx context.Context, to string, amount uint64) error
}

// PayoutClient calls a funds transmitter over HTTP.
type PayoutClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPayoutClient creates a payout client for the given base URL.
func NewPayoutClient(baseURL string) (*PayoutClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("payout base url is required")
	}
	return &PayoutClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}, nil
}

type payoutRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// Transfer sends amount to the payout identity. A rejected transfer is fatal
// to the enclosing withdrawal.
func (c *PayoutClient) Transfer(ctx context.Context, to string, amount uint64) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("payout identity is required")
	}
	payload, err := json.Marshal(payoutRequest{To: to, Amount: amount})
	if err != nil {
		return fmt.Errorf("encode payout request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call funds transmitter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("funds transmitter rejected payout to %s: %s", to, responseDetail(resp))
	}
	return nil
}

var _ FundsTransmitter = (*PayoutClient)(nil)
