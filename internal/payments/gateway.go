package payments

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

// maxResponseBytes bounds how much of a gateway reply is read.
const maxResponseBytes = 1 << 20

// GatewayClient calls the hosted payment gateway. Calls are made once,
// without retrying.
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

// NewGatewayClient returns a client for the gateway at baseURL.
func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// InitiatePayment posts req to /initiate-payment. It returns the decoded
// reply and the raw body; a reply that decodes is returned even when it
// reports failure, so the caller can inspect it.
func (c *GatewayClient) InitiatePayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, []byte, error) {
	var out GatewayResponse
	raw, err := c.post(ctx, "/initiate-payment", req, nil, &out)
	if err != nil {
		return nil, raw, err
	}
	return &out, raw, nil
}

// TransactionStatus asks the gateway how the payment for invoiceNumber
// ended. The merchant is identified by header.
func (c *GatewayClient) TransactionStatus(ctx context.Context, merchantID, invoiceNumber string) (*StatusResponse, []byte, error) {
	var out StatusResponse
	raw, err := c.post(ctx, "/transaction-status",
		map[string]string{"invoice_number": invoiceNumber},
		map[string]string{"merchantId": merchantID},
		&out)
	if err != nil {
		return nil, raw, err
	}
	return &out, raw, nil
}

func (c *GatewayClient) post(ctx context.Context, path string, payload any, headers map[string]string, out any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return raw, fmt.Errorf("decode %s response (http %d): %w", path, resp.StatusCode, err)
	}
	return raw, nil
}
