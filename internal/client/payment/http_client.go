package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"roundup-core/internal/client"
)

// HTTPClient 走 HTTP 调用真实支付处理器
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type chargeRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	InstrumentRef string `json:"payment_instrument_ref"`
}

type transferRequest struct {
	Amount         string `json:"amount"`
	DestinationRef string `json:"destination_account_ref"`
}

func (c *HTTPClient) Charge(ctx context.Context, amount decimal.Decimal, currency, instrumentRef, idempotencyKey string) (*ChargeResult, error) {
	var result ChargeResult
	err := c.post(ctx, "/charges", chargeRequest{
		Amount:        amount.StringFixed(2),
		Currency:      currency,
		InstrumentRef: instrumentRef,
	}, idempotencyKey, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, amount decimal.Decimal, destinationRef, idempotencyKey string) (*TransferResult, error) {
	var result TransferResult
	err := c.post(ctx, "/transfers", transferRequest{
		Amount:         amount.StringFixed(2),
		DestinationRef: destinationRef,
	}, idempotencyKey, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}, idempotencyKey string, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	// 渠道用这个头识别并折叠重复请求
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return client.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return client.Transient(fmt.Errorf("processor returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, data)
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
