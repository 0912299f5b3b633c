package bankfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"roundup-core/internal/client"
)

// HTTPClient 走 HTTP 调用真实聚合器
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient 创建聚合器客户端
// 超时必须有界: 同步调用挂死不能拖住整个 sweep
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type syncRequest struct {
	CredentialRef string `json:"credential_ref"`
	Cursor        string `json:"cursor,omitempty"`
	PageSize      int    `json:"page_size"`
}

func (c *HTTPClient) Sync(ctx context.Context, credentialRef, cursor string, pageSize int) (*SyncPage, error) {
	body, err := json.Marshal(syncRequest{
		CredentialRef: credentialRef,
		Cursor:        cursor,
		PageSize:      pageSize,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// 网络错误/超时 -> 可重试
		return nil, client.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, client.Transient(fmt.Errorf("aggregator returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx: 凭证失效等，不重试，由调用方把连接置为 error
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, data)
	}

	var page SyncPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode sync page: %w", err)
	}
	return &page, nil
}
