package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"roundup-core/pkg/safe_random"
)

// MockClient 模拟模式的支付处理器
// BaseURL 未配置时 main 装配这个实现。按幂等键折叠重复请求，
// 行为上和真实渠道的 Idempotency-Key 语义一致，方便本地把整条管线跑通。
type MockClient struct {
	mu        sync.Mutex
	charges   map[string]*ChargeResult   // idempotencyKey -> 首次应答
	transfers map[string]*TransferResult
}

func NewMockClient() *MockClient {
	return &MockClient{
		charges:   make(map[string]*ChargeResult),
		transfers: make(map[string]*TransferResult),
	}
}

func (c *MockClient) Charge(ctx context.Context, amount decimal.Decimal, currency, instrumentRef, idempotencyKey string) (*ChargeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.charges[idempotencyKey]; ok {
		return prev, nil // 幂等: 重复请求返回同一应答
	}

	ref, err := safe_random.GenerateRandomHexString(12)
	if err != nil {
		return nil, err
	}
	result := &ChargeResult{ChargeRef: "ch_mock_" + ref, Status: StatusPending}
	c.charges[idempotencyKey] = result
	return result, nil
}

func (c *MockClient) Transfer(ctx context.Context, amount decimal.Decimal, destinationRef, idempotencyKey string) (*TransferResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.transfers[idempotencyKey]; ok {
		return prev, nil
	}

	ref, err := safe_random.GenerateRandomHexString(12)
	if err != nil {
		return nil, err
	}
	result := &TransferResult{TransferRef: "tr_mock_" + ref, Status: StatusPending}
	c.transfers[idempotencyKey] = result
	return result, nil
}
