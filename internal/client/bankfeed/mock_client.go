package bankfeed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MockClient 模拟模式的聚合器
// BaseURL 未配置时 main 装配这个实现，每次 Sync 返回一小批确定性的测试交易。
// 游标是递增整数的字符串形式，方便验证"游标只前进"。
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Sync(ctx context.Context, credentialRef, cursor string, pageSize int) (*SyncPage, error) {
	seq := 0
	if cursor != "" {
		seq, _ = strconv.Atoi(cursor)
	}
	seq++

	now := time.Now()
	page := &SyncPage{
		Added: []Transaction{
			{
				ExternalID: fmt.Sprintf("mock_txn_%s_%d_a", credentialRef, seq),
				Amount:     decimal.RequireFromString("4.35"),
				Category:   "grocery",
				Merchant:   "Corner Market",
				Date:       now,
			},
			{
				ExternalID: fmt.Sprintf("mock_txn_%s_%d_b", credentialRef, seq),
				Amount:     decimal.RequireFromString("12.80"),
				Category:   "restaurant",
				Merchant:   "Lucky Noodle",
				Date:       now,
			},
		},
		NextCursor: strconv.Itoa(seq),
		HasMore:    false,
	}
	return page, nil
}
