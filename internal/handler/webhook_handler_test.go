package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"roundup-core/pkg/crypto_util"
	"roundup-core/pkg/monitor"
)

func init() {
	gin.SetMode(gin.TestMode)
	monitor.InitBusinessMetrics()
}

// 验签失败必须在任何处理之前被拒绝，不重投 (4xx)
func TestWebhookSignatureRejected(t *testing.T) {
	h := NewWebhookHandler(nil, "bank-secret", "pay-secret")

	r := gin.New()
	r.POST("/webhooks/payment", h.HandlePayment)

	body := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"charge_ref":"ch_1"}}`)

	// 无签名头
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 签名错误
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("X-Signature", "deadbeef")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 用错的密钥签 (bankfeed 的密钥签 payment 的端点)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("X-Signature", crypto_util.SignHMAC256([]byte("bank-secret"), body))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
