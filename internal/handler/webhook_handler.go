package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"roundup-core/internal/model"
	"roundup-core/internal/service"
	"roundup-core/pkg/crypto_util"
	"roundup-core/pkg/errno"
	"roundup-core/pkg/monitor"
)

// WebhookHandler 两个外部系统的事件入口
// 应答约定: 2xx 确认 (含重复投递)，4xx 拒收且不重投，5xx 让供应商重投。
// code-in-body 信封只给管理接口用，webhook 必须回真实 HTTP 状态码。
type WebhookHandler struct {
	svc            *service.WebhookService
	bankfeedSecret []byte
	paymentSecret  []byte
}

func NewWebhookHandler(svc *service.WebhookService, bankfeedSecret, paymentSecret string) *WebhookHandler {
	return &WebhookHandler{
		svc:            svc,
		bankfeedSecret: []byte(bankfeedSecret),
		paymentSecret:  []byte(paymentSecret),
	}
}

// HandleBankfeed godoc
// @Summary 银行聚合器事件入口
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Signature header string true "HMAC-SHA256 of raw body"
// @Success 200 {object} map[string]string
// @Router /webhooks/bankfeed [post]
func (h *WebhookHandler) HandleBankfeed(c *gin.Context) {
	h.handle(c, model.ProviderBankfeed, h.bankfeedSecret)
}

// HandlePayment godoc
// @Summary 支付处理器事件入口
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Signature header string true "HMAC-SHA256 of raw body"
// @Success 200 {object} map[string]string
// @Router /webhooks/payment [post]
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	h.handle(c, model.ProviderPayment, h.paymentSecret)
}

func (h *WebhookHandler) handle(c *gin.Context, provider string, secret []byte) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errno.ErrWebhookPayload.Message})
		return
	}

	// 验签先于一切: 去重查询和任何落库之前
	signature := c.GetHeader("X-Signature")
	if !crypto_util.VerifyHMAC256(secret, body, signature) {
		monitor.Business.WebhookEventsTotal.WithLabelValues(provider, "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": errno.ErrWebhookSignature.Message})
		return
	}

	if err := h.svc.Process(c.Request.Context(), provider, body); err != nil {
		if errors.Is(err, errno.ErrWebhookPayload) {
			monitor.Business.WebhookEventsTotal.WithLabelValues(provider, "rejected").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": errno.ErrWebhookPayload.Message})
			return
		}
		// 处理失败 (DB 故障、乱序早到等): 5xx 让供应商按退避重投
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
