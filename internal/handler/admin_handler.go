package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"roundup-core/internal/handler/request"
	"roundup-core/internal/handler/response"
	"roundup-core/internal/model"
	"roundup-core/internal/service"
	"roundup-core/pkg/errno"
)

// AdminHandler 运营后台接口: 手动触发三个周期任务、查询批次/Payout 状态
// 身份校验在上游网关完成，这里信任 (user_id, role, org_id) 上下文
type AdminHandler struct {
	syncer  *service.BankSyncService
	batcher *service.BatchService
	payer   *service.PayoutService
	query   *service.RoundupQueryService
	db      *gorm.DB
}

func NewAdminHandler(syncer *service.BankSyncService, batcher *service.BatchService, payer *service.PayoutService, query *service.RoundupQueryService, db *gorm.DB) *AdminHandler {
	return &AdminHandler{
		syncer:  syncer,
		batcher: batcher,
		payer:   payer,
		query:   query,
		db:      db,
	}
}

// SweepConnections 手动触发全量 sync 扫描
// @Summary 手动触发全量银行流水扫描
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/admin/sync/sweep [post]
func (h *AdminHandler) SweepConnections(c *gin.Context) {
	report, err := h.syncer.SweepConnections(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// SyncConnection 手动触发单个连接的 sync
// @Summary 手动触发单个连接的流水同步
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.SyncConnectionRequest true "Sync Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/sync/connection [post]
func (h *AdminHandler) SyncConnection(c *gin.Context) {
	var req request.SyncConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	result := h.syncer.SyncConnection(c.Request.Context(), req.ConnectionID, "manual")
	if result.Err != nil {
		result.ErrMessage = result.Err.Error()
	}
	response.Success(c, result)
}

// CloseBatch 手动收口一个用户的上个归集周期
// @Summary 手动收口用户归集周期
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.CloseBatchRequest true "Close Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/batches/close [post]
func (h *AdminHandler) CloseBatch(c *gin.Context) {
	var req request.CloseBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var policy model.UserPolicy
	periodDays := 14
	if err := h.db.Where("user_id = ?", req.UserID).First(&policy).Error; err == nil {
		periodDays = policy.PeriodDays
	}
	period := service.PreviousPeriod(periodDays, time.Now())

	batch, err := h.batcher.CloseUserPeriod(c.Request.Context(), req.UserID, period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, batch)
}

// ClosePayout 手动收口一个机构的上个结算周期
// @Summary 手动收口机构结算周期
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.ClosePayoutRequest true "Close Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/payouts/close [post]
func (h *AdminHandler) ClosePayout(c *gin.Context) {
	var req request.ClosePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	payout, err := h.payer.ClosePreviousPeriod(c.Request.Context(), req.OrgID, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, payout)
}

// GetBatch 查询批次
// @Summary 查询捐赠批次
// @Tags Admin
// @Produce json
// @Param id path int true "Batch ID"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/batches/{id} [get]
func (h *AdminHandler) GetBatch(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var batch model.DonationBatch
	if err := h.db.First(&batch, id).Error; err != nil {
		response.Error(c, errno.ErrBatchNotFound)
		return
	}
	response.Success(c, batch)
}

// GetPayout 查询 Payout
// @Summary 查询机构结算
// @Tags Admin
// @Produce json
// @Param id path int true "Payout ID"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/payouts/{id} [get]
func (h *AdminHandler) GetPayout(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var payout model.ChurchPayout
	if err := h.db.First(&payout, id).Error; err != nil {
		response.Error(c, errno.ErrPayoutNotFound)
		return
	}
	response.Success(c, payout)
}

// GetRoundupSummary 用户当前周期的凑整概览 (带缓存)
// @Summary 用户当前周期凑整概览
// @Tags Roundup
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} response.Response
// @Router /api/v1/users/{id}/roundups/summary [get]
func (h *AdminHandler) GetRoundupSummary(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	summary, err := h.query.PendingSummary(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}
