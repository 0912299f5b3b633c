package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roundup-core/internal/client"
	"roundup-core/internal/client/bankfeed"
	"roundup-core/internal/model"
	"roundup-core/pkg/cache"
	"roundup-core/pkg/crypto_util"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/monitor"
	"roundup-core/pkg/utils/lock"
)

// 外部调用的有界重试参数
const (
	syncMaxAttempts = 3
	syncBaseBackoff = time.Second
	syncLockTTL     = 10 * time.Minute
)

// BankSyncService 负责按游标同步银行流水并生成凑整记录
// 游标只前进: 只有一页的所有交易落库之后才持久化 next_cursor，
// 崩溃后下次从同一游标恢复，下游靠 external_transaction_id 唯一索引兜重
type BankSyncService struct {
	db       *gorm.DB
	client   bankfeed.Client
	distLock lock.DistributedLock
	cache    cache.Cache // 挂账汇总等读路径的时效缓存，新数据落库时失效
	pageSize int
	credKey  []byte // 凭证落库加密密钥，空则按明文引用处理
}

func NewBankSyncService(db *gorm.DB, c bankfeed.Client, distLock lock.DistributedLock, ca cache.Cache, pageSize int) *BankSyncService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &BankSyncService{
		db:       db,
		client:   c,
		distLock: distLock,
		cache:    ca,
		pageSize: pageSize,
	}
}

// WithCredentialKey 配置凭证解密密钥 (AES-128/192/256)
// 配置后 bank_connections.credential_ref 按 base64(nonce+密文) 解读
func (s *BankSyncService) WithCredentialKey(key string) *BankSyncService {
	switch len(key) {
	case 0:
	case 16, 24, 32:
		s.credKey = []byte(key)
	default:
		logger.Warn("凭证加密密钥长度非法，按明文凭证处理", zap.Int("len", len(key)))
	}
	return s
}

func (s *BankSyncService) resolveCredential(stored string) (string, error) {
	if len(s.credKey) == 0 {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", err
	}
	plain, err := crypto_util.DecryptAESGCM(s.credKey, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SyncResult 单个连接一次 sync 的统计
type SyncResult struct {
	ConnectionID uint64 `json:"connection_id"`
	Pages        int    `json:"pages"`
	Created      int    `json:"created"`
	Duplicates   int    `json:"duplicates"`
	Voided       int    `json:"voided"`
	Err          error  `json:"-"`
	ErrMessage   string `json:"error,omitempty"`
}

// SweepReport 一轮全量 sweep 的汇总报告
// 单个连接失败不中断 sweep，逐项收集结果 (Result 列表而不是抛异常)
type SweepReport struct {
	Total   int          `json:"total"`
	Failed  int          `json:"failed"`
	Results []SyncResult `json:"results"`
}

// SweepConnections 扫一遍所有 active 连接
func (s *BankSyncService) SweepConnections(ctx context.Context) (*SweepReport, error) {
	var connections []model.BankConnection
	if err := s.db.Where("status = ?", model.ConnectionStatusActive).Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("查询连接列表失败: %w", err)
	}

	report := &SweepReport{Total: len(connections)}
	for _, conn := range connections {
		result := s.SyncConnection(ctx, conn.ID, "sweep")
		if result.Err != nil {
			result.ErrMessage = result.Err.Error()
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	logger.Info("银行连接 sweep 完成",
		zap.Int("total", report.Total),
		zap.Int("failed", report.Failed))
	return report, nil
}

// SyncConnection 对单个连接执行完整的游标同步 (循环翻页直到 has_more=false)
// trigger: "sweep" / "webhook" / "manual"，只用于埋点
func (s *BankSyncService) SyncConnection(ctx context.Context, connectionID uint64, trigger string) SyncResult {
	result := SyncResult{ConnectionID: connectionID}

	// "要不要启动"去重: 同一连接已有 sync 在跑时直接跳过。
	// 游标推进不能安全中断，宁可放已启动的跑完也不取消。
	lockKey := fmt.Sprintf("banksync:conn:%d", connectionID)
	locked, err := s.distLock.Acquire(ctx, lockKey, syncLockTTL)
	if err != nil {
		result.Err = fmt.Errorf("获取 sync 锁失败: %w", err)
		return result
	}
	if !locked {
		logger.Debug("连接正在被其他实例同步，跳过", zap.Uint64("connection_id", connectionID))
		return result
	}
	defer s.distLock.Release(ctx, lockKey)

	timer := prometheus.NewTimer(monitor.Business.SyncJobDuration.WithLabelValues(trigger))
	defer timer.ObserveDuration()

	var conn model.BankConnection
	if err := s.db.First(&conn, connectionID).Error; err != nil {
		result.Err = fmt.Errorf("连接不存在: %w", err)
		return result
	}
	if conn.Status == model.ConnectionStatusRevoked {
		result.Err = fmt.Errorf("连接已被撤销")
		return result
	}

	credential, err := s.resolveCredential(conn.CredentialRef)
	if err != nil {
		result.Err = fmt.Errorf("解密访问凭证失败: %w", err)
		return result
	}

	cursor := conn.SyncCursor
	for {
		page, err := s.fetchPageWithRetry(ctx, credential, cursor)
		if err != nil {
			s.markConnectionError(ctx, &conn, err)
			result.Err = err
			return result
		}

		// 一页在一个事务里落库: 交易处理 + 游标推进要么全有要么全无
		if err := s.applyPage(ctx, &conn, page, &result); err != nil {
			result.Err = fmt.Errorf("落库 sync 页失败: %w", err)
			return result
		}
		result.Pages++
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}

	// 出错后恢复的连接转回 active
	if conn.Status == model.ConnectionStatusError {
		s.transitionConnection(ctx, &conn, model.ConnectionStatusActive, "sync_recovered", "")
	}

	if result.Created > 0 || result.Voided > 0 {
		// 新数据落库，失效该用户的挂账汇总缓存
		_ = s.cache.Delete(ctx, fmt.Sprintf("roundup:summary:%d", conn.UserID))
	}
	return result
}

// fetchPageWithRetry 有界指数退避重试；只重试 Transient 错误
func (s *BankSyncService) fetchPageWithRetry(ctx context.Context, credentialRef, cursor string) (*bankfeed.SyncPage, error) {
	var lastErr error
	backoff := syncBaseBackoff
	for attempt := 1; attempt <= syncMaxAttempts; attempt++ {
		page, err := s.client.Sync(ctx, credentialRef, cursor, s.pageSize)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !client.IsTransient(err) {
			return nil, err
		}
		logger.Error("聚合器调用失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("重试耗尽: %w", lastErr)
}

// applyPage 把一页同步结果在单个事务内落库
func (s *BankSyncService) applyPage(ctx context.Context, conn *model.BankConnection, page *bankfeed.SyncPage, result *SyncResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var policy model.UserPolicy
		if err := tx.Where("user_id = ?", conn.UserID).First(&policy).Error; err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			policy = model.UserPolicy{UserID: conn.UserID, Multiplier: 1} // 没配置按默认策略
		}

		for _, txn := range page.Added {
			created, err := s.upsertRoundup(tx, conn, &policy, txn)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Duplicates++
			}
		}

		// modified: 只要记录还没入批就允许重算；batched 记录不可变
		for _, txn := range page.Modified {
			if err := s.applyModified(tx, conn, &policy, txn); err != nil {
				return err
			}
		}

		for _, removedID := range page.RemovedIDs {
			voided, err := s.voidRoundup(tx, removedID)
			if err != nil {
				return err
			}
			if voided {
				result.Voided++
			}
		}

		// 游标只在整页落库成功后推进
		now := time.Now()
		conn.SyncCursor = page.NextCursor
		conn.LastSyncedAt = &now
		return tx.Model(conn).Updates(map[string]interface{}{
			"sync_cursor":    page.NextCursor,
			"last_synced_at": now,
		}).Error
	})
}

// upsertRoundup 生成凑整记录，撞 external_transaction_id 唯一索引时静默跳过 (聚合器重复投递)
func (s *BankSyncService) upsertRoundup(tx *gorm.DB, conn *model.BankConnection, policy *model.UserPolicy, txn bankfeed.Transaction) (bool, error) {
	amount, ok := CalculateRoundup(txn, policy.Multiplier)
	if !ok {
		monitor.Business.RoundupRecordsTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}

	record := model.RoundupRecord{
		UserID:                conn.UserID,
		ConnectionID:          conn.ID,
		ExternalTransactionID: txn.ExternalID,
		BaseAmount:            txn.Amount,
		RoundupAmount:         amount,
		TransactionDate:       txn.Date,
		Status:                model.RoundupStatusPending,
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_transaction_id"}},
		DoNothing: true,
	}).Create(&record)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		monitor.Business.RoundupRecordsTotal.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	monitor.Business.RoundupRecordsTotal.WithLabelValues("created").Inc()
	amountFloat, _ := amount.Float64()
	monitor.Business.RoundupAmountTotal.Add(amountFloat)

	return true, RecordAudit(tx, model.SubjectRoundupRecord, record.ID,
		"roundup_created", "", model.RoundupStatusPending, txn.ExternalID)
}

// applyModified 聚合器修正了一笔交易 (金额/类目变化)
func (s *BankSyncService) applyModified(tx *gorm.DB, conn *model.BankConnection, policy *model.UserPolicy, txn bankfeed.Transaction) error {
	var record model.RoundupRecord
	err := tx.Where("external_transaction_id = ?", txn.ExternalID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		// 首次见到，按新增处理
		_, err := s.upsertRoundup(tx, conn, policy, txn)
		return err
	}
	if err != nil {
		return err
	}
	if record.Status != model.RoundupStatusPending {
		return nil // 已入批/已作废的记录不可变
	}

	amount, ok := CalculateRoundup(txn, policy.Multiplier)
	if !ok {
		// 修正后不再符合条件 (如类目改成 transfer)，作废
		if err := tx.Model(&record).Updates(map[string]interface{}{
			"status": model.RoundupStatusVoided,
		}).Error; err != nil {
			return err
		}
		return RecordAudit(tx, model.SubjectRoundupRecord, record.ID,
			"roundup_voided_by_modify", model.RoundupStatusPending, model.RoundupStatusVoided, txn.ExternalID)
	}

	return tx.Model(&record).Updates(map[string]interface{}{
		"base_amount":    txn.Amount,
		"roundup_amount": amount,
	}).Error
}

// voidRoundup 聚合器删除了一笔交易，对应的 pending 记录作废
func (s *BankSyncService) voidRoundup(tx *gorm.DB, externalID string) (bool, error) {
	var record model.RoundupRecord
	err := tx.Where("external_transaction_id = ? AND status = ?",
		externalID, model.RoundupStatusPending).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil // 不存在或已入批: 已入批的钱不回退，留给人工核销
	}
	if err != nil {
		return false, err
	}

	if err := tx.Model(&record).Update("status", model.RoundupStatusVoided).Error; err != nil {
		return false, err
	}
	return true, RecordAudit(tx, model.SubjectRoundupRecord, record.ID,
		"roundup_voided_by_remove", model.RoundupStatusPending, model.RoundupStatusVoided, externalID)
}

// markConnectionError 重试耗尽，连接转 error，游标原样保留，下次从同一点恢复
func (s *BankSyncService) markConnectionError(ctx context.Context, conn *model.BankConnection, cause error) {
	monitor.Business.SyncErrorsTotal.Inc()
	logger.Error("连接 sync 失败，连接转入 error 状态",
		zap.Uint64("connection_id", conn.ID),
		zap.Error(cause))
	s.transitionConnection(ctx, conn, model.ConnectionStatusError, "sync_failed", "")
}

// transitionConnection 连接状态迁移 + 审计，同一事务提交
func (s *BankSyncService) transitionConnection(ctx context.Context, conn *model.BankConnection, newStatus, action, externalEventID string) {
	before := conn.Status
	if before == newStatus {
		return
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(conn).Update("status", newStatus).Error; err != nil {
			return err
		}
		return RecordAudit(tx, model.SubjectBankConnection, conn.ID, action, before, newStatus, externalEventID)
	})
	if err != nil {
		logger.Error("连接状态迁移失败", zap.Uint64("connection_id", conn.ID), zap.Error(err))
		return
	}
	conn.Status = newStatus
}

// MarkConnectionStatus 外部事件 (item.error / item.revoked) 驱动的连接状态迁移
func (s *BankSyncService) MarkConnectionStatus(ctx context.Context, externalItemID, newStatus, externalEventID string) error {
	var conn model.BankConnection
	if err := s.db.Where("external_item_id = ?", externalItemID).First(&conn).Error; err != nil {
		return fmt.Errorf("连接不存在 item=%s: %w", externalItemID, err)
	}
	s.transitionConnection(ctx, &conn, newStatus, "item_event", externalEventID)
	return nil
}
