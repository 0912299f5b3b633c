package service

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"roundup-core/internal/client/payment"
	"roundup-core/internal/model"
	"roundup-core/pkg/errno"
	"roundup-core/pkg/monitor"
)

func init() {
	monitor.InitBusinessMetrics()
}

// 行锁和 OnConflict 语义离不开真实的 Postgres，这些用例不装 sqlite。
// 运行: TEST_DATABASE_DSN="host=localhost user=postgres dbname=roundup_test sslmode=disable" go test ./internal/service/
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN 未设置，跳过数据库用例")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	require.NoError(t, db.Exec(
		"TRUNCATE users, user_policies, organizations, referrals, bank_connections, "+
			"roundup_records, donation_batches, church_payouts, referral_commissions, "+
			"webhook_events, audit_entries, outbox_messages RESTART IDENTITY CASCADE").Error)
	return db
}

// stubPaymentClient 按幂等键返回确定性引用，并统计真实发出的请求数
type stubPaymentClient struct {
	chargeCalls    int32
	transferCalls  int32
	chargeStatus   string
	transferStatus string
}

func (c *stubPaymentClient) Charge(ctx context.Context, amount decimal.Decimal, currency, instrumentRef, idempotencyKey string) (*payment.ChargeResult, error) {
	atomic.AddInt32(&c.chargeCalls, 1)
	status := c.chargeStatus
	if status == "" {
		status = payment.StatusPending
	}
	return &payment.ChargeResult{ChargeRef: "ch_" + idempotencyKey, Status: status}, nil
}

func (c *stubPaymentClient) Transfer(ctx context.Context, amount decimal.Decimal, destinationRef, idempotencyKey string) (*payment.TransferResult, error) {
	atomic.AddInt32(&c.transferCalls, 1)
	status := c.transferStatus
	if status == "" {
		status = payment.StatusPending
	}
	return &payment.TransferResult{TransferRef: "tr_" + idempotencyKey, Status: status}, nil
}

func seedOrgAndUser(t *testing.T, db *gorm.DB) (*model.Organization, *model.User) {
	t.Helper()
	org := model.Organization{Name: "测试机构", AccountRef: "acct_1", Status: "active"}
	require.NoError(t, db.Create(&org).Error)
	user := model.User{Email: "donor@example.com", OrgID: org.ID, PaymentMethodRef: "pm_1"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&model.UserPolicy{UserID: user.ID, Multiplier: 1, PeriodDays: 14}).Error)
	return &org, &user
}

func seedPendingRoundup(t *testing.T, db *gorm.DB, userID uint64, extID, amount string, date time.Time) *model.RoundupRecord {
	t.Helper()
	rec := model.RoundupRecord{
		UserID:                userID,
		ConnectionID:          1,
		ExternalTransactionID: extID,
		BaseAmount:            decimal.RequireFromString("4.35"),
		RoundupAmount:         decimal.RequireFromString(amount),
		TransactionDate:       date,
		Status:                model.RoundupStatusPending,
	}
	require.NoError(t, db.Create(&rec).Error)
	return &rec
}

// 同一个 (user, period) 重复收口只产出一个批次
func TestCloseUserPeriodOnce(t *testing.T) {
	db := testDB(t)
	_, user := seedOrgAndUser(t, db)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	period := PreviousPeriod(14, now)
	seedPendingRoundup(t, db, user.ID, "tx_a", "0.65", period.Start.AddDate(0, 0, 1))
	seedPendingRoundup(t, db, user.ID, "tx_b", "0.35", period.Start.AddDate(0, 0, 2))

	svc := NewBatchService(db, nil)
	batch, err := svc.CloseUserPeriod(context.Background(), user.ID, period)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.True(t, batch.TotalAmount.Equal(decimal.RequireFromString("1.00")))

	// 成员记录入批且金额守恒
	var records []model.RoundupRecord
	require.NoError(t, db.Where("batch_id = ?", batch.ID).Find(&records).Error)
	sum := decimal.Zero
	for _, r := range records {
		assert.Equal(t, model.RoundupStatusBatched, r.Status)
		sum = sum.Add(r.RoundupAmount)
	}
	assert.True(t, sum.Equal(batch.TotalAmount))

	// 重复触发直接放弃
	_, err = svc.CloseUserPeriod(context.Background(), user.ID, period)
	assert.ErrorIs(t, err, errno.ErrBatchExists)

	var count int64
	require.NoError(t, db.Model(&model.DonationBatch{}).
		Where("user_id = ? AND period_start = ?", user.ID, period.Start).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// 重复 Collect 只向渠道发出一次扣款，charge_ref 唯一
func TestCollectChargesOnce(t *testing.T) {
	db := testDB(t)
	_, user := seedOrgAndUser(t, db)

	batch := model.DonationBatch{
		UserID:      user.ID,
		OrgID:       user.OrgID,
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("5.00"),
		Status:      model.BatchStatusPending,
	}
	require.NoError(t, db.Create(&batch).Error)

	stub := &stubPaymentClient{}
	collector := NewCollectorService(db, stub, "USD")

	require.NoError(t, collector.Collect(context.Background(), batch.ID))
	require.NoError(t, collector.Collect(context.Background(), batch.ID))

	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.chargeCalls))

	var got model.DonationBatch
	require.NoError(t, db.First(&got, batch.ID).Error)
	assert.Equal(t, model.BatchStatusCharging, got.Status)
	assert.Equal(t, "ch_"+ChargeIdempotencyKey(batch.ID), got.ChargeRef)
}

// 用户已注销时批次必须终局，不能晾在 charging，成员记录放回 pending
func TestCollectUserMissingFailsBatch(t *testing.T) {
	db := testDB(t)
	_, user := seedOrgAndUser(t, db)

	batch := model.DonationBatch{
		UserID:      user.ID,
		OrgID:       user.OrgID,
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("0.65"),
		Status:      model.BatchStatusPending,
	}
	require.NoError(t, db.Create(&batch).Error)
	rec := seedPendingRoundup(t, db, user.ID, "tx_gone", "0.65", batch.PeriodStart)
	require.NoError(t, db.Model(rec).Updates(map[string]interface{}{
		"status":   model.RoundupStatusBatched,
		"batch_id": batch.ID,
	}).Error)

	require.NoError(t, db.Delete(user).Error) // 软删除

	stub := &stubPaymentClient{}
	collector := NewCollectorService(db, stub, "USD")
	require.NoError(t, collector.Collect(context.Background(), batch.ID))

	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.chargeCalls))

	var got model.DonationBatch
	require.NoError(t, db.First(&got, batch.ID).Error)
	assert.Equal(t, model.BatchStatusFailed, got.Status)
	assert.Equal(t, "instrument_unresolved", got.FailReason)

	var gotRec model.RoundupRecord
	require.NoError(t, db.First(&gotRec, rec.ID).Error)
	assert.Equal(t, model.RoundupStatusPending, gotRec.Status)
	assert.Nil(t, gotRec.BatchID)
}

func seedChargingBatch(t *testing.T, db *gorm.DB, userID, orgID uint64, chargeRef string) *model.DonationBatch {
	t.Helper()
	batch := model.DonationBatch{
		UserID:      userID,
		OrgID:       orgID,
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("7.50"),
		Status:      model.BatchStatusCharging,
		ChargeRef:   chargeRef,
	}
	require.NoError(t, db.Create(&batch).Error)
	return &batch
}

// 同一事件 ID 重复投递: 一次状态迁移、一条去重记录、一条审计，第二次应答成功
func TestWebhookChargeDuplicateDelivery(t *testing.T) {
	db := testDB(t)
	_, user := seedOrgAndUser(t, db)
	batch := seedChargingBatch(t, db, user.ID, user.OrgID, "ch_dup")

	svc := NewWebhookService(db, nil, NewReferralService("0"), nil)
	body := []byte(`{"id":"evt_dup","type":"charge.succeeded","data":{"charge_ref":"ch_dup"}}`)

	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, body))
	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, body))

	var got model.DonationBatch
	require.NoError(t, db.First(&got, batch.ID).Error)
	assert.Equal(t, model.BatchStatusCollected, got.Status)

	var events int64
	require.NoError(t, db.Model(&model.WebhookEvent{}).
		Where("provider = ? AND external_event_id = ?", model.ProviderPayment, "evt_dup").
		Count(&events).Error)
	assert.Equal(t, int64(1), events)

	var audits int64
	require.NoError(t, db.Model(&model.AuditEntry{}).
		Where("external_event_id = ?", "evt_dup").
		Count(&audits).Error)
	assert.Equal(t, int64(1), audits)

	var outbox int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outbox).Error)
	assert.Equal(t, int64(1), outbox)
}

// 扣款失败事件: 批次终局为 failed，成员记录放回 pending 等下期重新归集
func TestWebhookChargeFailedReleasesRecords(t *testing.T) {
	db := testDB(t)
	_, user := seedOrgAndUser(t, db)
	batch := seedChargingBatch(t, db, user.ID, user.OrgID, "ch_bad")
	rec := seedPendingRoundup(t, db, user.ID, "tx_bad", "0.50", batch.PeriodStart)
	require.NoError(t, db.Model(rec).Updates(map[string]interface{}{
		"status":   model.RoundupStatusBatched,
		"batch_id": batch.ID,
	}).Error)

	svc := NewWebhookService(db, nil, NewReferralService("0"), nil)
	body := []byte(`{"id":"evt_fail","type":"charge.failed","data":{"charge_ref":"ch_bad","fail_reason":"card_declined"}}`)
	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, body))

	var got model.DonationBatch
	require.NoError(t, db.First(&got, batch.ID).Error)
	assert.Equal(t, model.BatchStatusFailed, got.Status)
	assert.Equal(t, "card_declined", got.FailReason)

	var gotRec model.RoundupRecord
	require.NoError(t, db.First(&gotRec, rec.ID).Error)
	assert.Equal(t, model.RoundupStatusPending, gotRec.Status)
	assert.Nil(t, gotRec.BatchID)
}

// 终态不覆盖: 先到 succeeded 后到 failed，批次保持 collected
func TestWebhookStaleEventKeepsTerminal(t *testing.T) {
	db := testDB(t)
	_, user := seedOrgAndUser(t, db)
	batch := seedChargingBatch(t, db, user.ID, user.OrgID, "ch_race")

	svc := NewWebhookService(db, nil, NewReferralService("0"), nil)
	ok := []byte(`{"id":"evt_ok","type":"charge.succeeded","data":{"charge_ref":"ch_race"}}`)
	late := []byte(`{"id":"evt_late","type":"charge.failed","data":{"charge_ref":"ch_race"}}`)

	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, ok))
	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, late))

	var got model.DonationBatch
	require.NoError(t, db.First(&got, batch.ID).Error)
	assert.Equal(t, model.BatchStatusCollected, got.Status)
}

func seedCollectedBatch(t *testing.T, db *gorm.DB, userID, orgID uint64, amount string, periodEnd time.Time) *model.DonationBatch {
	t.Helper()
	batch := model.DonationBatch{
		UserID:      userID,
		OrgID:       orgID,
		PeriodStart: periodEnd.AddDate(0, 0, -14),
		PeriodEnd:   periodEnd,
		TotalAmount: decimal.RequireFromString(amount),
		Status:      model.BatchStatusCollected,
		ChargeRef:   "ch_" + amount,
	}
	require.NoError(t, db.Create(&batch).Error)
	return &batch
}

// 结算收口: gross == 成员批次之和，费率拆分正确，批次归属唯一，重复收口被 guard 挡下
func TestClosePayoutPeriod(t *testing.T) {
	db := testDB(t)
	org, user := seedOrgAndUser(t, db)

	now := time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC)
	period := PreviousPeriod(30, now) // 七月

	b1 := seedCollectedBatch(t, db, user.ID, org.ID, "60.00", time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	b2 := seedCollectedBatch(t, db, user.ID, org.ID, "40.00", time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))

	stub := &stubPaymentClient{}
	payer := NewPayoutService(db, stub, NewStaticEligibilityChecker(), "2.5", 30)

	payout, err := payer.ClosePayoutPeriod(context.Background(), org.ID, period)
	require.NoError(t, err)
	require.NotNil(t, payout)
	assert.True(t, payout.GrossAmount.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, payout.PlatformFee.Equal(decimal.RequireFromString("2.50")))
	assert.True(t, payout.NetAmount.Equal(decimal.RequireFromString("97.50")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.transferCalls))

	var got model.ChurchPayout
	require.NoError(t, db.First(&got, payout.ID).Error)
	assert.Equal(t, model.PayoutStatusTransferring, got.Status)
	assert.Equal(t, "tr_"+TransferIdempotencyKey(payout.ID), got.TransferRef)

	// 批次归属回填且金额守恒
	var members []model.DonationBatch
	require.NoError(t, db.Where("payout_id = ?", payout.ID).Find(&members).Error)
	require.Len(t, members, 2)
	sum := decimal.Zero
	for _, b := range members {
		sum = sum.Add(b.TotalAmount)
	}
	assert.True(t, sum.Equal(got.GrossAmount))

	// 重复收口: guard 挡下，批次不会被第二个 Payout 抢走
	_, err = payer.ClosePayoutPeriod(context.Background(), org.ID, period)
	assert.ErrorIs(t, err, errno.ErrPayoutExists)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.transferCalls))

	var gotB1, gotB2 model.DonationBatch
	require.NoError(t, db.First(&gotB1, b1.ID).Error)
	require.NoError(t, db.First(&gotB2, b2.ID).Error)
	assert.Equal(t, payout.ID, *gotB1.PayoutID)
	assert.Equal(t, payout.ID, *gotB2.PayoutID)
}

// KYC 不合格: Payout 直接建成 failed/kyc_ineligible，不发转账、不挂批次；
// 同一周期的拒绝只记一次，整改后批次随新 Payout 正常结算
func TestClosePayoutKYCIneligible(t *testing.T) {
	db := testDB(t)
	org, user := seedOrgAndUser(t, db)

	now := time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC)
	period := PreviousPeriod(30, now)
	batch := seedCollectedBatch(t, db, user.ID, org.ID, "25.00", time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC))

	checker := NewStaticEligibilityChecker()
	checker.Ineligible[org.ID] = struct{}{}
	stub := &stubPaymentClient{}
	payer := NewPayoutService(db, stub, checker, "2.5", 30)

	payout, err := payer.ClosePayoutPeriod(context.Background(), org.ID, period)
	require.NoError(t, err)
	require.NotNil(t, payout)
	assert.Equal(t, model.PayoutStatusFailed, payout.Status)
	assert.Equal(t, model.PayoutFailReasonKYC, payout.FailReason)
	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.transferCalls))

	// 批次保持可结算
	var gotBatch model.DonationBatch
	require.NoError(t, db.First(&gotBatch, batch.ID).Error)
	assert.Equal(t, model.BatchStatusCollected, gotBatch.Status)
	assert.Nil(t, gotBatch.PayoutID)

	// 第二晚重复收口: 不再堆新的 failed 行
	_, err = payer.ClosePayoutPeriod(context.Background(), org.ID, period)
	assert.ErrorIs(t, err, errno.ErrPayoutExists)
	var count int64
	require.NoError(t, db.Model(&model.ChurchPayout{}).
		Where("org_id = ? AND period_start = ?", org.ID, period.Start).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 整改后重建: 批次挂上新 Payout 并发起转账
	delete(checker.Ineligible, org.ID)
	fresh, err := payer.ClosePayoutPeriod(context.Background(), org.ID, period)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.transferCalls))

	require.NoError(t, db.First(&gotBatch, batch.ID).Error)
	require.NotNil(t, gotBatch.PayoutID)
	assert.Equal(t, fresh.ID, *gotBatch.PayoutID)
}

// 每个 Payout 最多计提一次佣金: 重复事件和重复计提都折叠成一条
func TestWebhookTransferPaidCommissionOnce(t *testing.T) {
	db := testDB(t)

	referrer := model.Organization{Name: "推荐机构", AccountRef: "acct_ref", Status: "active"}
	require.NoError(t, db.Create(&referrer).Error)
	referred := model.Organization{Name: "被推荐机构", AccountRef: "acct_new", Status: "active"}
	require.NoError(t, db.Create(&referred).Error)
	require.NoError(t, db.Create(&model.Referral{
		ReferringOrgID: referrer.ID,
		ReferredOrgID:  referred.ID,
		ActivatedAt:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		WindowDays:     365,
	}).Error)

	payout := model.ChurchPayout{
		OrgID:       referred.ID,
		PeriodStart: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		GrossAmount: decimal.RequireFromString("102.56"),
		PlatformFee: decimal.RequireFromString("2.56"),
		NetAmount:   decimal.RequireFromString("100.00"),
		Status:      model.PayoutStatusTransferring,
		TransferRef: "tr_comm",
	}
	require.NoError(t, db.Create(&payout).Error)

	referral := NewReferralService("2.0")
	svc := NewWebhookService(db, nil, referral, nil)
	paid := []byte(`{"id":"evt_paid","type":"transfer.paid","data":{"transfer_ref":"tr_comm"}}`)
	redelivered := []byte(`{"id":"evt_paid_2","type":"transfer.paid","data":{"transfer_ref":"tr_comm"}}`)

	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, paid))
	// 不同事件 ID 的重投: 终态不覆盖，也不会二次计提
	require.NoError(t, svc.Process(context.Background(), model.ProviderPayment, redelivered))

	var got model.ChurchPayout
	require.NoError(t, db.First(&got, payout.ID).Error)
	assert.Equal(t, model.PayoutStatusCompleted, got.Status)

	// 直接二次计提同样折叠
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return referral.AccrueForPayout(tx, &got, "evt_manual")
	}))

	var commissions []model.ReferralCommission
	require.NoError(t, db.Where("payout_id = ?", payout.ID).Find(&commissions).Error)
	require.Len(t, commissions, 1)
	assert.True(t, commissions[0].CommissionAmount.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, referrer.ID, commissions[0].ReferringOrgID)
}
