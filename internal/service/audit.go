package service

import (
	"gorm.io/gorm"

	"roundup-core/internal/model"
)

// RecordAudit 在同一个事务中写入一条审计流水
// 必须和它描述的状态迁移在一个事务里提交，崩溃时两者要么都在要么都不在。
// externalEventID: 由外部事件驱动的迁移必须带上触发事件 ID，方便幂等排查；本地迁移传空串。
func RecordAudit(tx *gorm.DB, subjectType string, subjectID uint64, action, before, after, externalEventID string) error {
	entry := model.AuditEntry{
		SubjectType:     subjectType,
		SubjectID:       subjectID,
		Action:          action,
		BeforeState:     before,
		AfterState:      after,
		ExternalEventID: externalEventID,
	}
	return tx.Create(&entry).Error
}
