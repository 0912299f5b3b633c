package request

// CloseBatchRequest 手动收口一个用户的归集周期
type CloseBatchRequest struct {
	UserID uint64 `json:"user_id" binding:"required,min=1"`
}

// ClosePayoutRequest 手动收口一个机构的结算周期
type ClosePayoutRequest struct {
	OrgID uint64 `json:"org_id" binding:"required,min=1"`
}

// SyncConnectionRequest 手动触发单个连接的 sync
type SyncConnectionRequest struct {
	ConnectionID uint64 `json:"connection_id" binding:"required,min=1"`
}
