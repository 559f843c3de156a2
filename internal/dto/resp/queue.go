package resp

import "mirsal/internal/model"

type PendingListResponse struct {
	Data  []model.QueuedRequest `json:"data"`
	Count int                   `json:"count"`
}

type AuditListResponse struct {
	Data  []model.SyncAudit `json:"data"`
	Total int64             `json:"total"`
}
