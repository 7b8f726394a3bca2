package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordRequest struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type Service interface {
	// Record writes the entry with tx so it commits or rolls back with the
	// decision it describes. A nil tx writes on its own.
	Record(ctx context.Context, tx *gorm.DB, req RecordRequest) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]AuditLog, error)
}

var (
	ErrInvalidPageToken = apperror.New(apperror.KindInvalidRequest, "invalid_page_token")
	ErrInvalidTimeRange = apperror.New(apperror.KindInvalidRequest, "invalid_time_range")
	ErrInvalidAction    = apperror.New(apperror.KindInvalidRequest, "invalid_action")
)
