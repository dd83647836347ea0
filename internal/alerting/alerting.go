package alerting

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	obsmetrics "github.com/smallbiznis/agencyledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	ReasonAuditWriteFailed = "audit_write_failed"
	ReasonRegisterDrift    = "register_drift"
)

// Alert is a condition an operator has to look at. Raised alerts are kept
// in the alerts table.
type Alert struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Reason    string            `gorm:"type:varchar(64);not null;index" json:"reason"`
	Severity  Severity          `gorm:"type:varchar(16);not null" json:"severity"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	Details   datatypes.JSONMap `gorm:"type:json" json:"details,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (Alert) TableName() string { return "alerts" }

type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

type Params struct {
	fx.In

	DB         *gorm.DB            `optional:"true"`
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// LogNotifier reports alerts at error level and keeps a row per alert when
// a database is available. Notify never fails the caller.
type LogNotifier struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *obsmetrics.Metrics
}

func NewLogNotifier(p Params) Notifier {
	return &LogNotifier{
		db:      p.DB,
		log:     p.Log.Named("alerting"),
		genID:   p.GenID,
		metrics: p.ObsMetrics,
	}
}

func (n *LogNotifier) Notify(ctx context.Context, alert Alert) {
	if alert.Severity == "" {
		alert.Severity = SeverityCritical
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.ID == 0 && n.genID != nil {
		alert.ID = n.genID.Generate()
	}

	n.metrics.RecordAlert(ctx, alert.Reason)
	n.log.Error("alert raised",
		zap.String("alert", alert.Reason),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
		zap.Any("details", map[string]any(alert.Details)),
		zap.String("request_id", auditcontext.RequestIDFromContext(ctx)),
	)

	if n.db == nil || alert.ID == 0 {
		return
	}
	// Context cancellation of the failed request must not drop the row.
	if err := n.db.WithContext(context.WithoutCancel(ctx)).Create(&alert).Error; err != nil {
		n.log.Warn("failed to persist alert", zap.String("alert", alert.Reason), zap.Error(err))
	}
}
