package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/alerting"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/audit/masking"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/clock"
	obsmetrics "github.com/smallbiznis/agencyledger/internal/observability/metrics"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       auditdomain.Repository
	Clock      clock.Clock        `optional:"true"`
	Notifier   alerting.Notifier  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     auditdomain.Repository
	clock    clock.Clock
	notifier alerting.Notifier
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("audit.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    clk,
		notifier: p.Notifier,
		metrics:  p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := auditdomain.Action(strings.TrimSpace(string(entry.Action)))
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	entityType := strings.TrimSpace(entry.EntityType)
	if entityType == "" {
		return auditdomain.ErrInvalidEntity
	}

	actor := entry.Actor.Normalize()
	if !actor.Valid() {
		if ctxActor, ok := auditcontext.ActorFromContext(ctx); ok {
			actor = ctxActor.Normalize()
		} else {
			actor = auditcontext.SystemActor("system")
		}
	}

	row := auditdomain.AuditLog{
		ID:           s.genID.Generate(),
		Action:       action,
		EntityType:   entityType,
		EntityID:     strings.TrimSpace(entry.EntityID),
		EntityNumber: strings.TrimSpace(entry.EntityNumber),
		ActorID:      actor.ID,
		ActorName:    actor.Name,
		ActorRole:    actor.Role,
		Description:  strings.TrimSpace(entry.Description),
		Metadata:     datatypes.JSONMap(auditcontext.RequestMetadata(ctx)),
		CreatedAt:    s.clock.Now().UTC(),
	}

	err := s.encodeStates(&row, entry)
	if err == nil {
		if tx == nil {
			tx = s.db
		}
		err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
			return s.repo.Insert(ctx, sp, &row)
		})
	}
	if err == nil {
		return nil
	}
	return s.incomplete(ctx, row, err)
}

func (s *Service) encodeStates(row *auditdomain.AuditLog, entry auditdomain.Entry) error {
	before, err := encodeState(entry.Before)
	if err != nil {
		return err
	}
	after, err := encodeState(entry.After)
	if err != nil {
		return err
	}
	row.Before, row.After = before, after
	return nil
}

func encodeState(state any) (datatypes.JSON, error) {
	if state == nil {
		return nil, nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	masked, err := masking.MaskJSON(b)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(masked), nil
}

func (s *Service) incomplete(ctx context.Context, row auditdomain.AuditLog, err error) error {
	s.metrics.RecordAuditFailure(ctx, row.EntityType)
	s.log.Error("failed to write audit log",
		zap.String("action", string(row.Action)),
		zap.String("entity_type", row.EntityType),
		zap.String("entity_id", row.EntityID),
		zap.String("actor_id", row.ActorID),
		zap.Error(err),
	)
	return &auditdomain.IncompleteError{
		Action:       row.Action,
		EntityType:   row.EntityType,
		EntityID:     row.EntityID,
		EntityNumber: row.EntityNumber,
		ActorID:      row.ActorID,
		Err:          err,
	}
}

func (s *Service) Report(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}
	for _, missing := range auditdomain.Incomplete(err) {
		s.notifier.Notify(ctx, alerting.Alert{
			Reason:   alerting.ReasonAuditWriteFailed,
			Severity: alerting.SeverityCritical,
			Message:  "audit entry for a committed financial operation was not written",
			Details: datatypes.JSONMap{
				"action":        string(missing.Action),
				"entity_type":   missing.EntityType,
				"entity_id":     missing.EntityID,
				"entity_number": missing.EntityNumber,
				"actor_id":      missing.ActorID,
				"error":         missing.Err.Error(),
			},
		})
	}
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := decoded.CursorTime()
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, db.WrapPersistence(err)
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}
