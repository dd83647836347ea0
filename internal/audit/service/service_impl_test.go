package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/agencyledger/internal/alerting"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/audit/repository"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/clock"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	dbpkg "github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type notifier struct{ alerts []alerting.Alert }

func (n *notifier) Notify(_ context.Context, alert alerting.Alert) { n.alerts = append(n.alerts, alert) }

type brokenRepo struct{ auditdomain.Repository }

func (brokenRepo) Insert(context.Context, *gorm.DB, *auditdomain.AuditLog) error {
	return errors.New("disk full")
}

var start = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo auditdomain.Repository) (*Service, *gorm.DB, *clock.FakeClock, *notifier) {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(start)
	n := &notifier{}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    testutil.NewNode(t),
		Repo:     repo,
		Clock:    clk,
		Notifier: n,
	}).(*Service)
	return svc, db, clk, n
}

func TestRecordWritesEntry(t *testing.T) {
	svc, db, _, n := newTestService(t, repository.Provide())
	ctx := auditcontext.WithRequestID(testutil.As(testutil.Employee()), "req-42")

	err := svc.Record(ctx, db, auditdomain.Entry{
		Action:       auditdomain.ActionCreate,
		EntityType:   auditdomain.EntityReceipt,
		EntityID:     "123",
		EntityNumber: "REC-20261015-001",
		After:        map[string]any{"customer": map[string]any{"name": "Ayu", "phone": "081234567890"}},
		Description:  " created ",
	})
	require.NoError(t, err)
	assert.Empty(t, n.alerts)

	var row auditdomain.AuditLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, auditdomain.ActionCreate, row.Action)
	assert.Equal(t, "emp-1", row.ActorID)
	assert.Equal(t, auditcontext.RoleEmployee, row.ActorRole)
	assert.Equal(t, "created", row.Description)
	assert.Equal(t, "req-42", row.Metadata["request_id"])

	var after map[string]map[string]string
	require.NoError(t, json.Unmarshal(row.After, &after))
	assert.Equal(t, "****7890", after["customer"]["phone"])
}

func TestRecordFallsBackToSystemActor(t *testing.T) {
	svc, db, _, _ := newTestService(t, repository.Provide())

	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{
		Action: auditdomain.ActionMigrate, EntityType: auditdomain.EntityTransaction, EntityID: "1",
	}))

	var row auditdomain.AuditLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "system", row.ActorID)
	assert.Equal(t, auditcontext.RoleSystem, row.ActorRole)
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	svc, db, _, _ := newTestService(t, repository.Provide())

	assert.ErrorIs(t, svc.Record(context.Background(), db, auditdomain.Entry{EntityType: "receipt"}), auditdomain.ErrInvalidAction)
	assert.ErrorIs(t, svc.Record(context.Background(), db, auditdomain.Entry{Action: auditdomain.ActionCreate}), auditdomain.ErrInvalidEntity)
}

func TestRecordFailureKeepsOuterTransaction(t *testing.T) {
	svc, db, _, n := newTestService(t, brokenRepo{})
	ctx := testutil.As(testutil.Manager())

	var auditErr error
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`INSERT INTO document_counters (scope, last_value, updated_at) VALUES ('probe', 1, ?)`, start).Error; err != nil {
			return err
		}
		auditErr = svc.Record(ctx, tx, auditdomain.Entry{
			Action: auditdomain.ActionReverse, EntityType: auditdomain.EntityTransaction, EntityID: "9",
		})
		return nil
	})
	require.NoError(t, err)

	require.Error(t, auditErr)
	assert.True(t, auditdomain.IsCommitted(auditErr))
	incomplete := auditdomain.Incomplete(auditErr)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "9", incomplete[0].EntityID)

	var count int64
	require.NoError(t, db.Table("document_counters").Where("scope = ?", "probe").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Empty(t, n.alerts)

	svc.Report(ctx, auditErr)
	require.Len(t, n.alerts, 1)
	assert.Equal(t, alerting.ReasonAuditWriteFailed, n.alerts[0].Reason)
	assert.Equal(t, "mgr-1", n.alerts[0].Details["actor_id"])
	assert.Equal(t, "9", n.alerts[0].Details["entity_id"])
}

func TestReportIgnoresOtherErrors(t *testing.T) {
	svc, _, _, n := newTestService(t, repository.Provide())

	svc.Report(context.Background(), nil)
	svc.Report(context.Background(), errors.New("boom"))
	assert.Empty(t, n.alerts)
}

func TestAuditFailureAlertPersistsAfterCommit(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     brokenRepo{},
		Clock:    clock.NewFakeClock(start),
		Notifier: alerting.NewLogNotifier(alerting.Params{DB: db, Log: zap.NewNop(), GenID: node}),
	})
	ctx := testutil.As(testutil.Manager())

	done := make(chan error, 1)
	go func() {
		var auditErr error
		err := dbpkg.Atomic(ctx, db, func(tx *gorm.DB) error {
			auditErr = svc.Record(ctx, tx, auditdomain.Entry{
				Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityReceipt, EntityID: "77",
			})
			return nil
		})
		if err == nil {
			svc.Report(ctx, auditErr)
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("audit failure blocked the surrounding transaction")
	}

	var alerts []alerting.Alert
	require.NoError(t, db.Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, alerting.ReasonAuditWriteFailed, alerts[0].Reason)
	assert.Equal(t, "77", alerts[0].Details["entity_id"])
}

func TestJoinAndIncomplete(t *testing.T) {
	assert.NoError(t, auditdomain.Join(nil, nil))

	a := &auditdomain.IncompleteError{Action: auditdomain.ActionConvert, EntityID: "a", Err: errors.New("x")}
	b := &auditdomain.IncompleteError{Action: auditdomain.ActionCreate, EntityID: "b", Err: errors.New("y")}
	assert.Same(t, a, auditdomain.Join(nil, a))

	joined := auditdomain.Join(a, nil, b)
	assert.True(t, auditdomain.IsCommitted(joined))
	assert.Equal(t, []*auditdomain.IncompleteError{a, b}, auditdomain.Incomplete(joined))
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, db, clk, _ := newTestService(t, repository.Provide())
	ctx := testutil.As(testutil.Manager())

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, svc.Record(ctx, db, auditdomain.Entry{
			Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityInvoice, EntityID: id,
		}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, db, auditdomain.Entry{
		Action: auditdomain.ActionCancel, EntityType: auditdomain.EntityInvoice, EntityID: "1",
	}))

	page, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		Action:     auditdomain.ActionCreate,
	})
	require.NoError(t, err)
	require.Len(t, page.AuditLogs, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "3", page.AuditLogs[0].EntityID)
	assert.Equal(t, "2", page.AuditLogs[1].EntityID)

	next, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
		Action:     auditdomain.ActionCreate,
	})
	require.NoError(t, err)
	require.Len(t, next.AuditLogs, 1)
	assert.Equal(t, "1", next.AuditLogs[0].EntityID)
	assert.False(t, next.HasMore)

	byEntity, err := svc.List(ctx, auditdomain.ListAuditLogRequest{EntityType: auditdomain.EntityInvoice, EntityID: "1"})
	require.NoError(t, err)
	assert.Len(t, byEntity.AuditLogs, 2)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _, _, _ := newTestService(t, repository.Provide())
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	later := start.Add(time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &later, EndAt: &start})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
