// Package reconciliation checks the cash register against the ledger it is
// derived from.
package reconciliation

import (
	"context"
	"time"

	"github.com/smallbiznis/agencyledger/internal/alerting"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/agencyledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agencyledger/internal/observability/metrics"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Repo       ledgerdomain.Repository
	Authz      authorization.Service
	Notifier   alerting.Notifier   `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	db       *gorm.DB
	log      *zap.Logger
	ledger   ledgerdomain.Service
	repo     ledgerdomain.Repository
	authz    authorization.Service
	notifier alerting.Notifier
	clock    clock.Clock
	metrics  *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Reconciler{
		db:       p.DB,
		log:      p.Log.Named("reconciliation"),
		ledger:   p.Ledger,
		repo:     p.Repo,
		authz:    p.Authz,
		notifier: p.Notifier,
		clock:    clk,
		metrics:  p.ObsMetrics,
	}
}

// Drift is the difference for one balance: Register minus Expected.
type Drift struct {
	Balance  string `json:"balance"`
	Register int64  `json:"register"`
	Expected int64  `json:"expected"`
}

func (d Drift) Amount() int64 { return d.Register - d.Expected }

type Report struct {
	CorrelationID string                        `json:"correlation_id"`
	CheckedAt     time.Time                     `json:"checked_at"`
	Register      ledgerdomain.RegisterSnapshot `json:"cash_register"`
	Expected      ledgerdomain.RegisterSnapshot `json:"expected"`
	Drift         []Drift                       `json:"drift,omitempty"`
}

func (r *Report) Balanced() bool { return len(r.Drift) == 0 }

// Run reads the register and the active transaction sums in one
// transaction and reports every balance that differs. Drift raises an
// alert; the register is never corrected here.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidActor
	}
	if err := r.authz.Authorize(ctx, actor, authorization.ObjectLedger, authorization.ActionLedgerReconcile); err != nil {
		return nil, err
	}

	ctx, correlationID := auditcontext.EnsureCorrelationID(ctx)
	report := &Report{CorrelationID: correlationID, CheckedAt: r.clock.Now().UTC()}

	err := db.Atomic(ctx, r.db, func(tx *gorm.DB) error {
		snap, err := r.ledger.Snapshot(ctx, tx)
		if err != nil {
			return err
		}
		sums, err := r.repo.ActiveSums(ctx, tx)
		if err != nil {
			return db.WrapPersistence(err)
		}
		report.Register = snap
		report.Expected = expectedSnapshot(sums)
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Drift = compare(report.Register, report.Expected)
	log := obslogger.WithContext(ctx, r.log).With(zap.String("correlation_id", correlationID))
	if report.Balanced() {
		log.Info("cash register reconciled", zap.Int64("total", report.Register.Total))
		return report, nil
	}

	r.metrics.RecordReconcileDrift(ctx)
	details := datatypes.JSONMap{"correlation_id": correlationID}
	for _, d := range report.Drift {
		details[d.Balance] = d.Amount()
		log.Error("cash register drift",
			zap.String("balance", d.Balance),
			zap.Int64("register", d.Register),
			zap.Int64("expected", d.Expected),
		)
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, alerting.Alert{
			Reason:   alerting.ReasonRegisterDrift,
			Severity: alerting.SeverityCritical,
			Message:  "cash register differs from the sum of active transactions",
			Details:  details,
		})
	}
	return report, nil
}

func expectedSnapshot(sums map[ledgerdomain.PaymentMethod]int64) ledgerdomain.RegisterSnapshot {
	snap := ledgerdomain.RegisterSnapshot{
		Cash:     sums[ledgerdomain.PaymentMethodCash],
		Card:     sums[ledgerdomain.PaymentMethodCard],
		Transfer: sums[ledgerdomain.PaymentMethodTransfer],
	}
	for _, v := range sums {
		snap.Total += v
	}
	return snap
}

func compare(register, expected ledgerdomain.RegisterSnapshot) []Drift {
	pairs := []Drift{
		{Balance: "total", Register: register.Total, Expected: expected.Total},
		{Balance: string(ledgerdomain.PaymentMethodCash), Register: register.Cash, Expected: expected.Cash},
		{Balance: string(ledgerdomain.PaymentMethodCard), Register: register.Card, Expected: expected.Card},
		{Balance: string(ledgerdomain.PaymentMethodTransfer), Register: register.Transfer, Expected: expected.Transfer},
	}
	var drift []Drift
	for _, p := range pairs {
		if p.Amount() != 0 {
			drift = append(drift, p)
		}
	}
	return drift
}
