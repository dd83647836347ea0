package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultBatchSize = 200

var dailyNumber = regexp.MustCompile(`^([A-Z]+)-(\d{8})-(\d+)$`)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Ledger    ledgerdomain.Service
	Numbering numberingdomain.Service
	AuditSvc  auditdomain.Service
	Authz     authorization.Service
	Clock     clock.Clock `optional:"true"`
}

type Importer struct {
	db        *gorm.DB
	log       *zap.Logger
	ledger    ledgerdomain.Service
	numbering numberingdomain.Service
	auditSvc  auditdomain.Service
	authz     authorization.Service
	clock     clock.Clock
	batchSize int
}

func NewImporter(p Params) *Importer {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Importer{
		db:        p.DB,
		log:       p.Log.Named("legacy.importer"),
		ledger:    p.Ledger,
		numbering: p.Numbering,
		auditSvc:  p.AuditSvc,
		authz:     p.Authz,
		clock:     clk,
		batchSize: defaultBatchSize,
	}
}

// Report summarises one import run.
type Report struct {
	CorrelationID string
	Imported      int
	// Skipped counts rows whose ref was already in the ledger.
	Skipped  int
	Warnings []error
	Register ledgerdomain.RegisterSnapshot
}

// RowError identifies the row that stopped the run.
type RowError struct {
	EntryID  uint64
	Position int64
	Err      error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("legacy row %d (position %d): %v", e.EntryID, e.Position, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Stage appends raw legacy transactions to legacy_register_entries after
// the rows already staged, preserving the given order.
func (i *Importer) Stage(ctx context.Context, items []json.RawMessage) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var staged int
	err := db.Atomic(ctx, i.db, func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&Entry{}).Select("COALESCE(MAX(position), 0)").Scan(&last).Error; err != nil {
			return db.WrapPersistence(err)
		}
		now := i.clock.Now().UTC()
		rows := make([]Entry, 0, len(items))
		for idx, item := range items {
			if !json.Valid(item) {
				return fmt.Errorf("%w: item %d is not valid json", ErrInvalidPayload, idx)
			}
			rows = append(rows, Entry{
				Position:  last + int64(idx) + 1,
				Payload:   datatypes.JSON(item),
				CreatedAt: now,
			})
		}
		if err := tx.CreateInBatches(rows, i.batchSize).Error; err != nil {
			return db.WrapPersistence(err)
		}
		staged = len(rows)
		return nil
	})
	return staged, err
}

// Run imports every unmigrated row in position order. Each row commits on
// its own so a failure leaves earlier rows migrated; re-running continues
// from the failed row. The run stops at the first row that cannot be
// imported because later balances depend on it.
func (i *Importer) Run(ctx context.Context) (*Report, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidActor
	}
	if err := i.authz.Authorize(ctx, actor, authorization.ObjectLedger, authorization.ActionLedgerMigrate); err != nil {
		return nil, err
	}

	ctx, correlationID := auditcontext.EnsureCorrelationID(ctx)
	report := &Report{CorrelationID: correlationID}
	log := i.log.With(zap.String("correlation_id", correlationID))
	log.Info("legacy import started")

	highest := map[string]int64{}
	for {
		batch, err := i.pending(ctx)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}
		for _, row := range batch {
			res, err := i.importRow(ctx, actor, row)
			if err != nil {
				log.Error("legacy row failed",
					zap.Uint64("entry_id", row.ID),
					zap.Int64("position", row.Position),
					zap.Error(err),
				)
				return report, &RowError{EntryID: row.ID, Position: row.Position, Err: err}
			}
			if res.auditErr != nil {
				report.Warnings = append(report.Warnings, res.auditErr)
			}
			if res.skipped {
				report.Skipped++
			} else {
				report.Imported++
			}
			trackHighest(highest, res.txn.Number)
		}
	}

	if err := i.syncCounters(ctx, highest); err != nil {
		return report, err
	}

	register, err := i.ledger.Snapshot(ctx, i.db.WithContext(ctx))
	if err != nil {
		return report, err
	}
	report.Register = register

	log.Info("legacy import finished",
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int64("register_total", register.Total),
	)
	return report, nil
}

// pending returns the next batch of unmigrated rows in position order.
// Every row handed out is either marked migrated or stops the run.
func (i *Importer) pending(ctx context.Context) ([]Entry, error) {
	var rows []Entry
	err := i.db.WithContext(ctx).
		Where("migrated_at IS NULL").
		Order("position ASC").
		Order("id ASC").
		Limit(i.batchSize).
		Find(&rows).Error
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	return rows, nil
}

type rowResult struct {
	txn      *ledgerdomain.Transaction
	skipped  bool
	auditErr error
}

func (i *Importer) importRow(ctx context.Context, actor auditcontext.Actor, row Entry) (rowResult, error) {
	entry, err := row.Decode()
	if err != nil {
		return rowResult{}, err
	}

	var res rowResult
	err = i.numbering.Retry(ctx, func() error {
		res = rowResult{}
		return db.Atomic(ctx, i.db, func(tx *gorm.DB) error {
			txn, err := i.ledger.ImportLegacy(ctx, tx, entry)
			switch {
			case errors.Is(err, ledgerdomain.ErrLegacyAlreadyImported):
				res.skipped = true
			case err != nil:
				return err
			}
			res.txn = txn

			if err := markMigrated(ctx, tx, row.ID, txn.ID, i.clock.Now().UTC()); err != nil {
				return err
			}
			if res.skipped {
				return nil
			}

			res.auditErr = i.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionMigrate,
				EntityType:   auditdomain.EntityTransaction,
				EntityID:     txn.ID.String(),
				EntityNumber: txn.Number,
				Actor:        actor,
				After:        txn,
				Description:  fmt.Sprintf("imported legacy entry %s at position %d", entry.Ref, row.Position),
			})
			return nil
		})
	})
	if err != nil {
		return rowResult{}, err
	}
	i.auditSvc.Report(ctx, res.auditErr)
	return res, nil
}

func markMigrated(ctx context.Context, tx *gorm.DB, entryID uint64, txnID snowflake.ID, now time.Time) error {
	res := tx.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND migrated_at IS NULL", entryID).
		Updates(map[string]any{
			"migrated_at":           now,
			"ledger_transaction_id": txnID,
		})
	if res.Error != nil {
		return db.WrapPersistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return ledgerdomain.ErrInvalidStateTransition
	}
	return nil
}

// syncCounters moves each day's transaction counter past the highest
// imported number so new allocations do not collide with history.
func (i *Importer) syncCounters(ctx context.Context, highest map[string]int64) error {
	if len(highest) == 0 {
		return nil
	}
	return db.Atomic(ctx, i.db, func(tx *gorm.DB) error {
		for period, value := range highest {
			seq := numberingdomain.Sequence{
				Type:   numberingdomain.DocumentTypeTransaction,
				Prefix: numberingdomain.PrefixTransaction,
				Period: period,
			}
			if err := i.numbering.Raise(ctx, tx, seq, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func trackHighest(highest map[string]int64, number string) {
	m := dailyNumber.FindStringSubmatch(number)
	if m == nil || m[1] != numberingdomain.PrefixTransaction {
		return
	}
	value, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return
	}
	if value > highest[m[2]] {
		highest[m[2]] = value
	}
}
