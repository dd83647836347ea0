// Package export writes ledger transactions to spreadsheets for the
// bookkeeper.
package export

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/config"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"github.com/xuri/excelize/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sheetName = "Ledger"
	batchSize = 500
	// maxRange bounds one export to roughly a year of entries.
	maxRange = 366 * 24 * time.Hour
)

var ErrInvalidRange = errors.New("invalid_export_range")

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   ledgerdomain.Repository
	Authz  authorization.Service
	Config config.Config `optional:"true"`
}

type Exporter struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  ledgerdomain.Repository
	authz authorization.Service
	loc   *time.Location
}

func NewExporter(p Params) *Exporter {
	return &Exporter{
		db:    p.DB,
		log:   p.Log.Named("export"),
		repo:  p.Repo,
		authz: p.Authz,
		loc:   p.Config.Location(),
	}
}

type Request struct {
	From time.Time
	To   time.Time
	// IncludeInactive also exports reversed originals and their reversals.
	IncludeInactive bool
}

var header = []string{
	"Number", "Date", "Kind", "Amount", "Payment Method", "Category", "Description",
	"Origin", "Document", "Balance Before", "Balance After", "Active", "Created By",
}

// Transactions renders every transaction created in [From, To) as an xlsx
// workbook, oldest first.
func (e *Exporter) Transactions(ctx context.Context, req Request) ([]byte, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidActor
	}
	if err := e.authz.Authorize(ctx, actor, authorization.ObjectTransaction, authorization.ActionTransactionExport); err != nil {
		return nil, err
	}
	if req.From.IsZero() || req.To.IsZero() || !req.From.Before(req.To) || req.To.Sub(req.From) > maxRange {
		return nil, ErrInvalidRange
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	_ = f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for c, v := range header {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		_ = f.SetCellValue(sheetName, cell, v)
	}

	row := 2
	err = e.each(ctx, req, func(txn *ledgerdomain.Transaction) error {
		values := []any{
			txn.Number,
			txn.CreatedAt.In(e.loc).Format("2006-01-02 15:04"),
			string(txn.Kind),
			money.ToDecimal(txn.Amount).InexactFloat64(),
			string(txn.PaymentMethod),
			txn.Category,
			txn.Description,
			string(txn.Origin),
			txn.OriginDocumentNumber,
			money.ToDecimal(txn.BalanceBefore).InexactFloat64(),
			money.ToDecimal(txn.BalanceAfter).InexactFloat64(),
			txn.Active,
			txn.CreatedByName,
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
		row++
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = f.SetColWidth(sheetName, "A", "A", 20)
	_ = f.SetColWidth(sheetName, "B", "B", 18)
	_ = f.SetColWidth(sheetName, "F", "G", 28)
	_ = f.SetColWidth(sheetName, "I", "I", 20)
	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(sheetName, "A1", "M1", style)
	amounts, _ := f.NewStyle(&excelize.Style{NumFmt: 4})
	_ = f.SetCellStyle(sheetName, "D2", "D"+strconv.Itoa(row), amounts)
	_ = f.SetCellStyle(sheetName, "J2", "K"+strconv.Itoa(row), amounts)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	e.log.Info("ledger exported",
		zap.String("actor_id", actor.ID),
		zap.Time("from", req.From),
		zap.Time("to", req.To),
		zap.Int("rows", row-2),
	)
	return buf.Bytes(), nil
}

func (e *Exporter) each(ctx context.Context, req Request, fn func(*ledgerdomain.Transaction) error) error {
	from, to := req.From, req.To
	filter := ledgerdomain.ListFilter{From: &from, To: &to, Limit: batchSize, Ascending: true}
	if !req.IncludeInactive {
		active := true
		filter.Active = &active
	}
	for {
		items, err := e.repo.List(ctx, e.db, filter)
		if err != nil {
			return db.WrapPersistence(err)
		}
		more := len(items) > batchSize
		if more {
			items = items[:batchSize]
		}
		for _, txn := range items {
			if err := fn(txn); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
		last := items[len(items)-1]
		filter.Cursor = &pagination.Cursor{ID: last.ID.String(), CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano)}
	}
}
