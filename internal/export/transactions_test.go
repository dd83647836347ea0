package export_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/export"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"github.com/smallbiznis/agencyledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newExporter(s *fixture.Stack) *export.Exporter {
	return export.NewExporter(export.Params{DB: s.DB, Log: s.Log, Repo: s.LedgerRepo, Authz: s.Authz})
}

func day() export.Request {
	return export.Request{From: fixture.Now.Truncate(24 * time.Hour), To: fixture.Now.Truncate(24 * time.Hour).Add(24 * time.Hour)}
}

func readRows(t *testing.T, raw []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Ledger"}, f.GetSheetList())
	rows, err := f.GetRows("Ledger")
	require.NoError(t, err)
	return rows
}

func TestExportTransactions(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Manager())

	income, err := s.Ledger.CreateManualTransaction(ctx, ledgerdomain.ManualTransactionRequest{
		Kind: ledgerdomain.KindIncome, Amount: 150050, PaymentMethod: ledgerdomain.PaymentMethodCash, Description: "float", Category: "Opening",
	})
	require.NoError(t, err)
	s.Clock.Advance(time.Minute)
	wrong, err := s.Ledger.CreateManualTransaction(ctx, ledgerdomain.ManualTransactionRequest{
		Kind: ledgerdomain.KindExpense, Amount: 2000, PaymentMethod: ledgerdomain.PaymentMethodCash, Description: "typo", Category: "Office",
	})
	require.NoError(t, err)
	s.Clock.Advance(time.Minute)
	_, err = s.Ledger.ReverseTransaction(ctx, ledgerdomain.ReverseRequest{TransactionID: wrong.Transaction.ID, Reason: "entered twice"})
	require.NoError(t, err)

	raw, err := newExporter(s).Transactions(ctx, day())
	require.NoError(t, err)
	rows := readRows(t, raw)
	require.Len(t, rows, 2)
	assert.Equal(t, "Number", rows[0][0])
	assert.Equal(t, income.Transaction.Number, rows[1][0])
	assert.Equal(t, "2026-10-15 09:00", rows[1][1])
	assert.Equal(t, "income", rows[1][2])

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	amount, err := f.GetCellValue("Ledger", "D2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "1500.5", amount)
	_ = f.Close()

	req := day()
	req.IncludeInactive = true
	raw, err = newExporter(s).Transactions(ctx, req)
	require.NoError(t, err)
	assert.Len(t, readRows(t, raw), 4)
}

func TestExportRules(t *testing.T) {
	s := fixture.New(t)
	e := newExporter(s)

	_, err := e.Transactions(testutil.As(testutil.Employee()), day())
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	ctx := testutil.As(testutil.Manager())
	_, err = e.Transactions(ctx, export.Request{From: fixture.Now, To: fixture.Now})
	assert.ErrorIs(t, err, export.ErrInvalidRange)
	_, err = e.Transactions(ctx, export.Request{From: fixture.Now, To: fixture.Now.Add(400 * 24 * time.Hour)})
	assert.ErrorIs(t, err, export.ErrInvalidRange)

	raw, err := e.Transactions(ctx, day())
	require.NoError(t, err)
	assert.Len(t, readRows(t, raw), 1)
}
