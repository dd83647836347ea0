package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	receiptrepo "github.com/smallbiznis/agencyledger/internal/receipt/repository"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"github.com/smallbiznis/agencyledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateReceipt(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	customerID := s.SeedCustomer(t, "Ayu")
	appointmentID := s.SeedAppointment(t, customerID)

	res, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer:      snapshot.Customer{CustomerID: &customerID, Name: " Ayu ", Phone: "0812"},
		Amount:        750,
		PaymentMethod: ledgerdomain.PaymentMethodCash,
		AppointmentID: &appointmentID,
		Description:   "deposit",
	})
	require.NoError(t, err)

	assert.Equal(t, "REC-20261015-001", res.Receipt.Number)
	assert.Equal(t, receiptdomain.StatusActive, res.Receipt.Status)
	assert.Equal(t, "Ayu", res.Receipt.Customer.Name)
	assert.Equal(t, "Nusantara Travel", res.Receipt.Company.Name)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 750, Cash: 750}, res.Register)

	txn := res.Transaction
	assert.Equal(t, ledgerdomain.KindIncome, txn.Kind)
	assert.Equal(t, int64(750), txn.Amount)
	assert.Equal(t, ledgerdomain.OriginAutomatic, txn.Origin)
	assert.Equal(t, res.Receipt.Ref(), txn.Document())
	assert.Equal(t, txn.ID, res.Receipt.TransactionID)

	var count int64
	require.NoError(t, s.DB.Model(&ledgerdomain.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, int64(750), s.LifetimeSpend(t, customerID))
	assert.Equal(t, int64(750), s.PaidAmount(t, appointmentID))
	s.AssertBalanced(t)
}

func TestCreateReceiptValidation(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())

	_, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Ayu"}, Amount: 0, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "  "}, Amount: 10, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, receiptdomain.ErrInvalidCustomer)

	missing := s.GenID.Generate()
	_, err = s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Ayu"}, Amount: 10, PaymentMethod: ledgerdomain.PaymentMethodCash,
		AppointmentID: &missing,
	})
	require.Error(t, err)

	// Nothing from the failed attempts reached the register.
	assert.Equal(t, ledgerdomain.RegisterSnapshot{}, s.Register(t))
}

func TestCancelReceiptReversesEverything(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	customerID := s.SeedCustomer(t, "Ayu")
	appointmentID := s.SeedAppointment(t, customerID)

	created, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer:      snapshot.Customer{CustomerID: &customerID, Name: "Ayu"},
		Amount:        750,
		PaymentMethod: ledgerdomain.PaymentMethodCash,
		AppointmentID: &appointmentID,
	})
	require.NoError(t, err)

	res, err := s.Receipts.CancelReceipt(ctx, receiptdomain.CancelReceiptRequest{
		ReceiptID: created.Receipt.ID,
		Reason:    "trip cancelled",
	})
	require.NoError(t, err)

	assert.Equal(t, receiptdomain.StatusCancelled, res.Receipt.Status)
	assert.Equal(t, "trip cancelled", *res.Receipt.CancelReason)
	assert.False(t, res.Reversal.Original.Active)
	assert.Equal(t, ledgerdomain.KindExpense, res.Reversal.Reversal.Kind)
	assert.Equal(t, int64(750), res.Reversal.Reversal.Amount)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{}, res.Reversal.Register)

	stored, err := s.Receipts.GetReceipt(ctx, created.Receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, receiptdomain.StatusCancelled, stored.Status)

	assert.Equal(t, int64(0), s.LifetimeSpend(t, customerID))
	assert.Equal(t, int64(0), s.PaidAmount(t, appointmentID))

	_, err = s.Receipts.CancelReceipt(ctx, receiptdomain.CancelReceiptRequest{ReceiptID: created.Receipt.ID, Reason: "again"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)

	_, err = s.Receipts.CancelReceipt(ctx, receiptdomain.CancelReceiptRequest{ReceiptID: created.Receipt.ID})
	assert.ErrorIs(t, err, receiptdomain.ErrInvalidReason)

	_, err = s.Receipts.CancelReceipt(ctx, receiptdomain.CancelReceiptRequest{ReceiptID: s.GenID.Generate(), Reason: "x"})
	assert.ErrorIs(t, err, receiptdomain.ErrReceiptNotFound)
	s.AssertBalanced(t)
}

func TestCancelReceiptAfterCashWasSpent(t *testing.T) {
	s := fixture.New(t)
	employee := testutil.As(testutil.Employee())

	created, err := s.Receipts.CreateReceipt(employee, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Ayu"}, Amount: 750, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	_, err = s.Ledger.CreateManualTransaction(testutil.As(testutil.Manager()), ledgerdomain.ManualTransactionRequest{
		Kind: ledgerdomain.KindExpense, Amount: 500, PaymentMethod: ledgerdomain.PaymentMethodCash, Description: "fuel",
	})
	require.NoError(t, err)

	_, err = s.Receipts.CancelReceipt(employee, receiptdomain.CancelReceiptRequest{ReceiptID: created.Receipt.ID, Reason: "refund"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	stored, err := s.Receipts.GetReceipt(employee, created.Receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, receiptdomain.StatusActive, stored.Status)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 250, Cash: 250}, s.Register(t))
}

func TestConcurrentReceiptsGetSequentialNumbers(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())

	const n = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
				Customer: snapshot.Customer{Name: "Walk-in"}, Amount: 100, PaymentMethod: ledgerdomain.PaymentMethodCard,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, res.Receipt.Number)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Strings(numbers)
	assert.Equal(t, []string{
		"REC-20261015-001", "REC-20261015-002", "REC-20261015-003",
		"REC-20261015-004", "REC-20261015-005", "REC-20261015-006",
	}, numbers)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 600, Card: 600}, s.Register(t))
	s.AssertBalanced(t)
}

// racingRepo writes a competing receipt carrying the allocated number just
// before the first insert, as a concurrent writer would.
type racingRepo struct {
	receiptdomain.Repository
	inserts int
}

func (r *racingRepo) Insert(ctx context.Context, db *gorm.DB, receipt *receiptdomain.Receipt) error {
	r.inserts++
	if r.inserts == 1 {
		clash := *receipt
		clash.ID = receipt.ID + 1
		clash.TransactionID = receipt.TransactionID + 1
		if err := r.Repository.Insert(ctx, db, &clash); err != nil {
			return err
		}
	}
	return r.Repository.Insert(ctx, db, receipt)
}

func TestReceiptNumberCollisionRetriesWholeOperation(t *testing.T) {
	repo := &racingRepo{Repository: receiptrepo.Provide()}
	s := fixture.New(t, fixture.WithReceiptRepository(repo))
	ctx := testutil.As(testutil.Employee())
	customerID := s.SeedCustomer(t, "Ayu")

	res, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer:      snapshot.Customer{CustomerID: &customerID, Name: "Ayu"},
		Amount:        100,
		PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.inserts)
	assert.Equal(t, "REC-20261015-001", res.Receipt.Number)

	count := func(table string) int64 {
		var n int64
		require.NoError(t, s.DB.Table(table).Count(&n).Error)
		return n
	}
	assert.Equal(t, int64(1), count("receipts"))
	assert.Equal(t, int64(1), count("ledger_transactions"))
	assert.Equal(t, int64(1), count("audit_logs"))
	assert.Equal(t, int64(100), s.LifetimeSpend(t, customerID))
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 100, Cash: 100}, s.Register(t))
	s.AssertBalanced(t)

	next, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Walk-in"}, Amount: 50, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, "REC-20261015-002", next.Receipt.Number)
}

func TestConvertReceiptToInvoice(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	customerID := s.SeedCustomer(t, "Ayu")

	created, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer:      snapshot.Customer{CustomerID: &customerID, Name: "Ayu"},
		Amount:        600,
		PaymentMethod: ledgerdomain.PaymentMethodTransfer,
	})
	require.NoError(t, err)

	zero := decimal.Zero
	res, err := s.Receipts.ConvertToInvoice(ctx, receiptdomain.ConvertRequest{
		ReceiptID: created.Receipt.ID,
		LineItems: []invoicedomain.LineItemInput{{Description: "Bali package", Quantity: 1, UnitPrice: 1000}},
		TaxRate:   &zero,
	})
	require.NoError(t, err)

	assert.Equal(t, receiptdomain.StatusConverted, res.Receipt.Status)
	require.NotNil(t, res.Receipt.ConvertedInvoiceID)
	assert.Equal(t, res.Invoice.ID, *res.Receipt.ConvertedInvoiceID)

	inv := res.Invoice
	assert.Equal(t, "INV1", inv.Number)
	assert.Equal(t, int64(1000), inv.Total)
	assert.Equal(t, int64(600), inv.PaidAmount)
	assert.Equal(t, int64(400), inv.RemainingAmount)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, inv.Status)
	require.Len(t, inv.Payments, 1)
	assert.Equal(t, created.Transaction.ID, inv.Payments[0].TransactionID)

	// The money stays where it was; only the owning document changes.
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 600, Transfer: 600}, res.Register)
	txn, err := s.Ledger.GetTransaction(ctx, created.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, txn.Active)
	assert.Equal(t, inv.Ref(inv.Payments[0].ID), txn.Document())
	assert.Equal(t, int64(600), s.LifetimeSpend(t, customerID))

	var converts int64
	require.NoError(t, s.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionConvert).Count(&converts).Error)
	assert.Equal(t, int64(1), converts)

	_, err = s.Receipts.ConvertToInvoice(ctx, receiptdomain.ConvertRequest{ReceiptID: created.Receipt.ID})
	assert.ErrorIs(t, err, receiptdomain.ErrAlreadyConverted)

	_, err = s.Receipts.CancelReceipt(ctx, receiptdomain.CancelReceiptRequest{ReceiptID: created.Receipt.ID, Reason: "late"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)
	s.AssertBalanced(t)
}

func TestConvertRejectsInvoiceSmallerThanReceipt(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())

	created, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Ayu"}, Amount: 600, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)

	zero := decimal.Zero
	_, err = s.Receipts.ConvertToInvoice(ctx, receiptdomain.ConvertRequest{
		ReceiptID: created.Receipt.ID,
		LineItems: []invoicedomain.LineItemInput{{Description: "Visa", Quantity: 1, UnitPrice: 500}},
		TaxRate:   &zero,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTotal)

	stored, err := s.Receipts.GetReceipt(ctx, created.Receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, receiptdomain.StatusActive, stored.Status)
}

func TestCancelledReceiptCannotBeConverted(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())

	created, err := s.Receipts.CreateReceipt(ctx, receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Ayu"}, Amount: 600, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	_, err = s.Receipts.CancelReceipt(ctx, receiptdomain.CancelReceiptRequest{ReceiptID: created.Receipt.ID, Reason: "dup"})
	require.NoError(t, err)

	_, err = s.Receipts.ConvertToInvoice(ctx, receiptdomain.ConvertRequest{ReceiptID: created.Receipt.ID})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)
}

func TestReceiptRequiresActor(t *testing.T) {
	s := fixture.New(t)

	_, err := s.Receipts.CreateReceipt(context.Background(), receiptdomain.CreateReceiptRequest{
		Customer: snapshot.Customer{Name: "Ayu"}, Amount: 1, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidActor)

	_, err = s.Receipts.ListReceipts(testutil.As(testutil.Employee()), receiptdomain.ListReceiptRequest{Status: "lost"})
	assert.ErrorIs(t, err, receiptdomain.ErrInvalidStatus)
}
