package service_test

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"github.com/smallbiznis/agencyledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createInvoice(t *testing.T, s *fixture.Stack, customerID, appointmentID *snowflake.ID, total int64) *invoicedomain.Invoice {
	t.Helper()
	zero := decimal.Zero
	res, err := s.Invoices.CreateInvoice(testutil.As(testutil.Employee()), invoicedomain.CreateInvoiceRequest{
		Customer:      snapshot.Customer{CustomerID: customerID, Name: "Ayu"},
		AppointmentID: appointmentID,
		LineItems:     []invoicedomain.LineItemInput{{Description: "Umrah package", Quantity: 1, UnitPrice: total}},
		TaxRate:       &zero,
	})
	require.NoError(t, err)
	return res.Invoice
}

func TestCreateInvoice(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())

	rate := decimal.RequireFromString("0.11")
	res, err := s.Invoices.CreateInvoice(ctx, invoicedomain.CreateInvoiceRequest{
		Customer: snapshot.Customer{Name: "Ayu"},
		LineItems: []invoicedomain.LineItemInput{
			{Description: "Flight", Quantity: 2, UnitPrice: 400},
			{Description: "Hotel", Quantity: 1, UnitPrice: 300},
		},
		Discount: 100,
		TaxRate:  &rate,
		Notes:    " pay before departure ",
	})
	require.NoError(t, err)

	inv := res.Invoice
	assert.Equal(t, "INV1", inv.Number)
	assert.Equal(t, "standard", inv.InvoiceType)
	assert.Equal(t, int64(1100), inv.Subtotal)
	assert.Equal(t, int64(110), inv.TaxAmount)
	assert.Equal(t, int64(1110), inv.Total)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, int64(1110), inv.RemainingAmount)
	assert.Equal(t, "pay before departure", inv.Notes)
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, int64(800), inv.LineItems[0].Amount)

	// Drafts do not move money.
	assert.Equal(t, ledgerdomain.RegisterSnapshot{}, res.Register)

	proforma, err := s.Invoices.CreateInvoice(ctx, invoicedomain.CreateInvoiceRequest{
		InvoiceType: "Proforma",
		Customer:    snapshot.Customer{Name: "Ayu"},
		LineItems:   []invoicedomain.LineItemInput{{Description: "Quote", Quantity: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, "PRO1", proforma.Invoice.Number)

	_, err = s.Invoices.CreateInvoice(ctx, invoicedomain.CreateInvoiceRequest{
		InvoiceType: "credit_note",
		Customer:    snapshot.Customer{Name: "Ayu"},
		LineItems:   []invoicedomain.LineItemInput{{Description: "x", Quantity: 1, UnitPrice: 10}},
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceType)

	stored, err := s.Invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, stored.Number)
	assert.True(t, stored.TaxRate.Equal(rate))
}

func TestPaymentsAndRefunds(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	customerID := s.SeedCustomer(t, "Ayu")
	appointmentID := s.SeedAppointment(t, customerID)
	inv := createInvoice(t, s, &customerID, &appointmentID, 1000)

	first, err := s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{
		InvoiceID: inv.ID, Amount: 600, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, first.Invoice.Status)
	assert.Equal(t, int64(400), first.Invoice.RemainingAmount)
	assert.Equal(t, ledgerdomain.KindIncome, first.Transaction.Kind)
	assert.Equal(t, inv.Ref(first.Payment.ID), first.Transaction.Document())

	second, err := s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{
		InvoiceID: inv.ID, Amount: 400, PaymentMethod: ledgerdomain.PaymentMethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, second.Invoice.Status)
	assert.Equal(t, int64(0), second.Invoice.RemainingAmount)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 1000, Cash: 600, Card: 400}, second.Register)
	assert.Equal(t, int64(1000), s.LifetimeSpend(t, customerID))
	assert.Equal(t, int64(1000), s.PaidAmount(t, appointmentID))

	_, err = s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{
		InvoiceID: inv.ID, Amount: 1, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)

	refund, err := s.Invoices.RefundPayment(ctx, invoicedomain.RefundPaymentRequest{
		InvoiceID: inv.ID, PaymentID: first.Payment.ID, Reason: "customer changed dates",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, refund.Invoice.Status)
	assert.Equal(t, int64(600), refund.Invoice.RemainingAmount)
	assert.True(t, refund.Payment.Refunded)
	assert.Equal(t, ledgerdomain.KindExpense, refund.Reversal.Reversal.Kind)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 400, Card: 400}, refund.Reversal.Register)
	assert.Equal(t, int64(400), s.LifetimeSpend(t, customerID))
	assert.Equal(t, int64(400), s.PaidAmount(t, appointmentID))

	_, err = s.Invoices.RefundPayment(ctx, invoicedomain.RefundPaymentRequest{
		InvoiceID: inv.ID, PaymentID: first.Payment.ID, Reason: "again",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyRefunded)

	stored, err := s.Invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, stored.Status)
	assert.Equal(t, int64(400), stored.PaidAmount)
	s.AssertBalanced(t)
}

func TestAddPaymentValidation(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	inv := createInvoice(t, s, nil, nil, 1000)

	_, err := s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 0, PaymentMethod: ledgerdomain.PaymentMethodCash})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidAmount)

	_, err = s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 10, PaymentMethod: "cheque"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPaymentMethod)

	_, err = s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 1001, PaymentMethod: ledgerdomain.PaymentMethodCash})
	assert.ErrorIs(t, err, invoicedomain.ErrOverpayment)

	_, err = s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: s.GenID.Generate(), Amount: 10, PaymentMethod: ledgerdomain.PaymentMethodCash})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	assert.Equal(t, ledgerdomain.RegisterSnapshot{}, s.Register(t))
}

func TestRefundPaymentFromAnotherInvoice(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	a := createInvoice(t, s, nil, nil, 1000)
	b := createInvoice(t, s, nil, nil, 500)

	paid, err := s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: b.ID, Amount: 500, PaymentMethod: ledgerdomain.PaymentMethodTransfer})
	require.NoError(t, err)

	_, err = s.Invoices.RefundPayment(ctx, invoicedomain.RefundPaymentRequest{InvoiceID: a.ID, PaymentID: paid.Payment.ID, Reason: "wrong invoice"})
	assert.ErrorIs(t, err, invoicedomain.ErrPaymentNotOnInvoice)

	_, err = s.Invoices.RefundPayment(ctx, invoicedomain.RefundPaymentRequest{InvoiceID: a.ID, PaymentID: s.GenID.Generate(), Reason: "missing"})
	assert.ErrorIs(t, err, invoicedomain.ErrPaymentNotFound)

	_, err = s.Invoices.RefundPayment(ctx, invoicedomain.RefundPaymentRequest{InvoiceID: b.ID, PaymentID: paid.Payment.ID})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidReason)

	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 500, Transfer: 500}, s.Register(t))
}

func TestInvoicePaymentCannotBeReversedDirectly(t *testing.T) {
	s := fixture.New(t)
	inv := createInvoice(t, s, nil, nil, 1000)
	paid, err := s.Invoices.AddPayment(testutil.As(testutil.Employee()), invoicedomain.AddPaymentRequest{
		InvoiceID: inv.ID, Amount: 300, PaymentMethod: ledgerdomain.PaymentMethodCash,
	})
	require.NoError(t, err)

	_, err = s.Ledger.ReverseTransaction(testutil.As(testutil.Manager()), ledgerdomain.ReverseRequest{
		TransactionID: paid.Transaction.ID, Reason: "shortcut",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAutomaticOriginNotDirectlyReversible)
}

func TestCancelInvoiceRefundsOpenPayments(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	customerID := s.SeedCustomer(t, "Ayu")
	inv := createInvoice(t, s, &customerID, nil, 1000)

	p1, err := s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 300, PaymentMethod: ledgerdomain.PaymentMethodCash})
	require.NoError(t, err)
	_, err = s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 200, PaymentMethod: ledgerdomain.PaymentMethodCard})
	require.NoError(t, err)
	_, err = s.Invoices.RefundPayment(ctx, invoicedomain.RefundPaymentRequest{InvoiceID: inv.ID, PaymentID: p1.Payment.ID, Reason: "split"})
	require.NoError(t, err)

	res, err := s.Invoices.CancelInvoice(ctx, invoicedomain.CancelInvoiceRequest{InvoiceID: inv.ID, Reason: "trip called off"})
	require.NoError(t, err)

	assert.Equal(t, invoicedomain.InvoiceStatusCancelled, res.Invoice.Status)
	assert.Equal(t, int64(0), res.Invoice.PaidAmount)
	for _, p := range res.Invoice.Payments {
		assert.True(t, p.Refunded, p.ID.String())
	}
	assert.Equal(t, ledgerdomain.RegisterSnapshot{}, res.Register)
	assert.Equal(t, int64(0), s.LifetimeSpend(t, customerID))

	_, err = s.Invoices.CancelInvoice(ctx, invoicedomain.CancelInvoiceRequest{InvoiceID: inv.ID, Reason: "again"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)
	_, err = s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 10, PaymentMethod: ledgerdomain.PaymentMethodCash})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)
	s.AssertBalanced(t)
}

func TestCancelPaidInvoiceIsRejected(t *testing.T) {
	s := fixture.New(t)
	ctx := testutil.As(testutil.Employee())
	inv := createInvoice(t, s, nil, nil, 100)
	_, err := s.Invoices.AddPayment(ctx, invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 100, PaymentMethod: ledgerdomain.PaymentMethodCash})
	require.NoError(t, err)

	_, err = s.Invoices.CancelInvoice(ctx, invoicedomain.CancelInvoiceRequest{InvoiceID: inv.ID, Reason: "late"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStateTransition)
}

func TestListInvoicesByStatus(t *testing.T) {
	s := fixture.New(t)
	inv := createInvoice(t, s, nil, nil, 100)

	_, err := s.Invoices.AddPayment(testutil.As(testutil.Employee()), invoicedomain.AddPaymentRequest{InvoiceID: inv.ID, Amount: 10, PaymentMethod: ledgerdomain.PaymentMethodCash})
	require.NoError(t, err)

	_, err = s.Invoices.ListInvoices(testutil.As(testutil.Employee()), invoicedomain.ListInvoiceRequest{Status: "overdue"})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)

	list, err := s.Invoices.ListInvoices(testutil.As(testutil.Manager()), invoicedomain.ListInvoiceRequest{Status: invoicedomain.InvoiceStatusPartial})
	require.NoError(t, err)
	require.Len(t, list.Invoices, 1)
	assert.Equal(t, inv.ID, list.Invoices[0].ID)
}
