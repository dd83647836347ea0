package domain

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTotals(t *testing.T) {
	items := []LineItemInput{
		{Description: "Flight", Quantity: 2, UnitPrice: 400000},
		{Description: "Hotel", Quantity: 3, UnitPrice: 100000},
	}

	totals, err := ComputeTotals(items, 100000, decimal.RequireFromString("0.11"))
	require.NoError(t, err)
	assert.Equal(t, Totals{Subtotal: 1100000, Discount: 100000, TaxAmount: 110000, Total: 1110000}, totals)

	totals, err = ComputeTotals(items[:1], 0, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(800000), totals.Total)
}

func TestComputeTotalsRejects(t *testing.T) {
	good := []LineItemInput{{Description: "Visa", Quantity: 1, UnitPrice: 500}}
	cases := []struct {
		name     string
		items    []LineItemInput
		discount int64
		rate     string
		want     error
	}{
		{name: "no items", rate: "0", want: ErrInvalidLineItems},
		{name: "blank description", items: []LineItemInput{{Description: " ", Quantity: 1, UnitPrice: 5}}, rate: "0", want: ErrInvalidLineItems},
		{name: "zero quantity", items: []LineItemInput{{Description: "x", Quantity: 0, UnitPrice: 5}}, rate: "0", want: ErrInvalidLineItems},
		{name: "negative price", items: []LineItemInput{{Description: "x", Quantity: 1, UnitPrice: -5}}, rate: "0", want: ErrInvalidLineItems},
		{name: "negative rate", items: good, rate: "-0.1", want: ErrInvalidTaxRate},
		{name: "full rate", items: good, rate: "1", want: ErrInvalidTaxRate},
		{name: "discount above subtotal", items: good, discount: 501, rate: "0", want: ErrInvalidDiscount},
		{name: "negative discount", items: good, discount: -1, rate: "0", want: ErrInvalidDiscount},
		{name: "zero total", items: good, discount: 500, rate: "0", want: ErrInvalidTotal},
		{name: "line overflow", items: []LineItemInput{{Description: "x", Quantity: 2, UnitPrice: math.MaxInt64/2 + 1}}, rate: "0", want: ErrInvalidLineItems},
		{name: "subtotal overflow", items: []LineItemInput{
			{Description: "x", Quantity: 1, UnitPrice: math.MaxInt64/2 + 1},
			{Description: "y", Quantity: 1, UnitPrice: math.MaxInt64/2 + 1},
		}, rate: "0", want: ErrInvalidLineItems},
		{name: "taxed total overflow", items: []LineItemInput{{Description: "x", Quantity: 1, UnitPrice: math.MaxInt64 - 10}}, rate: "0.5", want: ErrInvalidTotal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeTotals(tc.items, tc.discount, decimal.RequireFromString(tc.rate))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	inv := &Invoice{Total: 1000, Status: InvoiceStatusDraft}
	inv.Derive()
	assert.Equal(t, InvoiceStatusDraft, inv.Status)
	assert.Equal(t, int64(1000), inv.RemainingAmount)

	inv.Payments = []Payment{{ID: 1, Amount: 600}}
	inv.Derive()
	assert.Equal(t, InvoiceStatusPartial, inv.Status)

	inv.Payments = append(inv.Payments, Payment{ID: 2, Amount: 400})
	inv.Derive()
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
	assert.Equal(t, int64(0), inv.RemainingAmount)

	inv.Payments[1].Refunded = true
	inv.Derive()
	assert.Equal(t, InvoiceStatusPartial, inv.Status)
	assert.Equal(t, int64(600), inv.PaidAmount)

	inv.Status = InvoiceStatusCancelled
	inv.Payments[0].Refunded = true
	inv.Derive()
	assert.Equal(t, InvoiceStatusCancelled, inv.Status)
	assert.Equal(t, int64(0), inv.PaidAmount)
}
