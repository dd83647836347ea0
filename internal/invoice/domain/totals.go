package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agencyledger/internal/money"
)

// Totals is the priced form of a set of line items.
type Totals struct {
	Subtotal  int64
	Discount  int64
	TaxAmount int64
	Total     int64
}

// ComputeTotals prices line items. Tax applies to the subtotal after the
// discount.
func ComputeTotals(items []LineItemInput, discount int64, rate decimal.Decimal) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, ErrInvalidLineItems
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Totals{}, ErrInvalidTaxRate
	}
	var subtotal int64
	for _, item := range items {
		if strings.TrimSpace(item.Description) == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return Totals{}, ErrInvalidLineItems
		}
		if item.UnitPrice > math.MaxInt64/item.Quantity {
			return Totals{}, ErrInvalidLineItems
		}
		line := item.Quantity * item.UnitPrice
		if subtotal > math.MaxInt64-line {
			return Totals{}, ErrInvalidLineItems
		}
		subtotal += line
	}
	if discount < 0 || discount > subtotal {
		return Totals{}, ErrInvalidDiscount
	}
	taxable := subtotal - discount
	tax := money.ApplyRate(taxable, rate)
	if tax > math.MaxInt64-taxable {
		return Totals{}, ErrInvalidTotal
	}
	total := taxable + tax
	if total <= 0 {
		return Totals{}, ErrInvalidTotal
	}
	return Totals{Subtotal: subtotal, Discount: discount, TaxAmount: tax, Total: total}, nil
}
