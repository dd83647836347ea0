// Package document renders printable receipts and invoices from the
// snapshots stored on each document.
package document

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	appconfig "github.com/smallbiznis/agencyledger/internal/config"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"go.uber.org/fx"
)

const dateLayout = "02 Jan 2006"

type Renderer interface {
	Receipt(ctx context.Context, r *receiptdomain.Receipt) ([]byte, error)
	Invoice(ctx context.Context, inv *invoicedomain.Invoice) ([]byte, error)
}

type Params struct {
	fx.In

	Config appconfig.Config `optional:"true"`
}

type PDFRenderer struct {
	loc *time.Location
}

func NewRenderer(p Params) Renderer {
	return &PDFRenderer{loc: p.Config.Location()}
}

var (
	small = props.Text{Size: 9}
	right = props.Text{Size: 9, Align: align.Right}
	bold  = props.Text{Size: 9, Style: fontstyle.Bold}
	total = props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}
)

func (p *PDFRenderer) Receipt(_ context.Context, r *receiptdomain.Receipt) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("render receipt: nil receipt")
	}
	m := newDocument()

	m.AddRow(14, text.NewCol(12, "Receipt", props.Text{Size: 20, Style: fontstyle.Bold}))
	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+r.Number, props.Text{Top: 0}),
			text.New("Date: "+p.date(r.CreatedAt), props.Text{Top: 4}),
			text.New("Status: "+string(r.Status), props.Text{Top: 8}),
		),
		col.New(6),
	)
	m.AddRow(30, parties(r.Company, r.Customer)...)

	m.AddRow(10,
		text.NewCol(6, "Description", bold),
		text.NewCol(3, "Payment method", bold),
		text.NewCol(3, "Amount", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	m.AddRow(12,
		text.NewCol(6, r.Description, small),
		text.NewCol(3, string(r.PaymentMethod), small),
		text.NewCol(3, money.Format(r.Amount), right),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Amount paid", bold),
		text.NewCol(2, money.Format(r.Amount), total),
	)
	if r.CancelledAt != nil {
		m.AddRow(10, text.NewCol(12, "Cancelled on "+p.date(*r.CancelledAt), props.Text{Size: 11, Style: fontstyle.Bold}))
	}

	return generate(m)
}

func (p *PDFRenderer) Invoice(_ context.Context, inv *invoicedomain.Invoice) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("render invoice: nil invoice")
	}
	m := newDocument()

	title := "Invoice"
	if inv.InvoiceType == appconfig.InvoiceTypeProforma {
		title = "Proforma Invoice"
	}
	m.AddRow(14, text.NewCol(12, title, props.Text{Size: 20, Style: fontstyle.Bold}))
	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+inv.Number, props.Text{Top: 0}),
			text.New("Date of issue: "+p.date(inv.CreatedAt), props.Text{Top: 4}),
			text.New("Status: "+string(inv.Status), props.Text{Top: 8}),
		),
		col.New(6),
	)
	m.AddRow(30, parties(inv.Company, inv.Customer)...)

	m.AddRow(10,
		text.NewCol(6, "Description", bold),
		text.NewCol(2, "Qty", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	for _, item := range inv.LineItems {
		m.AddRow(10,
			text.NewCol(6, item.Description, small),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), right),
			text.NewCol(2, money.Format(item.UnitPrice), right),
			text.NewCol(2, money.Format(item.Amount), right),
		)
	}

	summary := []struct {
		label string
		value string
	}{
		{"Subtotal", money.Format(inv.Subtotal)},
		{"Discount", money.Format(inv.Discount)},
		{"Tax (" + inv.TaxRate.Shift(2).String() + "%)", money.Format(inv.TaxAmount)},
		{"Total", money.Format(inv.Total)},
		{"Paid", money.Format(inv.PaidAmount)},
	}
	for _, line := range summary {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, line.label, small),
			text.NewCol(2, line.value, right),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Amount due", bold),
		text.NewCol(2, money.Format(inv.Total-inv.PaidAmount), total),
	)

	if len(inv.Payments) > 0 {
		m.AddRow(12, text.NewCol(12, "Payments", props.Text{Size: 11, Style: fontstyle.Bold, Top: 4}))
		for _, pay := range inv.Payments {
			note := ""
			if pay.Refunded {
				note = "refunded"
			}
			m.AddRow(8,
				text.NewCol(4, p.date(pay.CreatedAt), small),
				text.NewCol(3, string(pay.PaymentMethod), small),
				text.NewCol(2, note, small),
				text.NewCol(3, money.Format(pay.Amount), right),
			)
		}
	}
	if inv.Notes != "" {
		m.AddRow(20, text.NewCol(12, inv.Notes, props.Text{Size: 9, Top: 4}))
	}

	return generate(m)
}

func (p *PDFRenderer) date(t time.Time) string {
	return t.In(p.loc).Format(dateLayout)
}

func newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func parties(company snapshot.Company, customer snapshot.Customer) []core.Col {
	from := col.New(6).Add(
		text.New(company.Name, props.Text{Style: fontstyle.Bold}),
		text.New(company.Address, props.Text{Top: 5}),
		text.New(company.Phone, props.Text{Top: 10}),
	)
	if company.TaxID != "" {
		from.Add(text.New("Tax ID: "+company.TaxID, props.Text{Top: 15}))
	}
	to := col.New(6).Add(
		text.New("Billed to", props.Text{Style: fontstyle.Bold}),
		text.New(customer.Name, props.Text{Top: 5}),
		text.New(customer.Phone, props.Text{Top: 10}),
	)
	return []core.Col{from, to}
}

func generate(m core.Maroto) ([]byte, error) {
	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
