package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	appointmentdomain "github.com/smallbiznis/agencyledger/internal/appointment/domain"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/clock"
	"github.com/smallbiznis/agencyledger/internal/config"
	customerdomain "github.com/smallbiznis/agencyledger/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	"github.com/smallbiznis/agencyledger/internal/reversal"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const entityInvoice = "invoice"

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         invoicedomain.Repository
	Ledger       ledgerdomain.Service
	Reversal     reversal.Engine
	Numbering    numberingdomain.Service
	AuditSvc     auditdomain.Service
	Authz        authorization.Service
	Settings     config.SettingsProvider
	Customers    customerdomain.Directory
	Appointments appointmentdomain.Registry
	Clock        clock.Clock `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	repo         invoicedomain.Repository
	ledger       ledgerdomain.Service
	reversal     reversal.Engine
	numbering    numberingdomain.Service
	auditSvc     auditdomain.Service
	authz        authorization.Service
	settings     config.SettingsProvider
	customers    customerdomain.Directory
	appointments appointmentdomain.Registry
	clock        clock.Clock
}

func NewService(p ServiceParam) invoicedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:        p.GenID,
		repo:         p.Repo,
		ledger:       p.Ledger,
		reversal:     p.Reversal,
		numbering:    p.Numbering,
		auditSvc:     p.AuditSvc,
		authz:        p.Authz,
		settings:     p.Settings,
		customers:    p.Customers,
		appointments: p.Appointments,
		clock:        clk,
	}
}

func (s *Service) CreateInvoice(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.Result, error) {
	actor, err := s.authorize(ctx, authorization.ActionInvoiceCreate)
	if err != nil {
		return nil, err
	}
	customer := req.Customer.Normalize()
	if !customer.Valid() {
		return nil, invoicedomain.ErrInvalidCustomer
	}
	settings := s.settings.Settings()
	invoiceType, prefix, err := resolveType(settings, req.InvoiceType)
	if err != nil {
		return nil, err
	}
	rate := settings.TaxRate()
	if req.TaxRate != nil {
		rate = *req.TaxRate
	}
	totals, err := invoicedomain.ComputeTotals(req.LineItems, req.Discount, rate)
	if err != nil {
		return nil, err
	}

	var (
		result   *invoicedomain.Result
		auditErr error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			number, err := s.numbering.NextRunning(ctx, tx, numberingdomain.DocumentTypeInvoice, prefix)
			if err != nil {
				return err
			}
			invoice := s.build(number, invoiceType, customer, snapshot.CompanyFrom(settings.Company), req.LineItems, rate, totals, actor)
			invoice.AppointmentID = nonZero(req.AppointmentID)
			invoice.Notes = strings.TrimSpace(req.Notes)
			invoice.Derive()
			if err := s.repo.Insert(ctx, tx, invoice); err != nil {
				return numberingdomain.CheckInsert(err)
			}

			register, err := s.ledger.Snapshot(ctx, tx)
			if err != nil {
				return err
			}
			result = &invoicedomain.Result{Invoice: invoice, Register: register}

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionCreate,
				EntityType:   auditdomain.EntityInvoice,
				EntityID:     invoice.ID.String(),
				EntityNumber: invoice.Number,
				Actor:        actor,
				After:        invoice,
				Description:  fmt.Sprintf("%s invoice for %s, total %d", invoice.InvoiceType, customer.Name, invoice.Total),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.auditSvc.Report(ctx, auditErr)
	return result, auditErr
}

func (s *Service) CreateFromReceipt(ctx context.Context, tx *gorm.DB, req invoicedomain.FromReceiptRequest) (*invoicedomain.Invoice, *invoicedomain.Payment, error) {
	actor := req.Actor.Normalize()
	if !actor.Valid() {
		return nil, nil, ledgerdomain.ErrInvalidActor
	}
	if req.Amount <= 0 || req.TransactionID == 0 {
		return nil, nil, invoicedomain.ErrInvalidAmount
	}
	customer := req.Customer.Normalize()
	if !customer.Valid() {
		return nil, nil, invoicedomain.ErrInvalidCustomer
	}
	settings := s.settings.Settings()
	invoiceType, prefix, err := resolveType(settings, req.InvoiceType)
	if err != nil {
		return nil, nil, err
	}
	rate := settings.TaxRate()
	if req.TaxRate != nil {
		rate = *req.TaxRate
	}
	items := req.LineItems
	if len(items) == 0 {
		items = []invoicedomain.LineItemInput{{
			Description: fmt.Sprintf("Receipt %s", req.ReceiptNumber),
			Quantity:    1,
			UnitPrice:   req.Amount,
		}}
	}
	totals, err := invoicedomain.ComputeTotals(items, req.Discount, rate)
	if err != nil {
		return nil, nil, err
	}
	if totals.Total < req.Amount {
		return nil, nil, invoicedomain.ErrInvalidTotal
	}

	number, err := s.numbering.NextRunning(ctx, tx, numberingdomain.DocumentTypeInvoice, prefix)
	if err != nil {
		return nil, nil, err
	}
	invoice := s.build(number, invoiceType, customer, snapshot.CompanyFrom(settings.Company), items, rate, totals, actor)
	invoice.AppointmentID = nonZero(req.AppointmentID)
	receiptID := req.ReceiptID
	invoice.SourceReceiptID = &receiptID
	invoice.Payments = []invoicedomain.Payment{{
		ID:            s.genID.Generate(),
		InvoiceID:     invoice.ID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		TransactionID: req.TransactionID,
		CreatedByID:   actor.ID,
		CreatedByName: actor.Name,
		CreatedAt:     invoice.CreatedAt,
	}}
	invoice.Derive()
	if err := s.repo.Insert(ctx, tx, invoice); err != nil {
		return nil, nil, numberingdomain.CheckInsert(err)
	}
	return invoice, &invoice.Payments[0], nil
}

func (s *Service) AddPayment(ctx context.Context, req invoicedomain.AddPaymentRequest) (*invoicedomain.PaymentResult, error) {
	actor, err := s.authorize(ctx, authorization.ActionInvoicePay)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, invoicedomain.ErrInvalidAmount
	}
	if !req.PaymentMethod.Valid() {
		return nil, ledgerdomain.ErrInvalidPaymentMethod
	}

	var (
		result   *invoicedomain.PaymentResult
		auditErr error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			invoice, err := s.lock(ctx, tx, req.InvoiceID)
			if err != nil {
				return err
			}
			switch invoice.Status {
			case invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusCancelled:
				return ledgerdomain.InvalidTransition(entityInvoice, string(invoice.Status), "payment")
			}
			if req.Amount > invoice.RemainingAmount {
				return invoicedomain.ErrOverpayment
			}
			before := invoiceState(invoice)

			paymentID := s.genID.Generate()
			txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
				Kind:          ledgerdomain.KindIncome,
				Amount:        req.Amount,
				PaymentMethod: req.PaymentMethod,
				Origin:        ledgerdomain.OriginAutomatic,
				Document:      invoice.Ref(paymentID),
				Description:   fmt.Sprintf("Payment for invoice %s", invoice.Number),
				Category:      entityInvoice,
				Actor:         actor,
			})
			if err != nil {
				return err
			}

			now := s.clock.Now().UTC()
			payment := invoicedomain.Payment{
				ID:            paymentID,
				InvoiceID:     invoice.ID,
				Amount:        req.Amount,
				PaymentMethod: req.PaymentMethod,
				TransactionID: txn.ID,
				CreatedByID:   actor.ID,
				CreatedByName: actor.Name,
				CreatedAt:     now,
			}
			if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
				return db.WrapPersistence(err)
			}
			invoice.Payments = append(invoice.Payments, payment)
			invoice.Derive()
			invoice.UpdatedAt = now
			if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
				return db.WrapPersistence(err)
			}
			if err := s.bumpCounters(ctx, tx, invoice, req.Amount); err != nil {
				return err
			}

			register, err := s.ledger.Snapshot(ctx, tx)
			if err != nil {
				return err
			}
			result = &invoicedomain.PaymentResult{
				Invoice:     invoice,
				Payment:     &invoice.Payments[len(invoice.Payments)-1],
				Transaction: txn,
				Register:    register,
			}

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionPayment,
				EntityType:   auditdomain.EntityInvoice,
				EntityID:     invoice.ID.String(),
				EntityNumber: invoice.Number,
				Actor:        actor,
				Before:       before,
				After:        invoiceState(invoice),
				Description:  fmt.Sprintf("payment %d via %s (%s)", req.Amount, req.PaymentMethod, txn.Number),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.auditSvc.Report(ctx, auditErr)
	return result, auditErr
}

func (s *Service) RefundPayment(ctx context.Context, req invoicedomain.RefundPaymentRequest) (*invoicedomain.RefundResult, error) {
	actor, err := s.authorize(ctx, authorization.ActionInvoiceRefund)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invoicedomain.ErrInvalidReason
	}

	var (
		result   *invoicedomain.RefundResult
		auditErr error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			invoice, err := s.lock(ctx, tx, req.InvoiceID)
			if err != nil {
				return err
			}
			if invoice.Status == invoicedomain.InvoiceStatusCancelled {
				return ledgerdomain.InvalidTransition(entityInvoice, string(invoice.Status), "refund")
			}
			payment, ok := invoice.Payment(req.PaymentID)
			if !ok {
				return s.missingPayment(ctx, tx, req.PaymentID)
			}
			if payment.Refunded {
				return invoicedomain.ErrAlreadyRefunded
			}
			before := invoiceState(invoice)

			rev, err := s.refund(ctx, tx, invoice, payment, actor, reason)
			if err != nil {
				return err
			}
			invoice.Derive()
			invoice.UpdatedAt = s.clock.Now().UTC()
			if err := s.repo.UpdateTotals(ctx, tx, invoice); err != nil {
				return db.WrapPersistence(err)
			}
			result = &invoicedomain.RefundResult{Invoice: invoice, Payment: payment, Reversal: rev}

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionRefund,
				EntityType:   auditdomain.EntityInvoice,
				EntityID:     invoice.ID.String(),
				EntityNumber: invoice.Number,
				Actor:        actor,
				Before:       before,
				After:        invoiceState(invoice),
				Description:  fmt.Sprintf("refund of payment %s (%s): %s", payment.ID, rev.Reversal.Number, reason),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.auditSvc.Report(ctx, auditErr)
	return result, auditErr
}

func (s *Service) CancelInvoice(ctx context.Context, req invoicedomain.CancelInvoiceRequest) (*invoicedomain.Result, error) {
	actor, err := s.authorize(ctx, authorization.ActionInvoiceCancel)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invoicedomain.ErrInvalidReason
	}

	var (
		result   *invoicedomain.Result
		auditErr error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			invoice, err := s.lock(ctx, tx, req.InvoiceID)
			if err != nil {
				return err
			}
			switch invoice.Status {
			case invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusCancelled:
				return ledgerdomain.InvalidTransition(entityInvoice, string(invoice.Status), string(invoicedomain.InvoiceStatusCancelled))
			}
			before := invoiceState(invoice)

			var refunded []string
			for idx := range invoice.Payments {
				payment := &invoice.Payments[idx]
				if payment.Refunded {
					continue
				}
				rev, err := s.refund(ctx, tx, invoice, payment, actor, reason)
				if err != nil {
					return err
				}
				refunded = append(refunded, rev.Reversal.Number)
			}

			now := s.clock.Now().UTC()
			invoice.Status = invoicedomain.InvoiceStatusCancelled
			invoice.CancelledAt = &now
			invoice.CancelledByID = &actor.ID
			invoice.CancelledByName = &actor.Name
			invoice.CancelReason = &reason
			invoice.UpdatedAt = now
			invoice.Derive()
			if err := s.repo.MarkCancelled(ctx, tx, invoice); err != nil {
				return db.WrapPersistence(err)
			}

			register, err := s.ledger.Snapshot(ctx, tx)
			if err != nil {
				return err
			}
			result = &invoicedomain.Result{Invoice: invoice, Register: register}

			after := invoiceState(invoice)
			after["refund_transactions"] = refunded
			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionCancel,
				EntityType:   auditdomain.EntityInvoice,
				EntityID:     invoice.ID.String(),
				EntityNumber: invoice.Number,
				Actor:        actor,
				Before:       before,
				After:        after,
				Description:  reason,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.auditSvc.Report(ctx, auditErr)
	return result, auditErr
}

// refund reverses one payment's transaction and marks the payment refunded.
func (s *Service) refund(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, payment *invoicedomain.Payment, actor auditcontext.Actor, reason string) (*ledgerdomain.ReversalResult, error) {
	rev, err := s.reversal.Reverse(ctx, tx, reversal.Request{
		Owner:         invoice.Ref(payment.ID),
		TransactionID: payment.TransactionID,
		Actor:         actor,
		Reason:        reason,
		CustomerID:    invoice.Customer.CustomerID,
		AppointmentID: invoice.AppointmentID,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	payment.Refunded = true
	payment.RefundTransactionID = &rev.Reversal.ID
	payment.RefundedAt = &now
	payment.RefundedByID = &actor.ID
	payment.RefundReason = &reason
	if err := s.repo.MarkRefunded(ctx, tx, payment); err != nil {
		if errors.Is(err, invoicedomain.ErrAlreadyRefunded) {
			return nil, err
		}
		return nil, db.WrapPersistence(err)
	}
	return rev, nil
}

func (s *Service) bumpCounters(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, delta int64) error {
	if invoice.AppointmentID != nil {
		if err := s.appointments.IncrementPaidAmount(ctx, tx, *invoice.AppointmentID, delta); err != nil {
			return collaboratorErr(err, appointmentdomain.ErrAppointmentNotFound)
		}
	}
	if invoice.Customer.CustomerID != nil {
		if err := s.customers.IncrementLifetimeSpend(ctx, tx, *invoice.Customer.CustomerID, delta); err != nil {
			return collaboratorErr(err, customerdomain.ErrCustomerNotFound)
		}
	}
	return nil
}

func (s *Service) GetInvoice(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if id == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	if req.Status != "" {
		switch req.Status {
		case invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusPartial,
			invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusCancelled:
		default:
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
	}
	var cursor *pagination.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		if _, err := decoded.CursorTime(); err != nil {
			return invoicedomain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		cursor = decoded
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, invoicedomain.ListFilter{
		Status:      req.Status,
		InvoiceType: strings.TrimSpace(req.InvoiceType),
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
		Cursor:      cursor,
		Limit:       limit,
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, db.WrapPersistence(err)
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: items}, nil
}

func (s *Service) authorize(ctx context.Context, action string) (auditcontext.Actor, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return auditcontext.Actor{}, ledgerdomain.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectInvoice, action); err != nil {
		return auditcontext.Actor{}, err
	}
	return actor, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) missingPayment(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	payment, err := s.repo.FindPayment(ctx, tx, id)
	if err != nil {
		return db.WrapPersistence(err)
	}
	if payment == nil {
		return invoicedomain.ErrPaymentNotFound
	}
	return invoicedomain.ErrPaymentNotOnInvoice
}

func (s *Service) build(
	number string,
	invoiceType string,
	customer snapshot.Customer,
	company snapshot.Company,
	items []invoicedomain.LineItemInput,
	rate decimal.Decimal,
	totals invoicedomain.Totals,
	actor auditcontext.Actor,
) *invoicedomain.Invoice {
	now := s.clock.Now().UTC()
	id := s.genID.Generate()
	lines := make([]invoicedomain.LineItem, 0, len(items))
	for idx, item := range items {
		lines = append(lines, invoicedomain.LineItem{
			ID:          s.genID.Generate(),
			InvoiceID:   id,
			Position:    idx + 1,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Quantity * item.UnitPrice,
		})
	}
	return &invoicedomain.Invoice{
		ID:            id,
		Number:        number,
		InvoiceType:   invoiceType,
		Customer:      customer,
		Company:       company,
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		TaxRate:       rate,
		TaxAmount:     totals.TaxAmount,
		Total:         totals.Total,
		Status:        invoicedomain.InvoiceStatusDraft,
		CreatedByID:   actor.ID,
		CreatedByName: actor.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
		LineItems:     lines,
	}
}

func resolveType(settings config.Settings, invoiceType string) (string, string, error) {
	invoiceType = strings.ToLower(strings.TrimSpace(invoiceType))
	if invoiceType == "" {
		invoiceType = config.InvoiceTypeStandard
	}
	prefix, ok := settings.InvoicePrefix(invoiceType)
	if !ok {
		return "", "", invoicedomain.ErrInvalidInvoiceType
	}
	return invoiceType, prefix, nil
}

func invoiceState(invoice *invoicedomain.Invoice) map[string]any {
	return map[string]any{
		"status":           invoice.Status,
		"total":            invoice.Total,
		"paid_amount":      invoice.PaidAmount,
		"remaining_amount": invoice.RemainingAmount,
	}
}

func nonZero(id *snowflake.ID) *snowflake.ID {
	if id == nil || *id == 0 {
		return nil
	}
	v := *id
	return &v
}

func collaboratorErr(err, notFound error) error {
	if errors.Is(err, notFound) {
		return err
	}
	return db.WrapPersistence(err)
}
