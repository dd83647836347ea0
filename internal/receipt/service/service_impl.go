package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
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
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	"github.com/smallbiznis/agencyledger/internal/reversal"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const entityReceipt = "receipt"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         receiptdomain.Repository
	Ledger       ledgerdomain.Service
	Reversal     reversal.Engine
	Invoices     invoicedomain.Service
	Numbering    numberingdomain.Service
	AuditSvc     auditdomain.Service
	Authz        authorization.Service
	Settings     config.SettingsProvider
	Customers    customerdomain.Directory
	Appointments appointmentdomain.Registry
	Clock        clock.Clock `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         receiptdomain.Repository
	ledger       ledgerdomain.Service
	reversal     reversal.Engine
	invoices     invoicedomain.Service
	numbering    numberingdomain.Service
	auditSvc     auditdomain.Service
	authz        authorization.Service
	settings     config.SettingsProvider
	customers    customerdomain.Directory
	appointments appointmentdomain.Registry
	clock        clock.Clock
}

func NewService(p Params) receiptdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("receipt.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		ledger:       p.Ledger,
		reversal:     p.Reversal,
		invoices:     p.Invoices,
		numbering:    p.Numbering,
		auditSvc:     p.AuditSvc,
		authz:        p.Authz,
		settings:     p.Settings,
		customers:    p.Customers,
		appointments: p.Appointments,
		clock:        clk,
	}
}

func (s *Service) CreateReceipt(ctx context.Context, req receiptdomain.CreateReceiptRequest) (*receiptdomain.Result, error) {
	actor, err := s.authorize(ctx, authorization.ActionReceiptCreate)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if !req.PaymentMethod.Valid() {
		return nil, ledgerdomain.ErrInvalidPaymentMethod
	}
	customer := req.Customer.Normalize()
	if !customer.Valid() {
		return nil, receiptdomain.ErrInvalidCustomer
	}
	company := snapshot.CompanyFrom(s.settings.Settings().Company)
	appointmentID := nonZero(req.AppointmentID)

	var (
		result   *receiptdomain.Result
		auditErr error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			now := s.clock.Now().UTC()
			number, err := s.numbering.Next(ctx, tx, numberingdomain.DocumentTypeReceipt, now)
			if err != nil {
				return err
			}
			receipt := &receiptdomain.Receipt{
				ID:            s.genID.Generate(),
				Number:        number,
				AppointmentID: appointmentID,
				Customer:      customer,
				Company:       company,
				Amount:        req.Amount,
				PaymentMethod: req.PaymentMethod,
				Description:   strings.TrimSpace(req.Description),
				Status:        receiptdomain.StatusActive,
				CreatedByID:   actor.ID,
				CreatedByName: actor.Name,
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			txn, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
				Kind:          ledgerdomain.KindIncome,
				Amount:        req.Amount,
				PaymentMethod: req.PaymentMethod,
				Origin:        ledgerdomain.OriginAutomatic,
				Document:      receipt.Ref(),
				Description:   fmt.Sprintf("Receipt %s for %s", number, customer.Name),
				Category:      entityReceipt,
				Actor:         actor,
			})
			if err != nil {
				return err
			}
			receipt.TransactionID = txn.ID
			if err := s.repo.Insert(ctx, tx, receipt); err != nil {
				return numberingdomain.CheckInsert(err)
			}

			if appointmentID != nil {
				if err := s.appointments.IncrementPaidAmount(ctx, tx, *appointmentID, req.Amount); err != nil {
					return collaboratorErr(err, appointmentdomain.ErrAppointmentNotFound)
				}
			}
			if customer.CustomerID != nil {
				if err := s.customers.IncrementLifetimeSpend(ctx, tx, *customer.CustomerID, req.Amount); err != nil {
					return collaboratorErr(err, customerdomain.ErrCustomerNotFound)
				}
			}

			register, err := s.ledger.Snapshot(ctx, tx)
			if err != nil {
				return err
			}
			result = &receiptdomain.Result{Receipt: receipt, Transaction: txn, Register: register}

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionCreate,
				EntityType:   auditdomain.EntityReceipt,
				EntityID:     receipt.ID.String(),
				EntityNumber: receipt.Number,
				Actor:        actor,
				After:        receipt,
				Description:  fmt.Sprintf("receipt %d via %s (%s)", receipt.Amount, receipt.PaymentMethod, txn.Number),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.auditSvc.Report(ctx, auditErr)

	s.log.Info("receipt created",
		zap.String("number", result.Receipt.Number),
		zap.Int64("amount", result.Receipt.Amount),
		zap.String("payment_method", string(result.Receipt.PaymentMethod)),
		zap.String("actor_id", actor.ID),
	)
	return result, auditErr
}

func (s *Service) CancelReceipt(ctx context.Context, req receiptdomain.CancelReceiptRequest) (*receiptdomain.CancelResult, error) {
	actor, err := s.authorize(ctx, authorization.ActionReceiptCancel)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, receiptdomain.ErrInvalidReason
	}

	var (
		result   *receiptdomain.CancelResult
		auditErr error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			receipt, err := s.lock(ctx, tx, req.ReceiptID)
			if err != nil {
				return err
			}
			if receipt.Status != receiptdomain.StatusActive {
				return ledgerdomain.InvalidTransition(entityReceipt, string(receipt.Status), string(receiptdomain.StatusCancelled))
			}

			rev, err := s.reversal.Reverse(ctx, tx, reversal.Request{
				Owner:         receipt.Ref(),
				TransactionID: receipt.TransactionID,
				Actor:         actor,
				Reason:        reason,
				CustomerID:    receipt.Customer.CustomerID,
				AppointmentID: receipt.AppointmentID,
			})
			if err != nil {
				return err
			}

			now := s.clock.Now().UTC()
			receipt.Status = receiptdomain.StatusCancelled
			receipt.CancelledAt = &now
			receipt.CancelledByID = &actor.ID
			receipt.CancelledByName = &actor.Name
			receipt.CancelReason = &reason
			receipt.UpdatedAt = now
			if err := s.repo.MarkCancelled(ctx, tx, receipt); err != nil {
				return transitionErr(err)
			}
			result = &receiptdomain.CancelResult{Receipt: receipt, Reversal: rev}

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionCancel,
				EntityType:   auditdomain.EntityReceipt,
				EntityID:     receipt.ID.String(),
				EntityNumber: receipt.Number,
				Actor:        actor,
				Before:       map[string]any{"status": receiptdomain.StatusActive},
				After:        map[string]any{"status": receipt.Status, "reversal": rev.Reversal.Number},
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

func (s *Service) ConvertToInvoice(ctx context.Context, req receiptdomain.ConvertRequest) (*receiptdomain.ConvertResult, error) {
	actor, err := s.authorize(ctx, authorization.ActionReceiptConvert)
	if err != nil {
		return nil, err
	}

	var (
		result    *receiptdomain.ConvertResult
		auditErrs []error
	)
	err = s.numbering.Retry(ctx, func() error {
		auditErrs = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			receipt, err := s.lock(ctx, tx, req.ReceiptID)
			if err != nil {
				return err
			}
			switch receipt.Status {
			case receiptdomain.StatusConverted:
				return receiptdomain.ErrAlreadyConverted
			case receiptdomain.StatusCancelled:
				return ledgerdomain.InvalidTransition(entityReceipt, string(receipt.Status), string(receiptdomain.StatusConverted))
			}

			invoice, payment, err := s.invoices.CreateFromReceipt(ctx, tx, invoicedomain.FromReceiptRequest{
				ReceiptID:     receipt.ID,
				ReceiptNumber: receipt.Number,
				InvoiceType:   req.InvoiceType,
				Customer:      receipt.Customer,
				AppointmentID: receipt.AppointmentID,
				LineItems:     req.LineItems,
				TaxRate:       req.TaxRate,
				Discount:      req.Discount,
				Amount:        receipt.Amount,
				PaymentMethod: receipt.PaymentMethod,
				TransactionID: receipt.TransactionID,
				Actor:         actor,
			})
			if err != nil {
				return err
			}
			if err := s.ledger.Repoint(ctx, tx, receipt.TransactionID, receipt.Ref(), invoice.Ref(payment.ID)); err != nil {
				return err
			}

			now := s.clock.Now().UTC()
			receipt.Status = receiptdomain.StatusConverted
			receipt.ConvertedInvoiceID = &invoice.ID
			receipt.ConvertedAt = &now
			receipt.UpdatedAt = now
			if err := s.repo.MarkConverted(ctx, tx, receipt); err != nil {
				return transitionErr(err)
			}

			register, err := s.ledger.Snapshot(ctx, tx)
			if err != nil {
				return err
			}
			result = &receiptdomain.ConvertResult{Receipt: receipt, Invoice: invoice, Register: register}

			auditErrs = append(auditErrs,
				s.auditSvc.Record(ctx, tx, auditdomain.Entry{
					Action:       auditdomain.ActionConvert,
					EntityType:   auditdomain.EntityReceipt,
					EntityID:     receipt.ID.String(),
					EntityNumber: receipt.Number,
					Actor:        actor,
					Before:       map[string]any{"status": receiptdomain.StatusActive},
					After:        map[string]any{"status": receipt.Status, "invoice": invoice.Number},
					Description:  fmt.Sprintf("converted to invoice %s", invoice.Number),
				}),
				s.auditSvc.Record(ctx, tx, auditdomain.Entry{
					Action:       auditdomain.ActionCreate,
					EntityType:   auditdomain.EntityInvoice,
					EntityID:     invoice.ID.String(),
					EntityNumber: invoice.Number,
					Actor:        actor,
					After:        invoice,
					Description:  fmt.Sprintf("created from receipt %s", receipt.Number),
				}),
			)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	auditErr := auditdomain.Join(auditErrs...)
	s.auditSvc.Report(ctx, auditErr)
	return result, auditErr
}

func (s *Service) GetReceipt(ctx context.Context, id snowflake.ID) (*receiptdomain.Receipt, error) {
	if id == 0 {
		return nil, receiptdomain.ErrReceiptNotFound
	}
	receipt, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if receipt == nil {
		return nil, receiptdomain.ErrReceiptNotFound
	}
	return receipt, nil
}

func (s *Service) ListReceipts(ctx context.Context, req receiptdomain.ListReceiptRequest) (receiptdomain.ListReceiptResponse, error) {
	switch req.Status {
	case "", receiptdomain.StatusActive, receiptdomain.StatusConverted, receiptdomain.StatusCancelled:
	default:
		return receiptdomain.ListReceiptResponse{}, receiptdomain.ErrInvalidStatus
	}
	var cursor *pagination.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return receiptdomain.ListReceiptResponse{}, pagination.ErrInvalidPageToken
		}
		if _, err := decoded.CursorTime(); err != nil {
			return receiptdomain.ListReceiptResponse{}, pagination.ErrInvalidPageToken
		}
		cursor = decoded
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, receiptdomain.ListFilter{
		Status:      req.Status,
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
		Cursor:      cursor,
		Limit:       limit,
	})
	if err != nil {
		return receiptdomain.ListReceiptResponse{}, db.WrapPersistence(err)
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *receiptdomain.Receipt) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	return receiptdomain.ListReceiptResponse{PageInfo: pageInfo, Receipts: items}, nil
}

func (s *Service) authorize(ctx context.Context, action string) (auditcontext.Actor, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return auditcontext.Actor{}, ledgerdomain.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectReceipt, action); err != nil {
		return auditcontext.Actor{}, err
	}
	return actor, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*receiptdomain.Receipt, error) {
	receipt, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if receipt == nil {
		return nil, receiptdomain.ErrReceiptNotFound
	}
	return receipt, nil
}

func transitionErr(err error) error {
	if errors.Is(err, ledgerdomain.ErrInvalidStateTransition) {
		return err
	}
	return db.WrapPersistence(err)
}

func collaboratorErr(err, notFound error) error {
	if errors.Is(err, notFound) {
		return err
	}
	return db.WrapPersistence(err)
}

func nonZero(id *snowflake.ID) *snowflake.ID {
	if id == nil || *id == 0 {
		return nil
	}
	v := *id
	return &v
}
