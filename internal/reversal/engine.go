// Package reversal cancels the money effect of a receipt or invoice payment
// together with the counters that followed it.
package reversal

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	appointmentdomain "github.com/smallbiznis/agencyledger/internal/appointment/domain"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	customerdomain "github.com/smallbiznis/agencyledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Request describes a reversal performed on behalf of Owner.
type Request struct {
	Owner         ledgerdomain.DocumentRef
	TransactionID snowflake.ID
	Actor         auditcontext.Actor
	Reason        string
	// CustomerID and AppointmentID name the counters bumped when the
	// transaction was recorded.
	CustomerID    *snowflake.ID
	AppointmentID *snowflake.ID
}

type Engine interface {
	Reverse(ctx context.Context, tx *gorm.DB, req Request) (*ledgerdomain.ReversalResult, error)
}

type Params struct {
	fx.In

	Log          *zap.Logger
	Ledger       ledgerdomain.Service
	Customers    customerdomain.Directory
	Appointments appointmentdomain.Registry
}

type engine struct {
	log          *zap.Logger
	ledger       ledgerdomain.Service
	customers    customerdomain.Directory
	appointments appointmentdomain.Registry
}

func NewEngine(p Params) Engine {
	return &engine{
		log:          p.Log.Named("reversal.engine"),
		ledger:       p.Ledger,
		customers:    p.Customers,
		appointments: p.Appointments,
	}
}

func (e *engine) Reverse(ctx context.Context, tx *gorm.DB, req Request) (*ledgerdomain.ReversalResult, error) {
	if req.Owner.Type != ledgerdomain.DocumentTypeReceipt && req.Owner.Type != ledgerdomain.DocumentTypeInvoice {
		return nil, ledgerdomain.ErrInvalidDocument
	}

	result, err := e.ledger.ReverseOwned(ctx, tx, req.Owner, req.TransactionID, req.Actor, req.Reason)
	if err != nil {
		return nil, err
	}

	amount := result.Original.Amount
	if req.AppointmentID != nil && *req.AppointmentID != 0 {
		if err := e.appointments.IncrementPaidAmount(ctx, tx, *req.AppointmentID, -amount); err != nil {
			return nil, collaboratorErr(err, appointmentdomain.ErrAppointmentNotFound)
		}
	}
	if req.CustomerID != nil && *req.CustomerID != 0 {
		if err := e.customers.IncrementLifetimeSpend(ctx, tx, *req.CustomerID, -amount); err != nil {
			return nil, collaboratorErr(err, customerdomain.ErrCustomerNotFound)
		}
	}

	e.log.Info("transaction reversed",
		zap.String("document_type", string(req.Owner.Type)),
		zap.String("document_id", req.Owner.ID.String()),
		zap.String("original", result.Original.Number),
		zap.String("reversal", result.Reversal.Number),
		zap.Int64("amount", amount),
	)
	return result, nil
}

func collaboratorErr(err, notFound error) error {
	if errors.Is(err, notFound) {
		return err
	}
	return db.WrapPersistence(err)
}
