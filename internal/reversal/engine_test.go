package reversal

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	appointmentdomain "github.com/smallbiznis/agencyledger/internal/appointment/domain"
	appointmentmock "github.com/smallbiznis/agencyledger/internal/appointment/mock"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	customermock "github.com/smallbiznis/agencyledger/internal/customer/mock"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubLedger struct {
	ledgerdomain.Service
	result *ledgerdomain.ReversalResult
	err    error
	calls  int
}

func (l *stubLedger) ReverseOwned(_ context.Context, _ *gorm.DB, owner ledgerdomain.DocumentRef, id snowflake.ID, _ auditcontext.Actor, _ string) (*ledgerdomain.ReversalResult, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.result, nil
}

func reversed(amount int64) *ledgerdomain.ReversalResult {
	return &ledgerdomain.ReversalResult{
		Original: &ledgerdomain.Transaction{ID: 10, Number: "TRX-20261015-001", Amount: amount},
		Reversal: &ledgerdomain.Transaction{ID: 11, Number: "TRX-20261015-002", Amount: amount, Kind: ledgerdomain.KindExpense},
	}
}

func ids() (*snowflake.ID, *snowflake.ID) {
	customer, appointment := snowflake.ID(7), snowflake.ID(8)
	return &customer, &appointment
}

func TestReverseUndoesCounters(t *testing.T) {
	ctrl := gomock.NewController(t)
	customers := customermock.NewMockDirectory(ctrl)
	appointments := appointmentmock.NewMockRegistry(ctrl)
	ledger := &stubLedger{result: reversed(750)}
	engine := NewEngine(Params{Log: zap.NewNop(), Ledger: ledger, Customers: customers, Appointments: appointments})

	customerID, appointmentID := ids()
	appointments.EXPECT().IncrementPaidAmount(gomock.Any(), gomock.Any(), *appointmentID, int64(-750)).Return(nil)
	customers.EXPECT().IncrementLifetimeSpend(gomock.Any(), gomock.Any(), *customerID, int64(-750)).Return(nil)

	res, err := engine.Reverse(context.Background(), nil, Request{
		Owner:         ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeReceipt, ID: 1, Number: "REC-20261015-001"},
		TransactionID: 10,
		Reason:        "cancelled",
		CustomerID:    customerID,
		AppointmentID: appointmentID,
	})
	require.NoError(t, err)
	assert.Equal(t, "TRX-20261015-002", res.Reversal.Number)
}

func TestReverseWithoutCounters(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := &stubLedger{result: reversed(100)}
	engine := NewEngine(Params{
		Log:          zap.NewNop(),
		Ledger:       ledger,
		Customers:    customermock.NewMockDirectory(ctrl),
		Appointments: appointmentmock.NewMockRegistry(ctrl),
	})

	zero := snowflake.ID(0)
	_, err := engine.Reverse(context.Background(), nil, Request{
		Owner:         ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeInvoice, ID: 2, Number: "INV1"},
		TransactionID: 10,
		CustomerID:    &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.calls)
}

func TestReverseRejectsUnownedDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := &stubLedger{result: reversed(100)}
	engine := NewEngine(Params{
		Log:          zap.NewNop(),
		Ledger:       ledger,
		Customers:    customermock.NewMockDirectory(ctrl),
		Appointments: appointmentmock.NewMockRegistry(ctrl),
	})

	_, err := engine.Reverse(context.Background(), nil, Request{
		Owner:         ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeManual},
		TransactionID: 10,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDocument)
	assert.Zero(t, ledger.calls)
}

func TestReversePropagatesFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	customers := customermock.NewMockDirectory(ctrl)
	appointments := appointmentmock.NewMockRegistry(ctrl)
	owner := ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeReceipt, ID: 1}
	customerID, appointmentID := ids()

	short := &ledgerdomain.InsufficientBalanceError{Method: ledgerdomain.PaymentMethodCash, Available: 10, Requested: 750}
	engine := NewEngine(Params{Log: zap.NewNop(), Ledger: &stubLedger{err: short}, Customers: customers, Appointments: appointments})
	_, err := engine.Reverse(context.Background(), nil, Request{Owner: owner, TransactionID: 10, CustomerID: customerID})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	engine = NewEngine(Params{Log: zap.NewNop(), Ledger: &stubLedger{result: reversed(750)}, Customers: customers, Appointments: appointments})
	appointments.EXPECT().IncrementPaidAmount(gomock.Any(), gomock.Any(), *appointmentID, int64(-750)).
		Return(appointmentdomain.ErrAppointmentNotFound)
	_, err = engine.Reverse(context.Background(), nil, Request{Owner: owner, TransactionID: 10, AppointmentID: appointmentID, CustomerID: customerID})
	assert.ErrorIs(t, err, appointmentdomain.ErrAppointmentNotFound)

	appointments.EXPECT().IncrementPaidAmount(gomock.Any(), gomock.Any(), *appointmentID, int64(-750)).Return(nil)
	customers.EXPECT().IncrementLifetimeSpend(gomock.Any(), gomock.Any(), *customerID, int64(-750)).
		Return(errors.New("connection reset"))
	_, err = engine.Reverse(context.Background(), nil, Request{Owner: owner, TransactionID: 10, AppointmentID: appointmentID, CustomerID: customerID})
	assert.ErrorIs(t, err, db.ErrPersistence)
}
