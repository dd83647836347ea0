// Package fixture wires the real ledger services over an in-memory
// database for cross-service tests.
package fixture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/alerting"
	appointmentdomain "github.com/smallbiznis/agencyledger/internal/appointment/domain"
	appointmentrepo "github.com/smallbiznis/agencyledger/internal/appointment/repository"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/agencyledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/agencyledger/internal/audit/service"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/clock"
	"github.com/smallbiznis/agencyledger/internal/config"
	customerdomain "github.com/smallbiznis/agencyledger/internal/customer/domain"
	customerrepo "github.com/smallbiznis/agencyledger/internal/customer/repository"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/agencyledger/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/agencyledger/internal/invoice/service"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/agencyledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/agencyledger/internal/ledger/service"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	numberingrepo "github.com/smallbiznis/agencyledger/internal/numbering/repository"
	numberingservice "github.com/smallbiznis/agencyledger/internal/numbering/service"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	receiptrepo "github.com/smallbiznis/agencyledger/internal/receipt/repository"
	receiptservice "github.com/smallbiznis/agencyledger/internal/receipt/service"
	"github.com/smallbiznis/agencyledger/internal/reversal"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Now is the fixed start time of every stack clock.
var Now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type Stack struct {
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    *clock.FakeClock
	Settings config.StaticSettings
	Alerts   *RecordingNotifier
	Notifier alerting.Notifier

	Authz        authorization.Service
	Numbering    numberingdomain.Service
	AuditRepo    auditdomain.Repository
	Audit        auditdomain.Service
	LedgerRepo   ledgerdomain.Repository
	Ledger       ledgerdomain.Service
	Customers    customerdomain.Directory
	Appointments appointmentdomain.Registry
	Reversal     reversal.Engine
	Invoices     invoicedomain.Service
	ReceiptRepo  receiptdomain.Repository
	Receipts     receiptdomain.Service
}

type Option func(*Stack)

// WithAuditRepository replaces the audit store, e.g. with one that fails.
func WithAuditRepository(repo auditdomain.Repository) Option {
	return func(s *Stack) { s.AuditRepo = repo }
}

// WithLogNotifier routes alerts through the production notifier, which
// stores them in the alerts table of the stack database.
func WithLogNotifier() Option {
	return func(s *Stack) {
		s.Notifier = alerting.NewLogNotifier(alerting.Params{DB: s.DB, Log: s.Log, GenID: s.GenID})
	}
}

// WithReceiptRepository replaces the receipt store.
func WithReceiptRepository(repo receiptdomain.Repository) Option {
	return func(s *Stack) { s.ReceiptRepo = repo }
}

// WithLedgerRepository replaces the ledger store.
func WithLedgerRepository(repo ledgerdomain.Repository) Option {
	return func(s *Stack) { s.LedgerRepo = repo }
}

func New(t testing.TB, opts ...Option) *Stack {
	t.Helper()

	settings := config.DefaultSettings()
	settings.Company = config.CompanyProfile{Name: "Nusantara Travel", Address: "Jl. Merdeka 1", Phone: "021-555"}

	s := &Stack{
		DB:           testutil.NewDB(t),
		Log:          zap.NewNop(),
		GenID:        testutil.NewNode(t),
		Clock:        clock.NewFakeClock(Now),
		Settings:     config.StaticSettings(settings),
		Alerts:       &RecordingNotifier{},
		Authz:        testutil.NewAuthz(t),
		AuditRepo:    auditrepo.Provide(),
		LedgerRepo:   ledgerrepo.Provide(),
		ReceiptRepo:  receiptrepo.Provide(),
		Customers:    customerrepo.Provide(),
		Appointments: appointmentrepo.Provide(),
	}
	s.Notifier = s.Alerts
	for _, opt := range opts {
		opt(s)
	}

	s.Numbering = numberingservice.NewService(numberingservice.Params{
		Log:    s.Log,
		Repo:   numberingrepo.Provide(),
		Config: numberingservice.Config{Location: time.UTC},
	})
	s.Audit = auditservice.NewService(auditservice.Params{
		DB:       s.DB,
		Log:      s.Log,
		GenID:    s.GenID,
		Repo:     s.AuditRepo,
		Clock:    s.Clock,
		Notifier: s.Notifier,
	})
	s.Ledger = ledgerservice.NewService(ledgerservice.Params{
		DB:        s.DB,
		Log:       s.Log,
		GenID:     s.GenID,
		Repo:      s.LedgerRepo,
		Numbering: s.Numbering,
		AuditSvc:  s.Audit,
		Authz:     s.Authz,
		Clock:     s.Clock,
	})
	s.Reversal = reversal.NewEngine(reversal.Params{
		Log:          s.Log,
		Ledger:       s.Ledger,
		Customers:    s.Customers,
		Appointments: s.Appointments,
	})
	s.Invoices = invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:           s.DB,
		Log:          s.Log,
		GenID:        s.GenID,
		Repo:         invoicerepo.Provide(),
		Ledger:       s.Ledger,
		Reversal:     s.Reversal,
		Numbering:    s.Numbering,
		AuditSvc:     s.Audit,
		Authz:        s.Authz,
		Settings:     s.Settings,
		Customers:    s.Customers,
		Appointments: s.Appointments,
		Clock:        s.Clock,
	})
	s.Receipts = receiptservice.NewService(receiptservice.Params{
		DB:           s.DB,
		Log:          s.Log,
		GenID:        s.GenID,
		Repo:         s.ReceiptRepo,
		Ledger:       s.Ledger,
		Reversal:     s.Reversal,
		Invoices:     s.Invoices,
		Numbering:    s.Numbering,
		AuditSvc:     s.Audit,
		Authz:        s.Authz,
		Settings:     s.Settings,
		Customers:    s.Customers,
		Appointments: s.Appointments,
		Clock:        s.Clock,
	})
	return s
}

// SeedCustomer inserts a directory entry and returns its id.
func (s *Stack) SeedCustomer(t testing.TB, name string) snowflake.ID {
	t.Helper()
	c := customerdomain.Customer{ID: s.GenID.Generate(), Name: name, Phone: "0812", UpdatedAt: Now}
	if err := s.DB.Create(&c).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return c.ID
}

// SeedAppointment inserts a booking for customerID and returns its id.
func (s *Stack) SeedAppointment(t testing.TB, customerID snowflake.ID) snowflake.ID {
	t.Helper()
	a := appointmentdomain.Appointment{ID: s.GenID.Generate(), CustomerID: customerID, Title: "Bali trip", UpdatedAt: Now}
	if err := s.DB.Create(&a).Error; err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	return a.ID
}

func (s *Stack) LifetimeSpend(t testing.TB, customerID snowflake.ID) int64 {
	t.Helper()
	c, err := s.Customers.FindByID(context.Background(), s.DB, customerID)
	if err != nil {
		t.Fatalf("find customer: %v", err)
	}
	return c.LifetimeSpend
}

func (s *Stack) PaidAmount(t testing.TB, appointmentID snowflake.ID) int64 {
	t.Helper()
	a, err := s.Appointments.FindByID(context.Background(), s.DB, appointmentID)
	if err != nil {
		t.Fatalf("find appointment: %v", err)
	}
	return a.PaidAmount
}

// Register returns the stored register snapshot.
func (s *Stack) Register(t testing.TB) ledgerdomain.RegisterSnapshot {
	t.Helper()
	snap, err := s.Ledger.Snapshot(context.Background(), s.DB)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

// AssertBalanced fails the test when the register total differs from the
// signed sum of active transactions or a sub-balance is negative.
func (s *Stack) AssertBalanced(t testing.TB) {
	t.Helper()
	snap := s.Register(t)
	if !snap.Consistent() {
		t.Fatalf("register total %d != cash %d + card %d + transfer %d", snap.Total, snap.Cash, snap.Card, snap.Transfer)
	}
	if snap.Cash < 0 || snap.Card < 0 || snap.Transfer < 0 {
		t.Fatalf("negative sub-balance: %+v", snap)
	}
	sums, err := s.LedgerRepo.ActiveSums(context.Background(), s.DB)
	if err != nil {
		t.Fatalf("active sums: %v", err)
	}
	var total int64
	for _, v := range sums {
		total += v
	}
	if total != snap.Total {
		t.Fatalf("register total %d != active sum %d", snap.Total, total)
	}
	for method, v := range sums {
		var got int64
		switch method {
		case ledgerdomain.PaymentMethodCash:
			got = snap.Cash
		case ledgerdomain.PaymentMethodCard:
			got = snap.Card
		case ledgerdomain.PaymentMethodTransfer:
			got = snap.Transfer
		}
		if got != v {
			t.Fatalf("%s balance %d != active sum %d", method, got, v)
		}
	}
}

// RecordingNotifier keeps raised alerts in memory.
type RecordingNotifier struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (n *RecordingNotifier) Notify(_ context.Context, alert alerting.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *RecordingNotifier) Alerts() []alerting.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alerting.Alert(nil), n.alerts...)
}
