package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTransaction  = "transaction"
	ObjectReceipt      = "receipt"
	ObjectInvoice      = "invoice"
	ObjectCashRegister = "cash_register"
	ObjectAuditLog     = "audit_log"
	ObjectLedger       = "ledger"
)

const (
	ActionTransactionView          = "transaction.view"
	ActionTransactionCreateIncome  = "transaction.create_income"
	ActionTransactionCreateExpense = "transaction.create_expense"
	ActionTransactionReverse       = "transaction.reverse"
	ActionTransactionExport        = "transaction.export"

	ActionReceiptView    = "receipt.view"
	ActionReceiptCreate  = "receipt.create"
	ActionReceiptCancel  = "receipt.cancel"
	ActionReceiptConvert = "receipt.convert"

	ActionInvoiceView   = "invoice.view"
	ActionInvoiceCreate = "invoice.create"
	ActionInvoicePay    = "invoice.pay"
	ActionInvoiceRefund = "invoice.refund"
	ActionInvoiceCancel = "invoice.cancel"

	ActionCashRegisterView = "cash_register.view"
	ActionAuditLogView     = "audit_log.view"

	ActionLedgerMigrate   = "ledger.migrate"
	ActionLedgerReconcile = "ledger.reconcile"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from casbin_rule and seeds the built-in roles.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer holding only the built-in roles.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor auditcontext.Actor, object string, action string) error {
	actor = actor.Normalize()
	if !actor.Valid() {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(actor.Role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor_id", actor.ID),
			zap.String("role", actor.Role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor auditcontext.Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		Action:      auditdomain.ActionAuthDenied,
		EntityType:  auditdomain.EntityAuthorization,
		EntityID:    object,
		Actor:       actor,
		After:       map[string]any{"object": object, "action": action},
		Description: fmt.Sprintf("%s denied %s", actor.Role, action),
	})
	s.auditSvc.Report(ctx, err)
}

func roleSubject(role string) string {
	return "role:" + strings.ToLower(strings.TrimSpace(role))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Employees handle customer money but cannot take cash out or undo entries.
		{"role:employee", ObjectTransaction, ActionTransactionView},
		{"role:employee", ObjectTransaction, ActionTransactionCreateIncome},
		{"role:employee", ObjectReceipt, ActionReceiptView},
		{"role:employee", ObjectReceipt, ActionReceiptCreate},
		{"role:employee", ObjectReceipt, ActionReceiptCancel},
		{"role:employee", ObjectReceipt, ActionReceiptConvert},
		{"role:employee", ObjectInvoice, ActionInvoiceView},
		{"role:employee", ObjectInvoice, ActionInvoiceCreate},
		{"role:employee", ObjectInvoice, ActionInvoicePay},
		{"role:employee", ObjectInvoice, ActionInvoiceRefund},
		{"role:employee", ObjectInvoice, ActionInvoiceCancel},
		{"role:employee", ObjectCashRegister, ActionCashRegisterView},

		{"role:manager", ObjectTransaction, ActionTransactionCreateExpense},
		{"role:manager", ObjectTransaction, ActionTransactionReverse},
		{"role:manager", ObjectTransaction, ActionTransactionExport},
		{"role:manager", ObjectAuditLog, ActionAuditLogView},

		{"role:system", ObjectLedger, ActionLedgerMigrate},
		{"role:system", ObjectLedger, ActionLedgerReconcile},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	groupings := [][]string{
		{"role:manager", "role:employee"},
		{"role:admin", "role:manager"},
		{"role:system", "role:admin"},
	}
	for _, g := range groupings {
		if _, err := enforcer.AddGroupingPolicy(g); err != nil {
			return err
		}
	}
	return nil
}
