package authorization_test

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/agencyledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/agencyledger/internal/audit/service"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRolePolicies(t *testing.T) {
	authz := testutil.NewAuthz(t)
	ctx := context.Background()
	employee := testutil.Employee()
	manager := testutil.Manager()
	admin := auditcontext.Actor{ID: "adm-1", Role: auditcontext.RoleAdmin}
	system := auditcontext.SystemActor("legacy import")

	cases := []struct {
		actor   auditcontext.Actor
		object  string
		action  string
		allowed bool
	}{
		{employee, authorization.ObjectReceipt, authorization.ActionReceiptCreate, true},
		{employee, authorization.ObjectInvoice, authorization.ActionInvoiceRefund, true},
		{employee, authorization.ObjectTransaction, authorization.ActionTransactionCreateIncome, true},
		{employee, authorization.ObjectTransaction, authorization.ActionTransactionCreateExpense, false},
		{employee, authorization.ObjectTransaction, authorization.ActionTransactionReverse, false},
		{employee, authorization.ObjectAuditLog, authorization.ActionAuditLogView, false},
		{manager, authorization.ObjectTransaction, authorization.ActionTransactionReverse, true},
		{manager, authorization.ObjectReceipt, authorization.ActionReceiptCancel, true},
		{manager, authorization.ObjectLedger, authorization.ActionLedgerMigrate, false},
		{admin, authorization.ObjectAuditLog, authorization.ActionAuditLogView, true},
		{admin, authorization.ObjectLedger, authorization.ActionLedgerReconcile, false},
		{system, authorization.ObjectLedger, authorization.ActionLedgerMigrate, true},
		{system, authorization.ObjectInvoice, authorization.ActionInvoiceCreate, true},
		{auditcontext.Actor{ID: "x", Role: "guest"}, authorization.ObjectReceipt, authorization.ActionReceiptView, false},
	}
	for _, tc := range cases {
		err := authz.Authorize(ctx, tc.actor, tc.object, tc.action)
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.actor.Role, tc.action)
		} else {
			assert.ErrorIs(t, err, authorization.ErrForbidden, "%s %s", tc.actor.Role, tc.action)
		}
	}
}

func TestAuthorizeValidatesInput(t *testing.T) {
	authz := testutil.NewAuthz(t)
	ctx := context.Background()

	assert.ErrorIs(t, authz.Authorize(ctx, auditcontext.Actor{Role: auditcontext.RoleManager}, authorization.ObjectReceipt, authorization.ActionReceiptView), authorization.ErrInvalidActor)
	assert.ErrorIs(t, authz.Authorize(ctx, testutil.Manager(), " ", authorization.ActionReceiptView), authorization.ErrInvalidObject)
	assert.ErrorIs(t, authz.Authorize(ctx, testutil.Manager(), authorization.ObjectReceipt, ""), authorization.ErrInvalidAction)
}

func TestDeniedAttemptsAreAudited(t *testing.T) {
	db := testutil.NewDB(t)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Repo:  auditrepo.Provide(),
	})
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit})

	err = authz.Authorize(context.Background(), testutil.Employee(), authorization.ObjectTransaction, authorization.ActionTransactionReverse)
	require.ErrorIs(t, err, authorization.ErrForbidden)

	var rows []auditdomain.AuditLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, auditdomain.ActionAuthDenied, rows[0].Action)
	assert.Equal(t, "emp-1", rows[0].ActorID)
	assert.Equal(t, authorization.ObjectTransaction, rows[0].EntityID)
}

func TestEnforcerPersistsPolicies(t *testing.T) {
	db := testutil.NewDB(t)

	first, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	ok, err := first.Enforce("role:manager", authorization.ObjectTransaction, authorization.ActionTransactionReverse)
	require.NoError(t, err)
	assert.True(t, ok)

	// Seeding again over stored rules is a no-op.
	second, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	ok, err = second.Enforce("role:employee", authorization.ObjectTransaction, authorization.ActionTransactionReverse)
	require.NoError(t, err)
	assert.False(t, ok)
}
