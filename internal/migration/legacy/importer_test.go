package legacy_test

import (
	"encoding/json"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/migration/legacy"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"github.com/smallbiznis/agencyledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImporter(s *fixture.Stack) *legacy.Importer {
	return legacy.NewImporter(legacy.Params{
		DB:        s.DB,
		Log:       s.Log,
		Ledger:    s.Ledger,
		Numbering: s.Numbering,
		AuditSvc:  s.Audit,
		Authz:     s.Authz,
		Clock:     s.Clock,
	})
}

func raw(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out
}

var history = raw(
	`{"id":"a1","number":"TRX-20261001-004","type":"income","amount":"100.00","paymentMethod":"cash","description":"Tour deposit","createdBy":{"id":"u7","name":"Sari"},"createdAt":"2026-10-01T08:00:00Z"}`,
	`{"id":"a2","number":"TRX-20261001-005","type":"expense","amount":30,"paymentMethod":"cash","category":"Office Supplies","createdAt":"2026-10-01 10:15:00"}`,
	`{"id":"a3","number":"TRX-20261002-001","type":"income","amount":"50","paymentMethod":"card","isActive":false,"createdAt":"2026-10-02"}`,
	`{"id":"a4","number":"TRX-20261002-002","type":"income","amount":"20","paymentMethod":"transfer","receiptId":"12345","receiptNumber":"REC-20261002-001","createdAt":"2026-10-02T09:00:00Z"}`,
)

func system() auditcontext.Actor { return auditcontext.SystemActor("ledgerctl") }

func TestImportReplaysHistory(t *testing.T) {
	s := fixture.New(t)
	imp := newImporter(s)
	ctx := testutil.As(system())

	staged, err := imp.Stage(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, 4, staged)

	report, err := imp.Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.CorrelationID)
	assert.Equal(t, 4, report.Imported)
	assert.Zero(t, report.Skipped)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 9000, Cash: 7000, Transfer: 2000}, report.Register)
	s.AssertBalanced(t)

	first, err := s.LedgerRepo.FindByLegacyRef(ctx, s.DB, "a1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "TRX-20261001-004", first.Number)
	assert.Equal(t, "u7", first.CreatedByID)
	assert.Equal(t, time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC), first.CreatedAt.UTC())
	assert.Equal(t, ledgerdomain.OriginManual, first.Origin)

	cancelled, err := s.LedgerRepo.FindByLegacyRef(ctx, s.DB, "a3")
	require.NoError(t, err)
	assert.False(t, cancelled.Active)

	linked, err := s.LedgerRepo.FindByLegacyRef(ctx, s.DB, "a4")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.OriginAutomatic, linked.Origin)
	assert.Equal(t, ledgerdomain.DocumentTypeReceipt, linked.OriginDocumentType)

	// New allocations continue after the imported numbers.
	next, err := s.Numbering.Next(ctx, s.DB, numberingdomain.DocumentTypeTransaction, time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "TRX-20261001-006", next)

	var migrated, audits int64
	require.NoError(t, s.DB.Model(&legacy.Entry{}).Where("migrated_at IS NOT NULL").Count(&migrated).Error)
	require.NoError(t, s.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionMigrate).Count(&audits).Error)
	assert.Equal(t, int64(4), migrated)
	assert.Equal(t, int64(4), audits)
}

func TestImportIsIdempotent(t *testing.T) {
	s := fixture.New(t)
	imp := newImporter(s)
	ctx := testutil.As(system())

	_, err := imp.Stage(ctx, history)
	require.NoError(t, err)
	_, err = imp.Run(ctx)
	require.NoError(t, err)

	// Nothing pending: a second run is a no-op.
	again, err := imp.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Imported)
	assert.Zero(t, again.Skipped)

	// The same history staged twice is recognised by ref.
	_, err = imp.Stage(ctx, history)
	require.NoError(t, err)
	report, err := imp.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Imported)
	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 9000, Cash: 7000, Transfer: 2000}, report.Register)
	s.AssertBalanced(t)
}

func TestImportStopsAtOverdraft(t *testing.T) {
	s := fixture.New(t)
	imp := newImporter(s)
	ctx := testutil.As(system())

	_, err := imp.Stage(ctx, raw(
		`{"id":"b1","type":"income","amount":"10","paymentMethod":"cash","createdAt":"2026-10-01"}`,
		`{"id":"b2","type":"expense","amount":"25","paymentMethod":"cash","createdAt":"2026-10-01"}`,
		`{"id":"b3","type":"income","amount":"99","paymentMethod":"cash","createdAt":"2026-10-01"}`,
	))
	require.NoError(t, err)

	report, err := imp.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)
	var rowErr *legacy.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, int64(2), rowErr.Position)
	assert.Equal(t, 1, report.Imported)

	assert.Equal(t, ledgerdomain.RegisterSnapshot{Total: 1000, Cash: 1000}, s.Register(t))
	var pending int64
	require.NoError(t, s.DB.Model(&legacy.Entry{}).Where("migrated_at IS NULL").Count(&pending).Error)
	assert.Equal(t, int64(2), pending)

	// Rows without a number are numbered on their original day.
	first, err := s.LedgerRepo.FindByLegacyRef(ctx, s.DB, "b1")
	require.NoError(t, err)
	assert.Equal(t, "TRX-20261001-001", first.Number)
}

func TestImportRejectsBadPayload(t *testing.T) {
	s := fixture.New(t)
	imp := newImporter(s)
	ctx := testutil.As(system())

	_, err := imp.Stage(ctx, raw(`{"type":"income","amount":"10","paymentMethod":"cash"}`))
	require.NoError(t, err)
	_, err = imp.Run(ctx)
	assert.ErrorIs(t, err, legacy.ErrMissingRef)

	_, err = imp.Stage(ctx, raw(`not json`))
	assert.ErrorIs(t, err, legacy.ErrInvalidPayload)
}

func TestImportRequiresSystemActor(t *testing.T) {
	s := fixture.New(t)
	imp := newImporter(s)

	_, err := imp.Run(testutil.As(testutil.Manager()))
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestDecode(t *testing.T) {
	entry := legacy.Entry{Payload: []byte(`{"id":" x9 ","type":"EXPENSE","amount":12.5,"paymentMethod":"Card","invoiceId":"77","invoiceNumber":"INV3"}`)}
	got, err := entry.Decode()
	require.NoError(t, err)
	assert.Equal(t, "x9", got.Ref)
	assert.Equal(t, ledgerdomain.KindExpense, got.Kind)
	assert.Equal(t, int64(1250), got.Amount)
	assert.Equal(t, ledgerdomain.PaymentMethodCard, got.PaymentMethod)
	assert.Equal(t, ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeInvoice, ID: 77, Number: "INV3"}, got.Document)
	assert.True(t, got.Active)

	_, err = legacy.Entry{Payload: []byte(`{"id":"x","amount":"1.001"}`)}.Decode()
	assert.ErrorIs(t, err, legacy.ErrInvalidPayload)
	_, err = legacy.Entry{Payload: []byte(`{"id":"x","amount":"1","createdAt":"yesterday"}`)}.Decode()
	assert.ErrorIs(t, err, legacy.ErrInvalidPayload)
}
