package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	obsmetrics "github.com/smallbiznis/agencyledger/internal/observability/metrics"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Numbering  numberingdomain.Service
	AuditSvc   auditdomain.Service
	Authz      authorization.Service
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      ledgerdomain.Repository
	numbering numberingdomain.Service
	auditSvc  auditdomain.Service
	authz     authorization.Service
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("ledger.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		numbering: p.Numbering,
		auditSvc:  p.AuditSvc,
		authz:     p.Authz,
		clock:     clk,
		metrics:   p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (*ledgerdomain.Transaction, error) {
	if err := validateAppend(req); err != nil {
		return nil, err
	}
	actor := req.Actor.Normalize()
	now := s.clock.Now().UTC()

	register, err := s.lockRegister(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	if req.Kind == ledgerdomain.KindExpense {
		if available := register.Balance(req.PaymentMethod); available < req.Amount {
			return nil, s.insufficient(ctx, req.PaymentMethod, available, req.Amount)
		}
	}

	number, err := s.numbering.Next(ctx, tx, numberingdomain.DocumentTypeTransaction, now)
	if err != nil {
		return nil, err
	}

	id := s.genID.Generate()
	doc := req.Document
	if doc.Type == ledgerdomain.DocumentTypeManual {
		doc = ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeManual, ID: id, Number: number}
	}
	delta := req.Kind.Signed(req.Amount)

	txn := &ledgerdomain.Transaction{
		ID:                   id,
		Number:               number,
		Kind:                 req.Kind,
		Amount:               req.Amount,
		Description:          strings.TrimSpace(req.Description),
		Category:             strings.TrimSpace(req.Category),
		CategoryKey:          categoryKey(req.Category),
		PaymentMethod:        req.PaymentMethod,
		Origin:               req.Origin,
		OriginDocumentType:   doc.Type,
		OriginDocumentID:     doc.ID,
		OriginDocumentNumber: doc.Number,
		BalanceBefore:        register.TotalBalance,
		BalanceAfter:         register.TotalBalance + delta,
		CreatedByID:          actor.ID,
		CreatedByName:        actor.Name,
		Active:               true,
		CreatedAt:            now,
	}
	if err := s.write(ctx, tx, txn, now); err != nil {
		return nil, err
	}

	s.metrics.RecordTransaction(ctx, string(txn.Kind), string(txn.PaymentMethod), string(txn.Origin), txn.Amount)
	return txn, nil
}

// write inserts txn and applies its signed amount to the register.
func (s *Service) write(ctx context.Context, tx *gorm.DB, txn *ledgerdomain.Transaction, now time.Time) error {
	if err := s.repo.Insert(ctx, tx, txn); err != nil {
		return numberingdomain.CheckInsert(err)
	}
	applied, err := s.repo.ApplyToRegister(ctx, tx, txn.PaymentMethod, txn.SignedAmount(), now)
	if err != nil {
		return db.WrapPersistence(err)
	}
	if !applied {
		register, err := s.repo.GetRegister(ctx, tx)
		if err != nil {
			return db.WrapPersistence(err)
		}
		return s.insufficient(ctx, txn.PaymentMethod, register.Balance(txn.PaymentMethod), txn.Amount)
	}
	return nil
}

func (s *Service) lockRegister(ctx context.Context, tx *gorm.DB, now time.Time) (*ledgerdomain.CashRegister, error) {
	register, err := s.repo.LockRegister(ctx, tx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.repo.EnsureRegister(ctx, tx, now); err != nil {
			return nil, db.WrapPersistence(err)
		}
		register, err = s.repo.LockRegister(ctx, tx)
	}
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	return register, nil
}

func (s *Service) insufficient(ctx context.Context, method ledgerdomain.PaymentMethod, available, requested int64) error {
	s.metrics.RecordInsufficientBalance(ctx, string(method))
	return &ledgerdomain.InsufficientBalanceError{
		Method:    method,
		Available: available,
		Requested: requested,
	}
}

func (s *Service) ReverseOwned(ctx context.Context, tx *gorm.DB, owner ledgerdomain.DocumentRef, id snowflake.ID, actor auditcontext.Actor, reason string) (*ledgerdomain.ReversalResult, error) {
	return s.reverse(ctx, tx, id, actor, reason, func(orig *ledgerdomain.Transaction) error {
		if !sameDocument(orig.Document(), owner) {
			return ledgerdomain.ErrTransactionNotOwned
		}
		return nil
	})
}

// reverse appends the inverse of id and deactivates the original. Both
// records end up inactive so the register matches the active sum.
func (s *Service) reverse(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor auditcontext.Actor, reason string, check func(*ledgerdomain.Transaction) error) (*ledgerdomain.ReversalResult, error) {
	actor = actor.Normalize()
	if !actor.Valid() {
		return nil, ledgerdomain.ErrInvalidActor
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ledgerdomain.ErrInvalidReason
	}
	now := s.clock.Now().UTC()

	register, err := s.lockRegister(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	orig, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if orig == nil {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	if orig.ReversesTransactionID != nil {
		return nil, ledgerdomain.ErrReversalNotReversible
	}
	if !orig.Active {
		return nil, ledgerdomain.ErrAlreadyReversed
	}
	if err := check(orig); err != nil {
		return nil, err
	}

	kind := orig.Kind.Inverse()
	if kind == ledgerdomain.KindExpense {
		if available := register.Balance(orig.PaymentMethod); available < orig.Amount {
			return nil, s.insufficient(ctx, orig.PaymentMethod, available, orig.Amount)
		}
	}

	number, err := s.numbering.Next(ctx, tx, numberingdomain.DocumentTypeTransaction, now)
	if err != nil {
		return nil, err
	}
	delta := kind.Signed(orig.Amount)
	origID := orig.ID
	reversal := &ledgerdomain.Transaction{
		ID:                    s.genID.Generate(),
		Number:                number,
		Kind:                  kind,
		Amount:                orig.Amount,
		Description:           fmt.Sprintf("Reversal of %s: %s", orig.Number, reason),
		Category:              orig.Category,
		CategoryKey:           orig.CategoryKey,
		PaymentMethod:         orig.PaymentMethod,
		Origin:                orig.Origin,
		OriginDocumentType:    orig.OriginDocumentType,
		OriginDocumentID:      orig.OriginDocumentID,
		OriginDocumentNumber:  orig.OriginDocumentNumber,
		BalanceBefore:         register.TotalBalance,
		BalanceAfter:          register.TotalBalance + delta,
		CreatedByID:           actor.ID,
		CreatedByName:         actor.Name,
		Active:                false,
		ReversesTransactionID: &origID,
		CreatedAt:             now,
	}
	if err := s.write(ctx, tx, reversal, now); err != nil {
		return nil, err
	}

	cancellation := ledgerdomain.Cancellation{
		At:         now,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Reason:     reason,
		ReversalID: reversal.ID,
	}
	marked, err := s.repo.MarkReversed(ctx, tx, orig.ID, cancellation)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if !marked {
		return nil, ledgerdomain.ErrAlreadyReversed
	}
	orig.Active = false
	orig.CancelledAt = &cancellation.At
	orig.CancelledByID = &cancellation.ActorID
	orig.CancelledByName = &cancellation.ActorName
	orig.CancelReason = &cancellation.Reason
	orig.ReversedByTransactionID = &reversal.ID

	snapshot, err := s.Snapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReversal(ctx, string(orig.OriginDocumentType))
	return &ledgerdomain.ReversalResult{Original: orig, Reversal: reversal, Register: snapshot}, nil
}

func (s *Service) Repoint(ctx context.Context, tx *gorm.DB, id snowflake.ID, from, to ledgerdomain.DocumentRef) error {
	if to.Type == "" || to.Type == ledgerdomain.DocumentTypeManual || to.ID == 0 {
		return ledgerdomain.ErrInvalidDocument
	}
	txn, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return db.WrapPersistence(err)
	}
	if txn == nil {
		return ledgerdomain.ErrTransactionNotFound
	}
	if txn.Origin != ledgerdomain.OriginAutomatic || !sameDocument(txn.Document(), from) {
		return ledgerdomain.ErrTransactionNotOwned
	}
	if !txn.Active {
		return ledgerdomain.ErrAlreadyReversed
	}
	if err := s.repo.Repoint(ctx, tx, id, to); err != nil {
		if errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
			return err
		}
		return db.WrapPersistence(err)
	}
	return nil
}

func (s *Service) Snapshot(ctx context.Context, tx *gorm.DB) (ledgerdomain.RegisterSnapshot, error) {
	if tx == nil {
		tx = s.db
	}
	register, err := s.repo.GetRegister(ctx, tx)
	if err != nil {
		return ledgerdomain.RegisterSnapshot{}, db.WrapPersistence(err)
	}
	return register.Snapshot(), nil
}

func (s *Service) CreateManualTransaction(ctx context.Context, req ledgerdomain.ManualTransactionRequest) (*ledgerdomain.Result, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidActor
	}
	if !req.Kind.Valid() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, ledgerdomain.ErrInvalidDescription
	}
	action := authorization.ActionTransactionCreateIncome
	if req.Kind == ledgerdomain.KindExpense {
		action = authorization.ActionTransactionCreateExpense
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectTransaction, action); err != nil {
		return nil, err
	}

	var (
		result   *ledgerdomain.Result
		auditErr error
	)
	err := s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			txn, err := s.Append(ctx, tx, ledgerdomain.AppendRequest{
				Kind:          req.Kind,
				Amount:        req.Amount,
				PaymentMethod: req.PaymentMethod,
				Origin:        ledgerdomain.OriginManual,
				Document:      ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeManual},
				Description:   req.Description,
				Category:      req.Category,
				Actor:         actor,
			})
			if err != nil {
				return err
			}
			snapshot, err := s.Snapshot(ctx, tx)
			if err != nil {
				return err
			}
			result = &ledgerdomain.Result{Transaction: txn, Register: snapshot}

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionCreate,
				EntityType:   auditdomain.EntityTransaction,
				EntityID:     txn.ID.String(),
				EntityNumber: txn.Number,
				Actor:        actor,
				After:        txn,
				Description:  fmt.Sprintf("manual %s %d via %s", txn.Kind, txn.Amount, txn.PaymentMethod),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.auditSvc.Report(ctx, auditErr)

	s.log.Info("manual transaction recorded",
		zap.String("number", result.Transaction.Number),
		zap.String("kind", string(result.Transaction.Kind)),
		zap.Int64("amount", result.Transaction.Amount),
		zap.String("actor_id", actor.ID),
	)
	return result, auditErr
}

func (s *Service) ReverseTransaction(ctx context.Context, req ledgerdomain.ReverseRequest) (*ledgerdomain.ReversalResult, error) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return nil, ledgerdomain.ErrInvalidActor
	}
	if req.TransactionID == 0 {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectTransaction, authorization.ActionTransactionReverse); err != nil {
		return nil, err
	}

	var (
		result   *ledgerdomain.ReversalResult
		auditErr error
	)
	err := s.numbering.Retry(ctx, func() error {
		auditErr = nil
		return db.Atomic(ctx, s.db, func(tx *gorm.DB) error {
			res, err := s.reverse(ctx, tx, req.TransactionID, actor, req.Reason, func(orig *ledgerdomain.Transaction) error {
				if orig.Origin != ledgerdomain.OriginManual {
					return ledgerdomain.ErrAutomaticOriginNotDirectlyReversible
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = res

			auditErr = s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:       auditdomain.ActionReverse,
				EntityType:   auditdomain.EntityTransaction,
				EntityID:     res.Original.ID.String(),
				EntityNumber: res.Original.Number,
				Actor:        actor,
				Before:       map[string]any{"active": true},
				After:        map[string]any{"active": false, "reversal": res.Reversal},
				Description:  strings.TrimSpace(req.Reason),
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

func (s *Service) GetTransaction(ctx context.Context, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	if id == 0 {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	txn, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if txn == nil {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListRequest) (ledgerdomain.ListResponse, error) {
	var cursor *pagination.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		if _, err := decoded.CursorTime(); err != nil {
			return ledgerdomain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		cursor = decoded
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, ledgerdomain.ListFilter{
		Kind:          req.Kind,
		PaymentMethod: req.PaymentMethod,
		Origin:        req.Origin,
		Active:        req.Active,
		From:          req.From,
		To:            req.To,
		Cursor:        cursor,
		Limit:         limit,
	})
	if err != nil {
		return ledgerdomain.ListResponse{}, db.WrapPersistence(err)
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, transactionCursor)
	return ledgerdomain.ListResponse{Transactions: items, PageInfo: pageInfo}, nil
}

func (s *Service) CashRegister(ctx context.Context) (ledgerdomain.RegisterSnapshot, error) {
	return s.Snapshot(ctx, s.db)
}

func transactionCursor(t *ledgerdomain.Transaction) pagination.Cursor {
	return pagination.Cursor{
		ID:        t.ID.String(),
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func validateAppend(req ledgerdomain.AppendRequest) error {
	if !req.Kind.Valid() {
		return ledgerdomain.ErrInvalidKind
	}
	if req.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if !req.PaymentMethod.Valid() {
		return ledgerdomain.ErrInvalidPaymentMethod
	}
	if !req.Actor.Normalize().Valid() {
		return ledgerdomain.ErrInvalidActor
	}
	switch req.Origin {
	case ledgerdomain.OriginManual:
		if req.Document.Type != ledgerdomain.DocumentTypeManual {
			return ledgerdomain.ErrInvalidDocument
		}
	case ledgerdomain.OriginAutomatic:
		if req.Document.Type != ledgerdomain.DocumentTypeReceipt && req.Document.Type != ledgerdomain.DocumentTypeInvoice {
			return ledgerdomain.ErrInvalidDocument
		}
		if req.Document.ID == 0 {
			return ledgerdomain.ErrInvalidDocument
		}
	default:
		return ledgerdomain.ErrInvalidDocument
	}
	return nil
}

func sameDocument(a, b ledgerdomain.DocumentRef) bool {
	return a.Type == b.Type && a.ID == b.ID
}

func categoryKey(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return ""
	}
	key := slug.Make(category)
	if len(key) > 64 {
		key = key[:64]
	}
	return key
}
