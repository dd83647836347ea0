package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImportLegacy appends one historical register entry. Active entries move
// the register through the regular guarded update; entries that were
// already cancelled in the old system are stored inactive with no effect.
// An entry whose ref was imported before is returned together with
// ErrLegacyAlreadyImported.
func (s *Service) ImportLegacy(ctx context.Context, tx *gorm.DB, entry ledgerdomain.LegacyEntry) (*ledgerdomain.Transaction, error) {
	ref := strings.TrimSpace(entry.Ref)
	if ref == "" {
		return nil, ledgerdomain.ErrInvalidDocument
	}
	if !entry.Kind.Valid() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	if entry.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if !entry.PaymentMethod.Valid() {
		return nil, ledgerdomain.ErrInvalidPaymentMethod
	}

	existing, err := s.repo.FindByLegacyRef(ctx, tx, ref)
	if err != nil {
		return nil, db.WrapPersistence(err)
	}
	if existing != nil {
		return existing, ledgerdomain.ErrLegacyAlreadyImported
	}

	now := s.clock.Now().UTC()
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	register, err := s.lockRegister(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	number, err := s.legacyNumber(ctx, tx, entry.Number, ref, createdAt)
	if err != nil {
		return nil, err
	}

	actor := auditcontext.Actor{ID: strings.TrimSpace(entry.ActorID), Name: strings.TrimSpace(entry.ActorName)}
	if actor.ID == "" {
		actor = auditcontext.SystemActor("legacy-import")
	}

	origin := ledgerdomain.OriginManual
	doc := entry.Document
	switch doc.Type {
	case ledgerdomain.DocumentTypeReceipt, ledgerdomain.DocumentTypeInvoice:
		origin = ledgerdomain.OriginAutomatic
	default:
		doc = ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeManual}
	}

	id := s.genID.Generate()
	if doc.Type == ledgerdomain.DocumentTypeManual {
		doc.ID = id
		doc.Number = number
	}

	delta := int64(0)
	if entry.Active {
		delta = entry.Kind.Signed(entry.Amount)
		if entry.Kind == ledgerdomain.KindExpense {
			if available := register.Balance(entry.PaymentMethod); available < entry.Amount {
				return nil, s.insufficient(ctx, entry.PaymentMethod, available, entry.Amount)
			}
		}
	}

	legacyRef := ref
	txn := &ledgerdomain.Transaction{
		ID:                   id,
		Number:               number,
		Kind:                 entry.Kind,
		Amount:               entry.Amount,
		Description:          strings.TrimSpace(entry.Description),
		Category:             strings.TrimSpace(entry.Category),
		CategoryKey:          categoryKey(entry.Category),
		PaymentMethod:        entry.PaymentMethod,
		Origin:               origin,
		OriginDocumentType:   doc.Type,
		OriginDocumentID:     doc.ID,
		OriginDocumentNumber: doc.Number,
		BalanceBefore:        register.TotalBalance,
		BalanceAfter:         register.TotalBalance + delta,
		CreatedByID:          actor.ID,
		CreatedByName:        actor.Name,
		Active:               entry.Active,
		LegacyRef:            &legacyRef,
		CreatedAt:            createdAt,
	}

	if entry.Active {
		if err := s.write(ctx, tx, txn, now); err != nil {
			return nil, err
		}
		s.metrics.RecordTransaction(ctx, string(txn.Kind), string(txn.PaymentMethod), string(txn.Origin), txn.Amount)
		return txn, nil
	}

	txn.CancelledAt = &createdAt
	txn.CancelledByID = &actor.ID
	txn.CancelledByName = &actor.Name
	reason := "cancelled before migration"
	txn.CancelReason = &reason
	if err := s.repo.Insert(ctx, tx, txn); err != nil {
		return nil, numberingdomain.CheckInsert(err)
	}
	return txn, nil
}

// legacyNumber keeps the historical number unless another record already
// carries it, which happened when the old generator raced.
func (s *Service) legacyNumber(ctx context.Context, tx *gorm.DB, number, ref string, at time.Time) (string, error) {
	number = strings.TrimSpace(number)
	if number != "" {
		taken, err := s.repo.FindByNumber(ctx, tx, number)
		if err != nil {
			return "", db.WrapPersistence(err)
		}
		if taken == nil {
			return number, nil
		}
		s.log.Warn("legacy number already used, allocating a fresh one",
			zap.String("legacy_ref", ref),
			zap.String("number", number),
		)
	}
	return s.numbering.Next(ctx, tx, numberingdomain.DocumentTypeTransaction, at)
}
