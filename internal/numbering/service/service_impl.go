package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/agencyledger/internal/numbering/domain"
	obsmetrics "github.com/smallbiznis/agencyledger/internal/observability/metrics"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxAttempts = 5

// Config controls where a calendar day starts and how hard allocation tries.
type Config struct {
	Location    *time.Location
	MaxAttempts int
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Repo       domain.Repository
	Config     Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	loc         *time.Location
	maxAttempts int
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	loc := p.Config.Location
	if loc == nil {
		loc = time.UTC
	}
	attempts := p.Config.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		log:         p.Log.Named("numbering.service"),
		repo:        p.Repo,
		loc:         loc,
		maxAttempts: attempts,
		metrics:     p.ObsMetrics,
	}
}

func (s *Service) Next(ctx context.Context, tx *gorm.DB, docType domain.DocumentType, at time.Time) (string, error) {
	var prefix string
	switch docType {
	case domain.DocumentTypeTransaction:
		prefix = domain.PrefixTransaction
	case domain.DocumentTypeReceipt:
		prefix = domain.PrefixReceipt
	default:
		return "", domain.ErrUnknownDocumentType
	}
	return s.allocate(ctx, tx, domain.Daily(docType, prefix, at, s.loc))
}

func (s *Service) NextRunning(ctx context.Context, tx *gorm.DB, docType domain.DocumentType, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.ContainsAny(prefix, " :") {
		return "", domain.ErrInvalidPrefix
	}
	return s.allocate(ctx, tx, domain.Running(docType, prefix))
}

// allocate bumps the counter and skips values already present in the
// document table, e.g. rows imported from the legacy register.
func (s *Service) allocate(ctx context.Context, tx *gorm.DB, seq domain.Sequence) (string, error) {
	scope := seq.Scope()
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		value, err := s.repo.Increment(ctx, tx, scope, time.Now().UTC())
		if err != nil {
			return "", db.WrapPersistence(err)
		}
		number := seq.Format(value)

		taken, err := s.repo.NumberTaken(ctx, tx, seq.Type, number)
		if err != nil {
			return "", db.WrapPersistence(err)
		}
		if !taken {
			return number, nil
		}

		s.metrics.RecordNumberingRetry(ctx, string(seq.Type))
		s.log.Warn("document number already in use, advancing sequence",
			zap.String("scope", scope),
			zap.String("number", number),
			zap.Int("attempt", attempt),
		)
	}
	return "", domain.ErrDuplicateNumber
}

func (s *Service) Raise(ctx context.Context, tx *gorm.DB, seq domain.Sequence, value int64) error {
	if value <= 0 {
		return nil
	}
	return db.WrapPersistence(s.repo.Raise(ctx, tx, seq.Scope(), value, time.Now().UTC()))
}

func (s *Service) Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrDuplicateNumber) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		s.metrics.RecordNumberingRetry(ctx, "operation")
		s.log.Warn("document number collided on insert, retrying operation",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}
