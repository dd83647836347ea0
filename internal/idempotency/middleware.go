package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength = 255
)

var (
	ErrInProgress  = errors.New("idempotency_key_in_progress")
	ErrKeyReused   = errors.New("idempotency_key_reused")
	ErrUnavailable = errors.New("idempotency_store_unavailable")
	ErrInvalidKey  = errors.New("invalid_idempotency_key")
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Config config.Config
	Store  Store `optional:"true"`
}

type Middleware struct {
	log   *zap.Logger
	store Store
	ttl   time.Duration
}

func NewMiddleware(p Params) *Middleware {
	ttl := p.Config.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Middleware{
		log:   p.Log.Named("idempotency"),
		store: p.Store,
		ttl:   ttl,
	}
}

// Handler guards POST requests carrying an Idempotency-Key. Requests without
// the header, and every request when no store is configured, pass through.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderKey))
		if m == nil || m.store == nil || key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			abort(c, ErrInvalidKey)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abort(c, ErrInvalidKey)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		scoped := scopeKey(ctx, key)
		fp := fingerprint(c.Request.Method, c.Request.URL.Path, body)

		record, reserved, err := m.store.Reserve(ctx, scoped, fp, m.ttl)
		if err != nil {
			m.log.Error("idempotency reserve failed", zap.String("key", scoped), zap.Error(err))
			abort(c, ErrUnavailable)
			return
		}
		if !reserved {
			m.replay(c, record, fp)
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		status := c.Writer.Status()
		// Detached so a cancelled client still settles the key.
		settleCtx := context.WithoutCancel(ctx)
		// An error left for the outer error handler means nothing was
		// committed, so the key is freed for a retry.
		unrendered := len(c.Errors) > 0 && !c.Writer.Written()
		if unrendered || status >= http.StatusInternalServerError {
			if err := m.store.Release(settleCtx, scoped, record.Token); err != nil {
				m.log.Warn("idempotency release failed", zap.String("key", scoped), zap.Error(err))
			}
			return
		}
		err = m.store.Complete(settleCtx, scoped, Record{
			Fingerprint: fp,
			Status:      status,
			ContentType: c.Writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		}, m.ttl)
		if err != nil {
			m.log.Warn("idempotency complete failed", zap.String("key", scoped), zap.Error(err))
		}
	}
}

func (m *Middleware) replay(c *gin.Context, record *Record, fp string) {
	switch {
	case record == nil || record.State == StatePending:
		abort(c, ErrInProgress)
	case record.Fingerprint != fp:
		abort(c, ErrKeyReused)
	default:
		contentType := record.ContentType
		if contentType == "" {
			contentType = "application/json; charset=utf-8"
		}
		c.Header(HeaderReplayed, "true")
		c.Data(record.Status, contentType, record.Body)
		c.Abort()
	}
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func scopeKey(ctx context.Context, key string) string {
	actorID := "anonymous"
	if actor, ok := auditcontext.ActorFromContext(ctx); ok {
		actorID = actor.ID
	}
	return actorID + ":" + key
}

func fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
