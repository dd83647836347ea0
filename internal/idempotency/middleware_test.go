package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	failWith error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]Record{}}
}

func (s *memoryStore) Reserve(_ context.Context, key, fp string, _ time.Duration) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, false, s.failWith
	}
	if existing, ok := s.records[key]; ok {
		return &existing, false, nil
	}
	rec := Record{State: StatePending, Token: "tok-" + key, Fingerprint: fp}
	s.records[key] = rec
	return &rec, true, nil
}

func (s *memoryStore) Complete(_ context.Context, key string, rec Record, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.State = StateDone
	s.records[key] = rec
	return nil
}

func (s *memoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.State == StatePending && rec.Token == token {
		delete(s.records, key)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrKeyReused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func newRouter(store Store, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	mw := NewMiddleware(Params{Log: zap.NewNop(), Config: config.Config{IdempotencyTTL: time.Hour}, Store: store})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := auditcontext.WithActor(c.Request.Context(), auditcontext.Actor{ID: c.GetHeader("X-Actor-Id"), Role: "employee"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		if last := c.Errors.Last(); last != nil && !c.Writer.Written() {
			c.AbortWithStatusJSON(statusFor(last.Err), gin.H{"error": last.Err.Error()})
		}
	})
	r.Use(mw.Handler())
	r.POST("/receipts", handler)
	r.GET("/receipts", handler)
	return r
}

func send(r http.Handler, method, actor, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/receipts", bytes.NewBufferString(body))
	req.Header.Set("X-Actor-Id", actor)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestReplaysFirstResponse(t *testing.T) {
	calls := 0
	r := newRouter(newMemoryStore(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"number": "REC-20261015-001"})
	})

	first := send(r, http.MethodPost, "u1", "k1", `{"amount":"750.00"}`)
	second := send(r, http.MethodPost, "u1", "k1", `{"amount":"750.00"}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Empty(t, first.Header().Get(HeaderReplayed))
	assert.Equal(t, 1, calls)
}

func TestKeysAreScopedPerActor(t *testing.T) {
	calls := 0
	r := newRouter(newMemoryStore(), func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	send(r, http.MethodPost, "u1", "k1", `{}`)
	resp := send(r, http.MethodPost, "u2", "k1", `{}`)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, 2, calls)
}

func TestReusedKeyWithDifferentBody(t *testing.T) {
	r := newRouter(newMemoryStore(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	send(r, http.MethodPost, "u1", "k1", `{"amount":"750.00"}`)
	resp := send(r, http.MethodPost, "u1", "k1", `{"amount":"751.00"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestPendingKeyConflicts(t *testing.T) {
	store := newMemoryStore()
	_, ok, err := store.Reserve(context.Background(), "u1:k1", "x", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	r := newRouter(store, func(c *gin.Context) {
		t.Fatal("handler must not run")
	})
	resp := send(r, http.MethodPost, "u1", "k1", `{}`)

	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestServerErrorReleasesKey(t *testing.T) {
	calls := 0
	r := newRouter(newMemoryStore(), func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusCreated)
	})

	first := send(r, http.MethodPost, "u1", "k1", `{}`)
	second := send(r, http.MethodPost, "u1", "k1", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
}

func TestClientErrorIsReplayed(t *testing.T) {
	calls := 0
	r := newRouter(newMemoryStore(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
	})

	send(r, http.MethodPost, "u1", "k1", `{}`)
	resp := send(r, http.MethodPost, "u1", "k1", `{}`)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, 1, calls)
}

func TestUnrenderedErrorReleasesKey(t *testing.T) {
	calls := 0
	r := newRouter(newMemoryStore(), func(c *gin.Context) {
		calls++
		if calls == 1 {
			_ = c.Error(errors.New("insufficient_balance"))
			c.Abort()
			return
		}
		c.Status(http.StatusCreated)
	})

	first := send(r, http.MethodPost, "u1", "k1", `{}`)
	second := send(r, http.MethodPost, "u1", "k1", `{}`)

	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
}

func TestStoreFailureFailsClosed(t *testing.T) {
	store := newMemoryStore()
	store.failWith = errors.New("connection refused")
	r := newRouter(store, func(c *gin.Context) {
		t.Fatal("handler must not run")
	})

	resp := send(r, http.MethodPost, "u1", "k1", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestPassThrough(t *testing.T) {
	calls := 0
	handler := func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	}

	withStore := newRouter(newMemoryStore(), handler)
	send(withStore, http.MethodPost, "u1", "", `{}`)
	send(withStore, http.MethodPost, "u1", "", `{}`)
	send(withStore, http.MethodGet, "u1", "k1", "")
	send(withStore, http.MethodGet, "u1", "k1", "")

	withoutStore := newRouter(nil, handler)
	send(withoutStore, http.MethodPost, "u1", "k1", `{}`)
	send(withoutStore, http.MethodPost, "u1", "k1", `{}`)

	assert.Equal(t, 6, calls)
}
