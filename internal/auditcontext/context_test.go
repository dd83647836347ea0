package auditcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: " 7 ", Name: "Dewi", Role: "Employee"})
	actor, ok := ActorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, Actor{ID: "7", Name: "Dewi", Role: RoleEmployee}, actor)

	_, ok = ActorFromContext(WithActor(context.Background(), Actor{Name: "anon"}))
	assert.False(t, ok)
}

func TestRequestMetadata(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithIPAddress(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "  ")

	meta := RequestMetadata(ctx)
	assert.Equal(t, "req-1", meta["request_id"])
	assert.Equal(t, "10.0.0.1", meta["ip_address"])
	assert.NotContains(t, meta, "user_agent")
}

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, first)
	_, second := EnsureCorrelationID(ctx)
	assert.Equal(t, first, second)
}
