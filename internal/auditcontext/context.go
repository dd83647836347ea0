package auditcontext

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
	RoleSystem   = "system"
)

// Actor is the identity snapshot supplied by the auth gateway for a call.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (a Actor) Valid() bool {
	return strings.TrimSpace(a.ID) != "" && strings.TrimSpace(a.Role) != ""
}

func (a Actor) Normalize() Actor {
	return Actor{
		ID:   strings.TrimSpace(a.ID),
		Name: strings.TrimSpace(a.Name),
		Role: strings.ToLower(strings.TrimSpace(a.Role)),
	}
}

// SystemActor identifies background jobs and admin tooling.
func SystemActor(name string) Actor {
	return Actor{ID: "system", Name: name, Role: RoleSystem}
}

type ctxKey int

const (
	actorKey ctxKey = iota
	requestIDKey
	ipAddressKey
	userAgentKey
	correlationIDKey
)

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor.Normalize())
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && actor.Valid()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return withString(ctx, ipAddressKey, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringFrom(ctx, ipAddressKey)
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return withString(ctx, userAgentKey, userAgent)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringFrom(ctx, userAgentKey)
}

// EnsureCorrelationID tags a background run (legacy import, reconciliation)
// with a sortable id when no request id is available.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := stringFrom(ctx, correlationIDKey); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return withString(ctx, correlationIDKey, id), id
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, correlationIDKey)
}

// RequestMetadata collects the request fields stored alongside audit entries.
func RequestMetadata(ctx context.Context) map[string]any {
	meta := map[string]any{}
	if v := RequestIDFromContext(ctx); v != "" {
		meta["request_id"] = v
	}
	if v := IPAddressFromContext(ctx); v != "" {
		meta["ip_address"] = v
	}
	if v := UserAgentFromContext(ctx); v != "" {
		meta["user_agent"] = v
	}
	if v := CorrelationIDFromContext(ctx); v != "" {
		meta["correlation_id"] = v
	}
	return meta
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
