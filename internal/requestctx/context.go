// Package requestctx provides request-scoped values (tenant_id, correlation_id)
// set by middleware and read by handlers and the pipeline.
package requestctx

import "context"

type contextKey struct{ name string }

var (
	tenantIDKey      = &contextKey{"tenant_id"}
	correlationIDKey = &contextKey{"correlation_id"}
)

// SetTenantID stores tenant_id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID returns the tenant_id from context, or "" if not set.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// SetCorrelationID stores correlation_id in the context.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation_id from context, or "" if not set.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
