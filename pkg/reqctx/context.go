// Package reqctx carries request-scoped values (request id, operator identity) through context.
package reqctx

import "context"

type contextKey string

var (
	requestIDKey = contextKey("X-Request-Id")
	operatorKey  = contextKey("X-Operator")
	runIDKey     = contextKey("X-Run-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// SetOperator records who is acting (reviewer id for quarantine resolutions).
func SetOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

func GetOperator(ctx context.Context) string {
	value, _ := ctx.Value(operatorKey).(string)
	return value
}

func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	value, _ := ctx.Value(runIDKey).(string)
	return value
}
