package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/coursemart/internal/observability/context"
	"github.com/smallbiznis/coursemart/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsIdentifiers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "learner", "user_1")
	ctx = obscontext.WithPurchaseID(ctx, "42")
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "cid-1", fields["correlation_id"])
		assert.Equal(t, "learner", fields["actor_type"])
		assert.Equal(t, "user_1", fields["actor_id"])
		assert.Equal(t, "42", fields["purchase_id"])
		_, hasTrace := fields["trace_id"]
		assert.False(t, hasTrace)
	}
}

func TestWithContextWithoutIdentifiersReturnsBase(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE purchases SET status = 'completed'"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
