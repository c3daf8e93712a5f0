// Package context carries request-scoped identifiers used to enrich logs and spans.
package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type purchaseIDKey struct{}

type actor struct {
	typ string
	id  string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithActor records who is acting: a learner, an operator or the system.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	a, _ := ctx.Value(actorKey{}).(actor)
	return a.typ, a.id
}

func WithPurchaseID(ctx context.Context, purchaseID string) context.Context {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return ctx
	}
	return context.WithValue(ctx, purchaseIDKey{}, purchaseID)
}

func PurchaseIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(purchaseIDKey{}).(string)
	return v
}
