package domain

import (
	"context"
	"time"
)

//go:generate mockgen -source=processor.go -destination=../mocks/mock_processor.go -package=mocks

// Processor is the outbound surface of a payment processor.
type Processor interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	GetSessionStatus(ctx context.Context, correlationToken string) (SessionStatus, error)
	ExpireSession(ctx context.Context, correlationToken string) error
}

type CheckoutSessionRequest struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	ProductName    string
	SuccessURL     string
	CancelURL      string
	ClientRefID    string
	Metadata       map[string]string
	ExpiresAt      time.Time
}

type CheckoutSession struct {
	CorrelationToken string
	URL              string
	ExpiresAt        time.Time
}

type SessionStatus string

const (
	SessionStatusOpen    SessionStatus = "open"
	SessionStatusPaid    SessionStatus = "paid"
	SessionStatusFailed  SessionStatus = "failed"
	SessionStatusExpired SessionStatus = "expired"
)

// MetadataPurchaseID is the checkout metadata key carrying the purchase id.
const MetadataPurchaseID = "purchase_id"
