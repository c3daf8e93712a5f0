package domain

import "time"

type Kind string

const (
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindPaymentFailed    Kind = "payment_failed"
	KindSessionExpired   Kind = "session_expired"
)

// EventMeta is the provider-agnostic envelope shared by every event kind.
type EventMeta struct {
	Provider         string
	EventID          string
	Type             string
	CorrelationToken string
	OccurredAt       time.Time
	ReceivedAt       time.Time
	Payload          []byte
}

func (m EventMeta) Meta() EventMeta { return m }

// Event is a verified processor outcome. The set of kinds is closed.
type Event interface {
	Meta() EventMeta
	Kind() Kind
	isEvent()
}

type PaymentSucceeded struct {
	EventMeta
	AmountTotal int64
	Currency    string
}

func (PaymentSucceeded) Kind() Kind { return KindPaymentSucceeded }
func (PaymentSucceeded) isEvent()   {}

type PaymentFailed struct {
	EventMeta
	Reason string
}

func (PaymentFailed) Kind() Kind { return KindPaymentFailed }
func (PaymentFailed) isEvent()   {}

type SessionExpired struct {
	EventMeta
}

func (SessionExpired) Kind() Kind { return KindSessionExpired }
func (SessionExpired) isEvent()   {}

// Outcome reports what applying an event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)
