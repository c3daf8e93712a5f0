package webhook

import (
	"encoding/json"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
)

const (
	typeSessionCompleted      = "checkout.session.completed"
	typeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	typeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	typeSessionExpired        = "checkout.session.expired"
)

type envelope struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Created int64        `json:"created"`
	Data    envelopeData `json:"data"`
}

type envelopeData struct {
	Object json.RawMessage `json:"object"`
}

type checkoutSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseEvent turns an authenticated body into a typed event. Authentic but
// irrelevant events return ErrIgnoredEvent.
func ParseEvent(provider string, payload []byte, receivedAt time.Time) (paymentdomain.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, paymentdomain.ErrMalformedPayload
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" || env.Type == "" || env.Created <= 0 || !isObject(env.Data.Object) {
		return nil, paymentdomain.ErrMalformedPayload
	}

	switch env.Type {
	case typeSessionCompleted, typeAsyncPaymentSucceeded, typeAsyncPaymentFailed, typeSessionExpired:
	default:
		return nil, paymentdomain.ErrIgnoredEvent
	}

	var session checkoutSession
	if err := json.Unmarshal(env.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrMalformedPayload
	}
	token := strings.TrimSpace(session.ID)
	if token == "" {
		return nil, paymentdomain.ErrMalformedPayload
	}

	meta := paymentdomain.EventMeta{
		Provider:         provider,
		EventID:          env.ID,
		Type:             env.Type,
		CorrelationToken: token,
		OccurredAt:       time.Unix(env.Created, 0).UTC(),
		ReceivedAt:       receivedAt.UTC(),
		Payload:          payload,
	}

	switch env.Type {
	case typeSessionCompleted:
		if session.PaymentStatus != "paid" && session.PaymentStatus != "no_payment_required" {
			// Delayed payment methods settle later via async_payment_*.
			return nil, paymentdomain.ErrIgnoredEvent
		}
		return succeeded(meta, session), nil
	case typeAsyncPaymentSucceeded:
		return succeeded(meta, session), nil
	case typeAsyncPaymentFailed:
		return paymentdomain.PaymentFailed{EventMeta: meta, Reason: "async_payment_failed"}, nil
	default:
		return paymentdomain.SessionExpired{EventMeta: meta}, nil
	}
}

func succeeded(meta paymentdomain.EventMeta, session checkoutSession) paymentdomain.PaymentSucceeded {
	return paymentdomain.PaymentSucceeded{
		EventMeta:   meta,
		AmountTotal: session.AmountTotal,
		Currency:    strings.ToLower(strings.TrimSpace(session.Currency)),
	}
}

func isObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}
