// Package mock is an in-process processor for local development and tests.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/coursemart/internal/payment/domain"
)

const (
	ProviderName = "mock"
	TokenPrefix  = "mock_cs_"
)

type session struct {
	request domain.CheckoutSessionRequest
	status  domain.SessionStatus
}

type Processor struct {
	origin string

	mu          sync.Mutex
	sessions    map[string]*session
	idempotency map[string]string
	failNext    error
}

// New returns a processor whose checkout URLs point at origin.
func New(origin string) *Processor {
	return &Processor{
		origin:      strings.TrimRight(strings.TrimSpace(origin), "/"),
		sessions:    map[string]*session{},
		idempotency: map[string]string{},
	}
}

func (p *Processor) Name() string { return ProviderName }

func (p *Processor) CreateCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return domain.CheckoutSession{}, domain.ErrUpstreamRejected
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return domain.CheckoutSession{}, err
	}

	if token, ok := p.idempotency[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return p.view(token), nil
	}

	token := TokenPrefix + strings.ToLower(ulid.Make().String())
	p.sessions[token] = &session{request: req, status: domain.SessionStatusOpen}
	if req.IdempotencyKey != "" {
		p.idempotency[req.IdempotencyKey] = token
	}
	return p.view(token), nil
}

func (p *Processor) GetSessionStatus(ctx context.Context, correlationToken string) (domain.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return "", err
	}
	s, ok := p.sessions[correlationToken]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	return s.status, nil
}

func (p *Processor) ExpireSession(ctx context.Context, correlationToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return err
	}
	s, ok := p.sessions[correlationToken]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.status == domain.SessionStatusOpen {
		s.status = domain.SessionStatusExpired
	}
	return nil
}

// SetStatus moves a session to status, as the hosted checkout page would.
func (p *Processor) SetStatus(correlationToken string, status domain.SessionStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[correlationToken]
	if !ok {
		return false
	}
	s.status = status
	return true
}

// FailNext makes the next call return err.
func (p *Processor) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// Session returns the request a session was created with.
func (p *Processor) Session(correlationToken string) (domain.CheckoutSessionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[correlationToken]
	if !ok {
		return domain.CheckoutSessionRequest{}, false
	}
	return s.request, true
}

func (p *Processor) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

func (p *Processor) view(token string) domain.CheckoutSession {
	s := p.sessions[token]
	expiresAt := s.request.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(time.Hour)
	}
	return domain.CheckoutSession{
		CorrelationToken: token,
		URL:              p.origin + "/mock-checkout/" + token,
		ExpiresAt:        expiresAt,
	}
}
