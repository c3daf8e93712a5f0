package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
)

const (
	DefaultSignatureHeader = "Stripe-Signature"
	DefaultTolerance       = 5 * time.Minute
)

// Verifier authenticates processor callbacks. It never touches the ledger.
type Verifier struct {
	provider  string
	header    string
	secrets   [][]byte
	tolerance func() time.Duration
	clock     clock.Clock
}

type VerifierConfig struct {
	Provider  string
	Header    string
	Secrets   []string
	Tolerance func() time.Duration
	Clock     clock.Clock
}

func NewVerifier(cfg VerifierConfig) *Verifier {
	secrets := make([][]byte, 0, len(cfg.Secrets))
	for _, secret := range cfg.Secrets {
		if trimmed := strings.TrimSpace(secret); trimmed != "" {
			secrets = append(secrets, []byte(trimmed))
		}
	}
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = DefaultSignatureHeader
	}
	tolerance := cfg.Tolerance
	if tolerance == nil {
		tolerance = func() time.Duration { return DefaultTolerance }
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Verifier{
		provider:  strings.ToLower(strings.TrimSpace(cfg.Provider)),
		header:    header,
		secrets:   secrets,
		tolerance: tolerance,
		clock:     clk,
	}
}

// Verify checks the signature, then the timestamp tolerance, then parses the body.
func (v *Verifier) Verify(ctx context.Context, payload []byte, headers http.Header) (paymentdomain.Event, error) {
	if err := v.authenticate(payload, headers); err != nil {
		return nil, err
	}
	return ParseEvent(v.provider, payload, v.clock.Now())
}

func (v *Verifier) authenticate(payload []byte, headers http.Header) error {
	if len(v.secrets) == 0 {
		return paymentdomain.ErrInvalidSignature
	}
	raw := strings.TrimSpace(headers.Get(v.header))
	if raw == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sig, err := ParseSignatureHeader(raw)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	matched := false
	for _, secret := range v.secrets {
		if sig.matches(secret, payload) {
			matched = true
			break
		}
	}
	if !matched {
		return paymentdomain.ErrInvalidSignature
	}

	drift := v.clock.Now().Sub(sig.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.tolerance() {
		return paymentdomain.ErrStaleTimestamp
	}
	return nil
}
