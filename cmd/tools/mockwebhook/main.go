package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	"github.com/spf13/cobra"
)

type options struct {
	target        string
	provider      string
	secret        string
	header        string
	eventType     string
	token         string
	paymentStatus string
	amount        int64
	currency      string
	timeout       time.Duration
	dryRun        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "mockwebhook",
		Short: "Send a signed checkout-session event to a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.target, "target", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.provider, "provider", "mock", "provider path segment")
	flags.StringVar(&opts.secret, "secret", os.Getenv("STRIPE_WEBHOOK_SECRET"), "signing secret")
	flags.StringVar(&opts.header, "header", "Stripe-Signature", "signature header name")
	flags.StringVar(&opts.eventType, "type", "checkout.session.completed", "event type")
	flags.StringVar(&opts.token, "token", "", "correlation token (checkout session id)")
	flags.StringVar(&opts.paymentStatus, "payment-status", "paid", "payment_status on the session object")
	flags.Int64Var(&opts.amount, "amount", 0, "amount_total in minor units")
	flags.StringVar(&opts.currency, "currency", "usd", "currency code")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the signed request instead of sending it")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func buildEvent(opts options, now time.Time) ([]byte, error) {
	session := map[string]any{
		"id":             opts.token,
		"payment_status": opts.paymentStatus,
		"currency":       strings.ToLower(opts.currency),
	}
	if opts.amount > 0 {
		session["amount_total"] = opts.amount
	}
	return json.Marshal(map[string]any{
		"id":      "evt_" + strings.ToLower(ulid.Make().String()),
		"type":    opts.eventType,
		"created": now.Unix(),
		"data":    map[string]any{"object": session},
	})
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if strings.TrimSpace(opts.secret) == "" {
		return fmt.Errorf("a signing secret is required (--secret or STRIPE_WEBHOOK_SECRET)")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now()
	body, err := buildEvent(opts, now)
	if err != nil {
		return err
	}
	signature := webhook.SignPayload(opts.secret, body, now)
	url := strings.TrimRight(opts.target, "/") + "/webhooks/payments/" + opts.provider

	if opts.dryRun {
		fmt.Fprintf(out, "POST %s\n%s: %s\n\n%s\n", url, opts.header, signature, body)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(opts.header, signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Fprintf(out, "%s\n%s\n", resp.Status, respBody)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected event: %s", resp.Status)
	}
	return nil
}
