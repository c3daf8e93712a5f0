package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	"github.com/stretchr/testify/require"
)

func TestBuildEventParsesAsCompletion(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body, err := buildEvent(options{
		eventType:     "checkout.session.completed",
		token:         "cs_mock_1",
		paymentStatus: "paid",
		amount:        4900,
		currency:      "USD",
	}, now)
	require.NoError(t, err)

	event, err := webhook.ParseEvent("mock", body, now)
	require.NoError(t, err)
	require.Equal(t, "cs_mock_1", event.Meta().CorrelationToken)
}

func TestRunPostsSignedEvent(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webhooks/payments/mock", r.URL.Path)
		gotSig = r.Header.Get("Stripe-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), &out, options{
		target:        srv.URL,
		provider:      "mock",
		secret:        "whsec_test",
		header:        "Stripe-Signature",
		eventType:     "checkout.session.expired",
		token:         "cs_mock_2",
		paymentStatus: "unpaid",
		currency:      "usd",
		timeout:       time.Second,
	})
	require.NoError(t, err)
	require.Contains(t, gotSig, "v1=")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Equal(t, "checkout.session.expired", decoded["type"])
	require.Contains(t, out.String(), "200")
}

func TestRunRequiresSecret(t *testing.T) {
	err := run(context.Background(), io.Discard, options{token: "cs"})
	require.Error(t, err)
}
