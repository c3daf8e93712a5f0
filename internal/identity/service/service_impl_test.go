package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/identity/repository"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("identity-test-secret"))
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(testNow)
	svc := NewService(Params{
		DB:     testutil.NewTestDB(t),
		Log:    zap.NewNop(),
		Config: config.Config{Identity: config.IdentityConfig{WebhookSecret: testSecret}},
		Tuning: config.NewStaticTuningHolder(config.DefaultTuning()),
		Clock:  clk,
		Repo:   repository.Provide(),
	})
	return svc.(*Service), clk
}

func signed(t *testing.T, msgID string, at time.Time, payload []byte) http.Header {
	t.Helper()
	h, err := SignHeaders(testSecret, msgID, at, payload)
	require.NoError(t, err)
	return h
}

func userPayload(eventType, id, first, role string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"data":{"id":%q,"first_name":%q,"last_name":"Doe","image_url":"https://img/x.png","email_addresses":[{"email_address":"%s@example.com"}],"public_metadata":{"role":%q}}}`,
		eventType, id, first, id, role))
}

func TestUserCreatedUpsertsLearner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	payload := userPayload(domain.EventUserCreated, "user_1", "Jane", "educator")
	res, err := svc.HandleWebhook(ctx, payload, signed(t, "msg_1", testNow, payload))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, "user_1", res.LearnerID)

	learner, err := svc.GetLearner(ctx, "user_1")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", learner.Name)
	require.Equal(t, "user_1@example.com", learner.Email)
	require.Equal(t, "https://img/x.png", learner.ImageURL)
	require.Equal(t, domain.RoleEducator, learner.Role)

	// Redelivery is harmless.
	_, err = svc.HandleWebhook(ctx, payload, signed(t, "msg_1", testNow, payload))
	require.NoError(t, err)
}

func TestUserCreatedDefaultsNameAndRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	payload := []byte(`{"type":"user.created","data":{"id":"user_2","email_addresses":[]}}`)
	_, err := svc.HandleWebhook(ctx, payload, signed(t, "msg_2", testNow, payload))
	require.NoError(t, err)

	learner, err := svc.GetLearner(ctx, "user_2")
	require.NoError(t, err)
	require.Equal(t, "Anonymous", learner.Name)
	require.Equal(t, domain.RoleLearner, learner.Role)

	role, err := svc.RoleOf(ctx, "user_2")
	require.NoError(t, err)
	require.Equal(t, domain.RoleLearner, role)
}

func TestUserUpdatedChangesProfile(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	created := userPayload(domain.EventUserCreated, "user_3", "Sam", "")
	_, err := svc.HandleWebhook(ctx, created, signed(t, "msg_3a", testNow, created))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	updated := userPayload(domain.EventUserUpdated, "user_3", "Samira", "admin")
	res, err := svc.HandleWebhook(ctx, updated, signed(t, "msg_3b", clk.Now(), updated))
	require.NoError(t, err)
	require.True(t, res.Applied)

	learner, err := svc.GetLearner(ctx, "user_3")
	require.NoError(t, err)
	require.Equal(t, "Samira Doe", learner.Name)
	require.Equal(t, domain.RoleAdmin, learner.Role)
}

func TestUserUpdatedBeforeCreatedInsertsLearner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	updated := userPayload(domain.EventUserUpdated, "user_4", "Kim", "")
	res, err := svc.HandleWebhook(ctx, updated, signed(t, "msg_4", testNow, updated))
	require.NoError(t, err)
	require.True(t, res.Applied)

	_, err = svc.GetLearner(ctx, "user_4")
	require.NoError(t, err)
}

func TestUserDeletedSoftDeletes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created := userPayload(domain.EventUserCreated, "user_5", "Lee", "")
	_, err := svc.HandleWebhook(ctx, created, signed(t, "msg_5a", testNow, created))
	require.NoError(t, err)

	deleted := []byte(`{"type":"user.deleted","data":{"id":"user_5","deleted":true}}`)
	res, err := svc.HandleWebhook(ctx, deleted, signed(t, "msg_5b", testNow, deleted))
	require.NoError(t, err)
	require.True(t, res.Applied)

	_, err = svc.GetLearner(ctx, "user_5")
	require.ErrorIs(t, err, domain.ErrLearnerNotFound)
	_, err = svc.RoleOf(ctx, "user_5")
	require.ErrorIs(t, err, domain.ErrLearnerNotFound)

	row, err := svc.repo.FindByID(ctx, svc.db, "user_5")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NotNil(t, row.DeletedAt)

	// A late update does not revive the learner.
	updated := userPayload(domain.EventUserUpdated, "user_5", "Lee", "")
	res, err = svc.HandleWebhook(ctx, updated, signed(t, "msg_5c", testNow, updated))
	require.NoError(t, err)
	require.False(t, res.Applied)
	_, err = svc.GetLearner(ctx, "user_5")
	require.ErrorIs(t, err, domain.ErrLearnerNotFound)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	svc, _ := newTestService(t)

	payload := []byte(`{"type":"session.created","data":{"id":"sess_1"}}`)
	res, err := svc.HandleWebhook(context.Background(), payload, signed(t, "msg_6", testNow, payload))
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, "session.created", res.Type)
}

func TestWebhookRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := userPayload(domain.EventUserCreated, "user_7", "Ana", "")

	t.Run("missing headers", func(t *testing.T) {
		_, err := svc.HandleWebhook(ctx, payload, http.Header{})
		require.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		h := signed(t, "msg_7", testNow, payload)
		_, err := svc.HandleWebhook(ctx, append([]byte{' '}, payload...), h)
		require.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := "whsec_" + base64.StdEncoding.EncodeToString([]byte("another-secret"))
		h, err := SignHeaders(other, "msg_7", testNow, payload)
		require.NoError(t, err)
		_, err = svc.HandleWebhook(ctx, payload, h)
		require.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		_, err := svc.HandleWebhook(ctx, payload, signed(t, "msg_7", testNow.Add(-6*time.Minute), payload))
		require.ErrorIs(t, err, domain.ErrStaleTimestamp)
	})

	t.Run("malformed json", func(t *testing.T) {
		body := []byte(`{"type":`)
		_, err := svc.HandleWebhook(ctx, body, signed(t, "msg_7", testNow, body))
		require.ErrorIs(t, err, domain.ErrMalformedPayload)
	})

	t.Run("missing user id", func(t *testing.T) {
		body := []byte(`{"type":"user.created","data":{}}`)
		_, err := svc.HandleWebhook(ctx, body, signed(t, "msg_7", testNow, body))
		require.ErrorIs(t, err, domain.ErrMalformedPayload)
	})

	_, err := svc.GetLearner(ctx, "user_7")
	require.ErrorIs(t, err, domain.ErrLearnerNotFound)
}

func TestSignatureListAcceptsAnyMatchingEntry(t *testing.T) {
	svc, _ := newTestService(t)
	payload := userPayload(domain.EventUserCreated, "user_8", "Rui", "")

	h := signed(t, "msg_8", testNow, payload)
	h.Set(HeaderSignature, "v1,bm90LWEtc2lnbmF0dXJl v2,ignored "+h.Get(HeaderSignature))
	res, err := svc.HandleWebhook(context.Background(), payload, h)
	require.NoError(t, err)
	require.True(t, res.Applied)
}

func TestDecodeSecret(t *testing.T) {
	key, err := DecodeSecret(testSecret)
	require.NoError(t, err)
	require.Equal(t, []byte("identity-test-secret"), key)

	key, err = DecodeSecret(base64.StdEncoding.EncodeToString([]byte("raw")))
	require.NoError(t, err)
	require.Equal(t, []byte("raw"), key)

	_, err = DecodeSecret("")
	require.Error(t, err)
	_, err = DecodeSecret("whsec_***")
	require.Error(t, err)
}

func TestParseRole(t *testing.T) {
	require.Equal(t, domain.RoleAdmin, domain.ParseRole(" Admin "))
	require.Equal(t, domain.RoleEducator, domain.ParseRole("educator"))
	require.Equal(t, domain.RoleLearner, domain.ParseRole("owner"))
	require.Equal(t, domain.RoleLearner, domain.ParseRole(""))
}
