package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/audit/repository"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, db, fake
}

func TestRecordMasksTokensAndListsInOrder(t *testing.T) {
	svc, db, fake := newTestService(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Record(ctx, tx, domain.RecordRequest{
			PurchaseID: 101,
			FromStatus: "pending",
			ToStatus:   "completed",
			Source:     domain.SourceWebhook,
			EventID:    "evt_1",
			Metadata:   map[string]any{"correlation_token": "cs_test_abcdef123456"},
		})
	})
	require.NoError(t, err)

	fake.Advance(time.Minute)
	require.NoError(t, svc.Record(ctx, nil, domain.RecordRequest{
		PurchaseID: 101,
		FromStatus: "completed",
		ToStatus:   "completed",
		Source:     domain.SourceRepair,
	}))

	resp, err := svc.List(ctx, domain.ListTransitionsRequest{PurchaseID: 101})
	require.NoError(t, err)
	require.Len(t, resp.Transitions, 2)
	require.Equal(t, domain.SourceWebhook, resp.Transitions[0].Source)
	require.Equal(t, "cs_test_****3456", resp.Transitions[0].Metadata["correlation_token"])
	require.Equal(t, domain.SourceRepair, resp.Transitions[1].Source)
	require.False(t, resp.HasMore)
}

func TestRecordRolledBackWithTransaction(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Record(ctx, tx, domain.RecordRequest{
			PurchaseID: 7,
			FromStatus: "pending",
			ToStatus:   "failed",
			Source:     domain.SourceSweeper,
		}))
		return gorm.ErrInvalidTransaction
	})

	resp, err := svc.List(ctx, domain.ListTransitionsRequest{PurchaseID: 7})
	require.NoError(t, err)
	require.Empty(t, resp.Transitions)
}

func TestListPaginates(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fake.Advance(time.Second)
		require.NoError(t, svc.Record(ctx, nil, domain.RecordRequest{
			PurchaseID: 9,
			FromStatus: "pending",
			ToStatus:   "expired",
			Source:     domain.SourceSweeper,
		}))
	}

	first, err := svc.List(ctx, domain.ListTransitionsRequest{PurchaseID: 9, Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	require.Len(t, first.Transitions, 2)
	require.True(t, first.HasMore)

	second, err := svc.List(ctx, domain.ListTransitionsRequest{PurchaseID: 9, Pagination: paginationOf(first.NextPageToken, 2)})
	require.NoError(t, err)
	require.Len(t, second.Transitions, 1)
	require.False(t, second.HasMore)
}

func TestRecordRejectsUnknownSource(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Record(context.Background(), nil, domain.RecordRequest{PurchaseID: 1, Source: "manual"})
	require.ErrorIs(t, err, domain.ErrInvalidSource)

	_, err = svc.List(context.Background(), domain.ListTransitionsRequest{PurchaseID: 1, Pagination: paginationOf("not-a-token", 0)})
	require.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
