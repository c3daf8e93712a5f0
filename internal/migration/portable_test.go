package migration

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplyPortableSchemaIsRepeatable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:portable_schema?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ApplyPortableSchema(ctx, db))
	require.NoError(t, ApplyPortableSchema(ctx, db))

	for _, table := range []string{"courses", "learners", "purchases", "purchase_transitions", "learner_enrollments", "course_rosters"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestOpenPairIndexRejectsSecondPendingPurchase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:portable_pair?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, ApplyPortableSchema(context.Background(), db))

	insert := `INSERT INTO purchases (id, learner_id, course_id, amount, currency, status, provider, correlation_token, created_at, updated_at)
		VALUES (?, 'user_1', 10, 9000, 'usd', ?, 'mock', ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	require.NoError(t, db.Exec(insert, 1, "failed", "cs_1").Error)
	require.NoError(t, db.Exec(insert, 2, "pending", "cs_2").Error)
	require.Error(t, db.Exec(insert, 3, "pending", "cs_3").Error)
	require.Error(t, db.Exec(insert, 4, "expired", "cs_2").Error)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	require.NoError(t, err)
	require.Len(t, entries, 8)
}
