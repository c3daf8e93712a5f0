package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	require.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	require.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.True(t, IsDuplicateKeyErr(errors.New("constraint failed: UNIQUE constraint failed: purchases.correlation_token (2067)")))
	require.True(t, IsDuplicateKeyErr(errors.New("Error 1062 (23000): Duplicate entry")))
	require.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "40001"}))
	require.False(t, IsDuplicateKeyErr(nil))
}

func TestIsLockNotAvailable(t *testing.T) {
	require.True(t, IsLockNotAvailable(&pgconn.PgError{Code: "55P03"}))
	require.False(t, IsLockNotAvailable(errors.New("timeout")))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	require.Error(t, err)

	d, err := Dialect(Config{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())
}
