package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusPending.IsTerminal())
	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.True(t, StatusExpired.IsTerminal())
	require.False(t, Status("refunded").Valid())
	require.True(t, StatusPending.Valid())
}
