package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	all, err := pendingMigrations(nil)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "001_events.sql", all[0])
	assert.IsNonDecreasing(t, all)

	rest, err := pendingMigrations(all[:1])
	require.NoError(t, err)
	assert.Len(t, rest, len(all)-1)
	assert.NotContains(t, rest, all[0])
}
