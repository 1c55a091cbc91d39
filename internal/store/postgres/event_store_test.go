package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://app:pw@db:5432/predictx?sslmode=disable",
		postgres.DSN(postgres.ClientConfig{User: "app", Password: "pw", Host: "db", Database: "predictx"}))

	assert.Equal(t,
		"postgres://u:p@h:6543/d?sslmode=require",
		postgres.DSN(postgres.ClientConfig{User: "u", Password: "p", Host: "h", Port: 6543, Database: "d", SSLMode: "require"}))

	assert.Equal(t,
		"postgres://u:p%40ss%20w@h:5432/d?sslmode=disable",
		postgres.DSN(postgres.ClientConfig{User: "u", Password: "p@ss w", Host: "h", Database: "d"}))

	assert.Equal(t, "postgres://explicit", postgres.DSN(postgres.ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func liveStore(t *testing.T) *postgres.EventStore {
	t.Helper()
	dsn := os.Getenv("PREDICTX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PREDICTX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := postgres.New(ctx, postgres.ClientConfig{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return postgres.NewEventStore(c.Pool())
}

func TestEventStoreDeliverAndList(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()

	marketID := "it-" + uuid.NewString()[:8]
	inv := uuid.New()
	events := []domain.Event{
		{InvocationID: inv, Index: 0, Name: "MarketCreated", Timestamp: 1, Payload: domain.MarketCreated{MarketID: marketID}},
		{InvocationID: inv, Index: 1, Name: "MarketResolved", Timestamp: 1, Payload: domain.MarketResolved{MarketID: marketID, Outcome: true}},
	}
	require.NoError(t, store.Deliver(ctx, events))
	require.NoError(t, store.Deliver(ctx, events), "redelivery is ignored")

	got, err := store.List(ctx, domain.ListOpts{MarketID: marketID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MarketResolved", got[0].Name)
	assert.Equal(t, inv, got[0].InvocationID)

	named, err := store.List(ctx, domain.ListOpts{MarketID: marketID, Name: "MarketCreated"})
	require.NoError(t, err)
	require.Len(t, named, 1)

	old, err := store.ListBefore(ctx, time.Now().Add(time.Hour), 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, old)
}
