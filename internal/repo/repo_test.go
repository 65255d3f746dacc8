package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptimeline/internal/config"
	"uptimeline/internal/db"
	"uptimeline/internal/domain"
	"uptimeline/internal/migrate"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}
}

func TestConfigRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, err := r.GetConfig(ctx)
	require.True(t, errors.Is(err, ErrNotFound))

	cfg := config.Default("net-9")
	cfg.Consensus.RequiredValidators = 3
	require.NoError(t, r.UpsertConfig(ctx, nil, cfg))
	got, err := r.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "net-9", got.Network.ID)
	assert.Equal(t, 3, got.Consensus.RequiredValidators)
}

func TestDueDomainsOrderAndFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	add := func(id string, balance, interval, last int64, monitored bool) {
		require.NoError(t, r.InsertDomain(ctx, nil, domain.Domain{
			ID: id, Owner: "o", Balance: balance, IntervalSeconds: interval, Monitored: monitored,
			RegisteredAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
		}))
		require.NoError(t, r.InsertSchedule(ctx, nil, domain.Schedule{DomainID: id, IntervalSeconds: interval, LastScheduled: last}))
	}
	add("late.io", 100, 60, 900, true)   // due at 960
	add("early.io", 100, 60, 800, true)  // due at 860
	add("future.io", 100, 60, 990, true) // due at 1050
	add("broke.io", 5, 60, 0, true)
	add("paused.io", 100, 60, 0, false)

	due, err := r.DueDomains(ctx, nil, 1000, 10, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early.io", due[0].DomainID)
	assert.Equal(t, int64(860), due[0].NextDueAt)
	assert.Equal(t, "late.io", due[1].DomainID)

	due, err = r.DueDomains(ctx, nil, 1000, 10, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1, "scan is bounded")
}

func TestMustAffectMapsMissingRows(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	err := r.SetDomainBalance(ctx, nil, "nope", 1, "2024-01-01T00:00:00Z")
	assert.ErrorIs(t, err, ErrNotFound)
	err = r.CompleteJob(ctx, nil, 42, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeys(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	key := domain.APIKey{ID: "k1", ActorID: "v1", Name: "ci", KeyHash: HashAPIKey("secret"), CreatedAt: "2024-01-01T00:00:00Z"}
	require.NoError(t, r.InsertAPIKey(ctx, nil, key))

	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey("secret"))
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ActorID)

	keys, err := r.ListAPIKeys(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), ErrNotFound)
}
