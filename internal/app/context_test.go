package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptimeline/internal/config"
	"uptimeline/internal/db"
	"uptimeline/internal/migrate"
	"uptimeline/internal/repo"
)

func newRepo(t *testing.T, workspace string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func TestResolveConfigSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, t.TempDir())

	cfg, err := ResolveConfig(ctx, r, "", "")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Network.ID)

	_, err = ResolveConfig(ctx, r, "", "other")
	require.Error(t, err)
}

func TestResolveConfigSeedsFromWorkspaceFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	doc := "network:\n  id: staging\nconsensus:\n  required_validators: 3\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(doc), 0o644))
	r := newRepo(t, dir)

	cfg, err := ResolveConfig(ctx, r, dir, "")
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Network.ID)
	assert.Equal(t, 3, cfg.Consensus.RequiredValidators)

	stored, err := r.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "staging", stored.Network.ID)
}

func TestImportConfigKeepsNetwork(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, t.TempDir())
	_, err := ResolveConfig(ctx, r, "", "net-a")
	require.NoError(t, err)

	require.Error(t, ImportConfig(ctx, r, config.Default("net-b")))

	next := config.Default("net-a")
	next.Rewards.RewardPerCheck = 42
	require.NoError(t, ImportConfig(ctx, r, next))
	got, err := r.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Rewards.RewardPerCheck)
}
