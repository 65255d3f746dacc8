package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("net-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "net-1", cfg.Network.ID)
	assert.Equal(t, 1, cfg.Consensus.RequiredValidators)
	assert.Equal(t, int64(100), cfg.Staking.MinStake)
	assert.Equal(t, "uptimeline.events", cfg.Relay.NATS.Subject)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte(`network:
  id: lab
consensus:
  required_validators: 3
  submission_window_seconds: 90
`))
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.Network.ID)
	assert.Equal(t, 3, cfg.Consensus.RequiredValidators)
	assert.Equal(t, int64(90), cfg.SubmissionWindow(600))
	assert.Equal(t, int64(10), cfg.Rewards.RewardPerCheck)
	assert.Equal(t, 50, cfg.Upkeep.ScanLimit)
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing network": "staking:\n  min_stake: 1\n",
		"zero quorum":     "network:\n  id: x\nconsensus:\n  required_validators: 0\n",
		"bad interval":    "network:\n  id: x\nstaking:\n  min_interval_seconds: 0\n",
		"webhook url":     "network:\n  id: x\nwebhooks:\n  - events: [cycle.finalized]\n",
		"nats subject":    "network:\n  id: x\nrelay:\n  nats:\n    url: nats://127.0.0.1:4222\n    subject: \"\"\n",
		"not yaml":        "network: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestSubmissionWindowFallsBackToInterval(t *testing.T) {
	cfg := Default("net")
	assert.Equal(t, int64(60), cfg.SubmissionWindow(60))
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "uptimeline.yml"), []byte(GenerateDefault("ws")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ws", cfg.Network.ID)
}
