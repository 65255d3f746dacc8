package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"uptimeline/internal/config"
	"uptimeline/internal/repo"
)

// ResolveConfig returns the config stored in the database. On first use it is
// seeded from the workspace uptimeline.yml when present, defaults otherwise.
// A non-empty networkOverride seeds a fresh workspace under that id and must
// match the stored network otherwise.
func ResolveConfig(ctx context.Context, r repo.Repo, workspace, networkOverride string) (*config.Config, error) {
	networkOverride = strings.TrimSpace(networkOverride)
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		if networkOverride != "" && cfg.Network.ID != networkOverride {
			return nil, fmt.Errorf("workspace belongs to network %s, not %s", cfg.Network.ID, networkOverride)
		}
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		if networkOverride != "" && seed.Network.ID != networkOverride {
			return nil, fmt.Errorf("%s declares network %s, not %s", config.Path(workspace), seed.Network.ID, networkOverride)
		}
	} else {
		networkID := networkOverride
		if networkID == "" {
			networkID = "local"
		}
		seed = config.Default(networkID)
	}
	if err := r.UpsertConfig(ctx, nil, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}

// ImportConfig replaces the stored config, keeping the workspace network id.
func ImportConfig(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	current, err := r.GetConfig(ctx)
	switch {
	case err == nil:
		if cfg.Network.ID != current.Network.ID {
			return fmt.Errorf("config network %s does not match workspace network %s", cfg.Network.ID, current.Network.ID)
		}
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	return r.UpsertConfig(ctx, nil, cfg)
}
