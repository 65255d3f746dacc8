// Package keeper is the periodic trigger that drives due checks.
package keeper

import (
	"context"
	"log/slog"
	"time"

	"uptimeline/internal/domain"
)

const (
	defaultInterval   = 120 * time.Second
	defaultMaxPerTick = 10
)

// Upkeeper is the probe/execute pair exposed by the engine and by the API client.
type Upkeeper interface {
	CheckUpkeep(ctx context.Context) (domain.UpkeepProbe, error)
	PerformUpkeep(ctx context.Context, domainID, caller string) (domain.UpkeepResult, error)
}

type Keeper struct {
	Target Upkeeper
	// Identity is the caller recorded on cycles the keeper starts.
	Identity   string
	Interval   time.Duration
	MaxPerTick int
	Logger     *slog.Logger
}

// Run ticks until ctx is cancelled. Tick errors are logged and the loop goes on.
func (k Keeper) Run(ctx context.Context) error {
	interval := k.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	k.logger().InfoContext(ctx, "keeper started", "identity", k.Identity, "interval", interval)
	for {
		if _, err := k.Tick(ctx); err != nil && ctx.Err() == nil {
			k.logger().WarnContext(ctx, "keeper tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick starts due cycles one at a time until nothing is due, an upkeep is
// declined or MaxPerTick cycles were started. It returns the started cycles.
func (k Keeper) Tick(ctx context.Context) ([]domain.Cycle, error) {
	limit := k.MaxPerTick
	if limit <= 0 {
		limit = defaultMaxPerTick
	}
	var started []domain.Cycle
	for len(started) < limit {
		probe, err := k.Target.CheckUpkeep(ctx)
		if err != nil {
			return started, err
		}
		if !probe.Needed {
			if probe.Unassignable {
				k.logger().WarnContext(ctx, "due domain cannot be staffed", "domain", probe.DomainID, "reason", probe.Reason)
			}
			return started, nil
		}
		res, err := k.Target.PerformUpkeep(ctx, probe.DomainID, k.Identity)
		if err != nil {
			return started, err
		}
		if !res.Performed || res.Cycle == nil {
			k.logger().InfoContext(ctx, "upkeep declined", "domain", probe.DomainID, "reason", res.Reason)
			return started, nil
		}
		k.logger().InfoContext(ctx, "cycle started", "domain", res.DomainID, "cycle", res.Cycle.ID)
		started = append(started, *res.Cycle)
	}
	return started, nil
}

func (k Keeper) logger() *slog.Logger {
	if k.Logger != nil {
		return k.Logger
	}
	return slog.Default()
}
