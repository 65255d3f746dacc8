package engine

import (
	"context"
	"fmt"

	"uptimeline/internal/domain"
)

const defaultScanLimit = 50

// CheckUpkeep looks for the earliest due, monitored domain whose balance covers
// a check. The scan is bounded by upkeep.scan_limit and changes nothing. A due
// domain that cannot be staffed is reported as unassignable and not needed.
func (e Engine) CheckUpkeep(ctx context.Context) (domain.UpkeepProbe, error) {
	ctx, span := tracer.Start(ctx, "upkeep.check")
	defer span.End()
	limit := e.Config.Upkeep.ScanLimit
	if limit <= 0 {
		limit = defaultScanLimit
	}
	due, err := e.Repo.DueDomains(ctx, nil, e.unix(), e.Config.Rewards.CheckCost, limit)
	if err != nil {
		return domain.UpkeepProbe{}, traceErr(span, fmt.Errorf("scan due domains: %w", err))
	}
	if len(due) == 0 {
		return domain.UpkeepProbe{}, nil
	}
	probe := domain.UpkeepProbe{DomainID: due[0].DomainID}
	active, err := e.Repo.CountActiveValidators(ctx, nil)
	if err != nil {
		return domain.UpkeepProbe{}, traceErr(span, err)
	}
	if required := e.Config.Consensus.RequiredValidators; active < required {
		probe.Unassignable = true
		probe.Reason = fmt.Sprintf("%d active validators, %d required", active, required)
		return probe, nil
	}
	probe.Needed = true
	return probe, nil
}

// PerformUpkeep starts exactly one due cycle. An empty domainID takes the
// domain CheckUpkeep reports. When the domain is no longer due, or cannot be
// started, nothing changes and the result says why; only internal failures
// are returned as errors.
func (e Engine) PerformUpkeep(ctx context.Context, domainID, caller string) (domain.UpkeepResult, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.UpkeepResult{}, err
	}
	if domainID == "" {
		probe, err := e.CheckUpkeep(ctx)
		if err != nil {
			return domain.UpkeepResult{}, err
		}
		if !probe.Needed {
			reason := probe.Reason
			if reason == "" {
				reason = "nothing due"
			}
			e.Metrics.UpkeepRun("idle")
			return domain.UpkeepResult{DomainID: probe.DomainID, Reason: reason}, nil
		}
		domainID = probe.DomainID
	}
	c, err := e.initiate(ctx, domainID, caller, initiation{via: "upkeep"})
	if err != nil {
		if KindOf(err) == KindInternal {
			e.Metrics.UpkeepRun("error")
			return domain.UpkeepResult{}, err
		}
		e.Metrics.UpkeepRun("skipped")
		e.logger().DebugContext(ctx, "upkeep skipped", "domain", domainID, "reason", err)
		return domain.UpkeepResult{DomainID: domainID, Reason: err.Error()}, nil
	}
	e.Metrics.UpkeepRun("performed")
	return domain.UpkeepResult{Performed: true, DomainID: domainID, Cycle: &c}, nil
}
