package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"uptimeline/internal/domain"
	"uptimeline/internal/events"
	"uptimeline/internal/repo"
)

const defaultRecentCycles = 10

// settlement is what a finalization produced, reported once the transaction commits.
type settlement struct {
	cycle      domain.Cycle
	verdict    Verdict
	paid       int
	shortfalls int
	stakeShort bool
}

// initiation controls which preconditions a cycle start enforces.
type initiation struct {
	// ownerMayForce lets the domain owner start a cycle before it is due.
	ownerMayForce bool
	via           string
}

// InitiateCheckCycle opens the next cycle of domainID and seats the required
// number of validators from the rotation. The owner may start a cycle early;
// anybody else has to wait until the domain is due.
func (e Engine) InitiateCheckCycle(ctx context.Context, domainID, caller string) (domain.Cycle, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Cycle{}, err
	}
	return e.initiate(ctx, domainID, caller, initiation{ownerMayForce: true, via: "direct"})
}

func (e Engine) initiate(ctx context.Context, domainID, caller string, opts initiation) (domain.Cycle, error) {
	if err := e.settleExpired(ctx, domainID, caller); err != nil {
		return domain.Cycle{}, err
	}
	var (
		c          domain.Cycle
		superseded *settlement
	)
	err := e.write(ctx, "aggregator.initiate", domainAttr(domainID), func(ctx context.Context, tx *sql.Tx) error {
		d, err := e.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if !d.Monitored {
			return fmt.Errorf("domain %s: %w", domainID, ErrNotMonitored)
		}
		sched, err := e.Repo.GetSchedule(ctx, tx, domainID)
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}
		now := e.unix()
		if now < sched.NextDueAt && !(opts.ownerMayForce && caller == d.Owner) {
			return fmt.Errorf("domain %s due at %d: %w", domainID, sched.NextDueAt, ErrCheckNotDue)
		}
		required := e.Config.Consensus.RequiredValidators
		active, err := e.Repo.CountActiveValidators(ctx, tx)
		if err != nil {
			return err
		}
		if active < required {
			return fmt.Errorf("%w: %d active, %d required", ErrNoActiveValidators, active, required)
		}
		if superseded, err = e.supersedeTx(ctx, tx, domainID, caller); err != nil {
			return err
		}
		if superseded != nil {
			if d, err = e.loadDomain(ctx, tx, domainID); err != nil {
				return err
			}
		}
		if d.Balance < e.Config.Rewards.CheckCost {
			return fmt.Errorf("domain %s: %w: balance %d, check cost %d", domainID, ErrInsufficientBalance, d.Balance, e.Config.Rewards.CheckCost)
		}
		stats, err := e.Repo.GetStats(ctx, tx, domainID)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		c = domain.Cycle{
			DomainID:  domainID,
			ID:        stats.CurrentCycleID + 1,
			StartedAt: now,
			Deadline:  now + e.Config.SubmissionWindow(d.IntervalSeconds),
			Required:  required,
			Phase:     domain.PhaseOpen,
		}
		if err := e.Repo.InsertCycle(ctx, tx, c); err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
		for i := 0; i < required; i++ {
			job, err := e.assignJobTx(ctx, tx, d, c.ID, caller)
			if err != nil {
				return err
			}
			if err := e.Repo.InsertAssignment(ctx, tx, domainID, c.ID, job.ValidatorID, job.ID); err != nil {
				return fmt.Errorf("seat %s: %w", job.ValidatorID, err)
			}
			c.Validators = append(c.Validators, job.ValidatorID)
		}
		if err := e.Repo.TouchSchedule(ctx, tx, domainID, now); err != nil {
			return err
		}
		stats.CurrentCycleID = c.ID
		if err := e.Repo.SaveStats(ctx, tx, stats); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.CycleInitiated, "domain", domainID, caller, events.EventPayload{
			"cycle_id":   c.ID,
			"deadline":   c.Deadline,
			"required":   c.Required,
			"validators": c.Validators,
			"via":        opts.via,
		}); err != nil {
			return err
		}
		if opts.via == "upkeep" {
			return e.Events.Append(ctx, tx, events.UpkeepPerformed, "domain", domainID, caller, events.EventPayload{"cycle_id": c.ID})
		}
		return nil
	})
	if err != nil {
		return domain.Cycle{}, err
	}
	e.report(ctx, superseded)
	e.Metrics.CycleOpened()
	e.logger().InfoContext(ctx, "cycle initiated", "domain", domainID, "cycle", c.ID, "validators", c.Validators, "deadline", c.Deadline, "via", opts.via)
	return c, nil
}

// settleExpired finalizes the latest cycle of domainID when its deadline has
// passed with at least one vote. Anything else is left alone.
func (e Engine) settleExpired(ctx context.Context, domainID, caller string) error {
	var s *settlement
	err := e.write(ctx, "aggregator.settle", domainAttr(domainID), func(ctx context.Context, tx *sql.Tx) error {
		stats, err := e.Repo.GetStats(ctx, tx, domainID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && stats.CurrentCycleID == 0) {
			return nil
		}
		if err != nil {
			return err
		}
		c, err := e.Repo.GetCycle(ctx, tx, domainID, stats.CurrentCycleID)
		if err != nil {
			return err
		}
		if c.Finalized || c.Submitted == 0 || e.unix() <= c.Deadline {
			return nil
		}
		s, err = e.finalizeTx(ctx, tx, c, caller)
		return err
	})
	if err != nil {
		return err
	}
	e.report(ctx, s)
	return nil
}

// supersedeTx finalizes the current cycle of domainID ahead of its successor
// when it holds at least one vote, whatever its deadline. A superseded cycle
// without votes stays unfinalized and stops accepting submissions.
func (e Engine) supersedeTx(ctx context.Context, tx *sql.Tx, domainID, caller string) (*settlement, error) {
	stats, err := e.Repo.GetStats(ctx, tx, domainID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	if stats.CurrentCycleID == 0 {
		return nil, nil
	}
	prev, err := e.Repo.GetCycle(ctx, tx, domainID, stats.CurrentCycleID)
	if err != nil {
		return nil, err
	}
	if prev.Finalized || prev.Submitted == 0 {
		return nil, nil
	}
	return e.finalizeTx(ctx, tx, prev, caller)
}

// SubmitOptions carry one validator report for a cycle.
type SubmitOptions struct {
	DomainID       string
	CycleID        int64
	IsUp           bool
	StatusCode     int
	ResponseTimeMs int64
	// Signature is stored as given; it is not verified.
	Signature string
	Caller    string
}

// SubmitResult records the caller's vote and finalizes the cycle when the last
// seat reports. A vote arriving after the deadline is rejected; if the cycle
// already holds votes it is finalized on the spot and ErrCycleFinalized is
// returned, otherwise ErrCycleExpired.
func (e Engine) SubmitResult(ctx context.Context, opts SubmitOptions) (domain.Cycle, error) {
	caller, err := requireCaller(opts.Caller)
	if err != nil {
		return domain.Cycle{}, err
	}
	var (
		c    domain.Cycle
		s    *settlement
		late bool
	)
	attrs := append(domainAttr(opts.DomainID), attribute.Int64("cycle.id", opts.CycleID), attribute.String("validator.id", caller))
	err = e.write(ctx, "aggregator.submit", attrs, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		c, err = e.loadCycle(ctx, tx, opts.DomainID, opts.CycleID)
		if err != nil {
			return err
		}
		if c.Finalized {
			return fmt.Errorf("domain %s cycle %d: %w", c.DomainID, c.ID, ErrCycleFinalized)
		}
		if !slices.Contains(c.Validators, caller) {
			return fmt.Errorf("domain %s cycle %d: %w", c.DomainID, c.ID, ErrNotAssigned)
		}
		submitted, err := e.Repo.HasSubmitted(ctx, tx, c.DomainID, c.ID, caller)
		if err != nil {
			return err
		}
		if submitted {
			return fmt.Errorf("domain %s cycle %d: %w", c.DomainID, c.ID, ErrAlreadySubmitted)
		}
		stats, err := e.Repo.GetStats(ctx, tx, c.DomainID)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		if c.ID < stats.CurrentCycleID {
			return fmt.Errorf("domain %s cycle %d superseded by %d: %w", c.DomainID, c.ID, stats.CurrentCycleID, ErrCycleExpired)
		}
		now := e.unix()
		if now > c.Deadline {
			if c.Submitted == 0 {
				return fmt.Errorf("domain %s cycle %d: %w", c.DomainID, c.ID, ErrCycleExpired)
			}
			late = true
			s, err = e.finalizeTx(ctx, tx, c, caller)
			return err
		}
		if err := e.Repo.InsertSubmission(ctx, tx, domain.Submission{
			DomainID:       c.DomainID,
			CycleID:        c.ID,
			ValidatorID:    caller,
			IsUp:           opts.IsUp,
			StatusCode:     opts.StatusCode,
			ResponseTimeMs: opts.ResponseTimeMs,
			Signature:      opts.Signature,
			SubmittedAt:    now,
		}); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		if err := e.Repo.RecordVote(ctx, tx, c.DomainID, c.ID, opts.IsUp); err != nil {
			return fmt.Errorf("record vote: %w", err)
		}
		if err := e.completeSeatTx(ctx, tx, c, caller); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.ResultSubmitted, "domain", c.DomainID, caller, events.EventPayload{
			"cycle_id":         c.ID,
			"is_up":            opts.IsUp,
			"status_code":      opts.StatusCode,
			"response_time_ms": opts.ResponseTimeMs,
		}); err != nil {
			return err
		}
		if c, err = e.loadCycle(ctx, tx, c.DomainID, c.ID); err != nil {
			return err
		}
		if c.Submitted >= c.Required {
			if s, err = e.finalizeTx(ctx, tx, c, caller); err != nil {
				return err
			}
			c = s.cycle
		}
		return nil
	})
	if err != nil {
		return domain.Cycle{}, err
	}
	e.report(ctx, s)
	if late {
		e.logger().InfoContext(ctx, "late submission rejected", "domain", opts.DomainID, "cycle", opts.CycleID, "validator", caller)
		return s.cycle, fmt.Errorf("domain %s cycle %d: %w", opts.DomainID, opts.CycleID, ErrCycleFinalized)
	}
	e.Metrics.Submission()
	e.logger().DebugContext(ctx, "result submitted", "domain", c.DomainID, "cycle", c.ID, "validator", caller, "up", opts.IsUp)
	return e.withPhase(c), nil
}

// completeSeatTx closes the job backing the caller's seat in c.
func (e Engine) completeSeatTx(ctx context.Context, tx *sql.Tx, c domain.Cycle, caller string) error {
	jobID, err := e.Repo.AssignmentJob(ctx, tx, c.DomainID, c.ID, caller)
	if err != nil {
		return fmt.Errorf("load seat: %w", err)
	}
	job, err := e.Repo.GetJob(ctx, tx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job.Completed {
		return nil
	}
	return e.completeJobTx(ctx, tx, &job, caller)
}

// FinalizeCycle settles a cycle whose deadline passed with at least one vote.
func (e Engine) FinalizeCycle(ctx context.Context, domainID string, cycleID int64, caller string) (domain.Cycle, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Cycle{}, err
	}
	var s *settlement
	attrs := append(domainAttr(domainID), attribute.Int64("cycle.id", cycleID))
	err = e.write(ctx, "aggregator.finalize", attrs, func(ctx context.Context, tx *sql.Tx) error {
		c, err := e.loadCycle(ctx, tx, domainID, cycleID)
		if err != nil {
			return err
		}
		switch {
		case c.Finalized:
			return fmt.Errorf("domain %s cycle %d: %w", domainID, cycleID, ErrCycleFinalized)
		case e.unix() <= c.Deadline:
			return fmt.Errorf("domain %s cycle %d: %w until %d", domainID, cycleID, ErrCycleOpen, c.Deadline)
		case c.Submitted == 0:
			return fmt.Errorf("domain %s cycle %d: %w", domainID, cycleID, ErrCycleExpired)
		}
		s, err = e.finalizeTx(ctx, tx, c, caller)
		return err
	})
	if err != nil {
		return domain.Cycle{}, err
	}
	e.report(ctx, s)
	return s.cycle, nil
}

// finalizeTx records the verdict, folds it into the domain stats, charges the
// check cost and pays the majority. Payout shortfalls are recorded, never returned.
func (e Engine) finalizeTx(ctx context.Context, tx *sql.Tx, c domain.Cycle, caller string) (*settlement, error) {
	subs, err := e.Repo.ListSubmissions(ctx, tx, c.DomainID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	v := Decide(subs)
	now := e.unix()
	if err := e.Repo.FinalizeCycle(ctx, tx, c.DomainID, c.ID, v.Outcome, now); err != nil {
		return nil, fmt.Errorf("finalize cycle: %w", err)
	}
	s := &settlement{verdict: v}

	stats, err := e.Repo.GetStats(ctx, tx, c.DomainID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	stats.TotalChecks++
	if v.Outcome == domain.StatusUp {
		stats.SuccessfulChecks++
	} else {
		stats.FailedChecks++
		if stats.LastConsensusAt > 0 && now > stats.LastConsensusAt {
			stats.TotalDownTimeSeconds += now - stats.LastConsensusAt
		}
	}
	stats.CurrentStatus = v.Outcome == domain.StatusUp
	stats.LastConsensusAt = now
	if err := e.Repo.SaveStats(ctx, tx, stats); err != nil {
		return nil, err
	}

	if s.stakeShort, err = e.chargeCheckTx(ctx, tx, c, caller); err != nil {
		return nil, err
	}

	if share := Share(e.Config.Rewards.RewardPerCheck, len(v.Honest)); share > 0 {
		for _, id := range v.Honest {
			err := e.payoutTx(ctx, tx, c, id, share)
			switch {
			case err == nil:
				s.paid++
			case errors.Is(err, ErrInsufficientPool):
				s.shortfalls++
				if err := e.Events.Append(ctx, tx, events.RewardShortfall, "validator", id, caller, events.EventPayload{
					"amount":    share,
					"domain_id": c.DomainID,
					"cycle_id":  c.ID,
				}); err != nil {
					return nil, err
				}
			default:
				return nil, err
			}
		}
	}

	if err := e.Events.Append(ctx, tx, events.CycleFinalized, "domain", c.DomainID, caller, events.EventPayload{
		"cycle_id":   c.ID,
		"outcome":    v.Outcome,
		"up_votes":   v.Up,
		"down_votes": v.Down,
		"honest":     v.Honest,
		"dissenters": v.Dissenters,
	}); err != nil {
		return nil, err
	}
	if s.cycle, err = e.loadCycle(ctx, tx, c.DomainID, c.ID); err != nil {
		return nil, err
	}
	s.cycle = e.withPhase(s.cycle)
	return s, nil
}

// chargeCheckTx moves the check cost from the domain balance into the pool.
// It reports true when the balance could not cover it.
func (e Engine) chargeCheckTx(ctx context.Context, tx *sql.Tx, c domain.Cycle, caller string) (bool, error) {
	cost := e.Config.Rewards.CheckCost
	if cost <= 0 {
		return false, nil
	}
	d, err := e.Repo.GetDomain(ctx, tx, c.DomainID)
	if err != nil {
		return false, fmt.Errorf("load domain: %w", err)
	}
	if d.Balance < cost {
		return true, e.Events.Append(ctx, tx, events.StakeShortfall, "domain", d.ID, caller, events.EventPayload{
			"cycle_id": c.ID,
			"balance":  d.Balance,
			"cost":     cost,
		})
	}
	if err := e.Repo.SetDomainBalance(ctx, tx, d.ID, d.Balance-cost, e.stamp()); err != nil {
		return false, err
	}
	if _, err := e.creditPoolTx(ctx, tx, cost); err != nil {
		return false, err
	}
	return false, e.Events.Append(ctx, tx, events.StakeDebited, "domain", d.ID, caller, events.EventPayload{
		"cycle_id": c.ID,
		"amount":   cost,
		"balance":  d.Balance - cost,
	})
}

// report publishes a committed settlement to metrics, logs and the slasher.
func (e Engine) report(ctx context.Context, s *settlement) {
	if s == nil {
		return
	}
	c := s.cycle
	e.Metrics.CycleFinalized(s.verdict.Outcome)
	for i := 0; i < s.paid; i++ {
		e.Metrics.Payout()
	}
	log := e.logger().With("domain", c.DomainID, "cycle", c.ID)
	for i := 0; i < s.shortfalls; i++ {
		e.Metrics.PayoutShortfall()
	}
	if s.shortfalls > 0 {
		log.WarnContext(ctx, "reward pool short, finalized without full payout", "unpaid", s.shortfalls)
	}
	if s.stakeShort {
		e.Metrics.StakeShortfall()
		log.WarnContext(ctx, "domain balance below check cost, debit skipped")
	}
	log.InfoContext(ctx, "cycle finalized", "outcome", s.verdict.Outcome, "up", s.verdict.Up, "down", s.verdict.Down, "paid", s.paid)
	e.slash(ctx, SlashReport{
		DomainID:   c.DomainID,
		CycleID:    c.ID,
		Outcome:    s.verdict.Outcome,
		Dissenters: s.verdict.Dissenters,
	})
}

func (e Engine) loadCycle(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64) (domain.Cycle, error) {
	c, err := e.Repo.GetCycle(ctx, tx, domainID, cycleID)
	if errors.Is(err, repo.ErrNotFound) {
		return c, fmt.Errorf("domain %s cycle %d: %w", domainID, cycleID, ErrCycleNotFound)
	}
	return c, err
}

// withPhase derives the lifecycle phase at the engine clock.
func (e Engine) withPhase(c domain.Cycle) domain.Cycle {
	switch {
	case c.Finalized:
		c.Phase = domain.PhaseFinalized
	case e.unix() > c.Deadline:
		c.Phase = domain.PhaseExpired
	default:
		c.Phase = domain.PhaseOpen
	}
	return c
}

func (e Engine) GetCycle(ctx context.Context, domainID string, cycleID int64) (domain.Cycle, error) {
	c, err := e.loadCycle(ctx, nil, domainID, cycleID)
	if err != nil {
		return c, err
	}
	return e.withPhase(c), nil
}

// LatestCycle returns the domain's most recent cycle.
func (e Engine) LatestCycle(ctx context.Context, domainID string) (domain.Cycle, error) {
	stats, err := e.DomainStats(ctx, domainID)
	if err != nil {
		return domain.Cycle{}, err
	}
	if stats.CurrentCycleID == 0 {
		return domain.Cycle{}, fmt.Errorf("domain %s has no cycles: %w", domainID, ErrCycleNotFound)
	}
	return e.GetCycle(ctx, domainID, stats.CurrentCycleID)
}

func (e Engine) RecentCycles(ctx context.Context, domainID string, count int) ([]domain.Cycle, error) {
	if _, err := e.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = defaultRecentCycles
	}
	cycles, err := e.Repo.RecentCycles(ctx, domainID, count)
	if err != nil {
		return nil, err
	}
	for i := range cycles {
		cycles[i] = e.withPhase(cycles[i])
	}
	return cycles, nil
}

func (e Engine) CycleSubmissions(ctx context.Context, domainID string, cycleID int64) ([]domain.Submission, error) {
	if _, err := e.loadCycle(ctx, nil, domainID, cycleID); err != nil {
		return nil, err
	}
	return e.Repo.ListSubmissions(ctx, nil, domainID, cycleID)
}

func (e Engine) DomainStats(ctx context.Context, domainID string) (domain.Stats, error) {
	s, err := e.Repo.GetStats(ctx, nil, domainID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, fmt.Errorf("domain %s: %w", domainID, ErrUnknownDomain)
	}
	return s, err
}

// DomainStatus reports the last consensus. A latest cycle that expired with
// votes reports the verdict those votes will settle to; one that expired
// without votes is labelled NO_CONSENSUS.
func (e Engine) DomainStatus(ctx context.Context, domainID string) (domain.Status, error) {
	stats, err := e.DomainStats(ctx, domainID)
	if err != nil {
		return domain.Status{}, err
	}
	st := domain.Status{DomainID: domainID, Label: domain.StatusUnknown}
	if stats.CurrentCycleID > 0 {
		latest, err := e.GetCycle(ctx, domainID, stats.CurrentCycleID)
		if err != nil {
			return domain.Status{}, err
		}
		if latest.Phase == domain.PhaseExpired {
			if latest.Submitted == 0 {
				st.Label = domain.StatusNoConsensus
				return st, nil
			}
			subs, err := e.Repo.ListSubmissions(ctx, nil, domainID, latest.ID)
			if err != nil {
				return domain.Status{}, err
			}
			st.Label = Decide(subs).Outcome
			st.IsUp = st.Label == domain.StatusUp
			return st, nil
		}
	}
	if stats.TotalChecks == 0 {
		return st, nil
	}
	st.IsUp = stats.CurrentStatus
	st.Label = domain.StatusDown
	if st.IsUp {
		st.Label = domain.StatusUp
	}
	return st, nil
}
