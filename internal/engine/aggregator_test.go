package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptimeline/internal/config"
	"uptimeline/internal/domain"
	"uptimeline/internal/engine"
	"uptimeline/internal/events"
	"uptimeline/internal/repo"
)

func quorum(n int) func(*config.Config) {
	return func(c *config.Config) { c.Consensus.RequiredValidators = n }
}

func (env testEnv) submit(t *testing.T, cycleID int64, validator string, up bool) domain.Cycle {
	t.Helper()
	code := 200
	if !up {
		code = 503
	}
	c, err := env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{
		DomainID: site, CycleID: cycleID, IsUp: up, StatusCode: code, ResponseTimeMs: 42, Caller: validator,
	})
	require.NoError(t, err, "submit %s", validator)
	return c
}

func (env testEnv) fund(t *testing.T, amount int64) {
	t.Helper()
	_, err := env.Engine.FundPool(env.Ctx, amount, "treasury")
	require.NoError(t, err)
}

func TestEndToEndUpkeepFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.domain(t, site, 60, 200)
	env.Clock.Advance(61 * time.Second)

	probe, err := env.Engine.CheckUpkeep(env.Ctx)
	require.NoError(t, err)
	assert.True(t, probe.Needed)
	assert.Equal(t, site, probe.DomainID)

	res, err := env.Engine.PerformUpkeep(env.Ctx, "", "keeper")
	require.NoError(t, err)
	require.True(t, res.Performed, res.Reason)
	require.NotNil(t, res.Cycle)
	assert.Equal(t, int64(1), res.Cycle.ID)
	assert.Equal(t, 1, res.Cycle.Required)
	assert.Equal(t, []string{"v1"}, res.Cycle.Validators)

	again, err := env.Engine.PerformUpkeep(env.Ctx, "", "keeper")
	require.NoError(t, err)
	assert.False(t, again.Performed, "a second upkeep in the same instant has nothing to do")

	c := env.submit(t, 1, "v1", true)
	assert.True(t, c.Finalized)
	assert.Equal(t, domain.StatusUp, c.Outcome)
	assert.Equal(t, domain.PhaseFinalized, c.Phase)

	stats, err := env.Engine.DomainStats(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalChecks)
	assert.Equal(t, int64(1), stats.SuccessfulChecks)
	assert.Equal(t, int64(0), stats.FailedChecks)
	assert.Equal(t, int64(100), stats.UptimePercent)
	assert.True(t, stats.CurrentStatus)

	status, err := env.Engine.DomainStatus(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, domain.Status{DomainID: site, IsUp: true, Label: domain.StatusUp}, status)

	d, err := env.Engine.GetDomain(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(190), d.Balance, "check cost debited")

	transfers, err := env.Engine.Transfers(env.Ctx, "v1", 10)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(10), transfers[0].Amount)
	pool, err := env.Engine.PoolBalance(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool)

	pending, err := env.Engine.PendingJobs(env.Ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, pending, "submission completes the seat's job")
}

func TestConsensusMajority(t *testing.T) {
	cases := []struct {
		name    string
		quorum  int
		votes   []bool
		outcome string
		honest  int
	}{
		{"two up one down", 3, []bool{true, true, false}, domain.StatusUp, 2},
		{"one up two down", 3, []bool{true, false, false}, domain.StatusDown, 2},
		{"even split", 2, []bool{true, false}, domain.StatusDown, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, quorum(tc.quorum))
			ids := []string{"a", "b", "c"}[:tc.quorum]
			env.register(t, ids...)
			env.fund(t, 1000)
			env.domain(t, site, 60, 100)

			c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
			require.NoError(t, err)
			require.ElementsMatch(t, ids, c.Validators)

			for i, up := range tc.votes {
				c = env.submit(t, c.ID, c.Validators[i], up)
				if i < len(tc.votes)-1 {
					require.False(t, c.Finalized, "finalized before quorum")
				}
			}
			assert.True(t, c.Finalized)
			assert.Equal(t, tc.outcome, c.Outcome)
			assert.Equal(t, tc.quorum, c.Submitted)

			paid, err := env.Engine.Transfers(env.Ctx, "", 10)
			require.NoError(t, err)
			rewards := 0
			for _, tr := range paid {
				if tr.Reason == engine.TransferReward {
					rewards++
					assert.Equal(t, engine.Share(10, tc.honest), tr.Amount)
				}
			}
			assert.Equal(t, tc.honest, rewards, "only the majority is paid")
		})
	}
}

func TestDuplicateSubmissionCountsOnce(t *testing.T) {
	env := newTestEnv(t, quorum(2))
	env.register(t, "a", "b")
	env.domain(t, site, 60, 100)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)

	env.submit(t, c.ID, "a", true)
	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: c.ID, IsUp: false, StatusCode: 500, Caller: "a"})
	require.ErrorIs(t, err, engine.ErrAlreadySubmitted)

	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: c.ID, IsUp: true, Caller: "outsider"})
	require.ErrorIs(t, err, engine.ErrNotAssigned)
	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: 99, IsUp: true, Caller: "a"})
	require.ErrorIs(t, err, engine.ErrCycleNotFound)

	got, err := env.Engine.GetCycle(env.Ctx, site, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Submitted)
	assert.Equal(t, 1, got.UpVotes)
	assert.Equal(t, 0, got.DownVotes)
	assert.False(t, got.Finalized)

	subs, err := env.Engine.CycleSubmissions(env.Ctx, site, c.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(42), subs[0].ResponseTimeMs)

	env.submit(t, c.ID, "b", true)
	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: c.ID, IsUp: true, Caller: "b"})
	require.ErrorIs(t, err, engine.ErrCycleFinalized)
}

func TestStatsInvariantAndDowntime(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.fund(t, 1000)
	env.domain(t, site, 60, 1000)

	outcomes := []bool{true, false, false, true, true, false, true}
	for _, up := range outcomes {
		c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
		require.NoError(t, err)
		env.Clock.Advance(30 * time.Second)
		env.submit(t, c.ID, "v1", up)

		stats, err := env.Engine.DomainStats(env.Ctx, site)
		require.NoError(t, err)
		assert.Equal(t, stats.TotalChecks, stats.SuccessfulChecks+stats.FailedChecks)
		assert.Equal(t, stats.SuccessfulChecks*100/stats.TotalChecks, stats.UptimePercent)
		assert.Equal(t, up, stats.CurrentStatus)
		assert.Equal(t, c.ID, stats.CurrentCycleID)
	}
	stats, err := env.Engine.DomainStats(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalChecks)
	assert.Equal(t, int64(4), stats.SuccessfulChecks)
	assert.Equal(t, int64(57), stats.UptimePercent)
	// DOWN outcomes after a previous consensus add the 30s since it.
	assert.Equal(t, int64(90), stats.TotalDownTimeSeconds)

	recent, err := env.Engine.RecentCycles(env.Ctx, site, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(7), recent[0].ID)
	latest, err := env.Engine.LatestCycle(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(7), latest.ID)
}

func TestNoValidatorsIsUnassignable(t *testing.T) {
	env := newTestEnv(t)
	env.domain(t, site, 60, 100)

	_, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.ErrorIs(t, err, engine.ErrNoActiveValidators)

	probe, err := env.Engine.CheckUpkeep(env.Ctx)
	require.NoError(t, err)
	assert.False(t, probe.Needed)
	assert.True(t, probe.Unassignable)
	assert.Equal(t, site, probe.DomainID)

	res, err := env.Engine.PerformUpkeep(env.Ctx, "", "keeper")
	require.NoError(t, err)
	assert.False(t, res.Performed)
	assert.NotEmpty(t, res.Reason)

	res, err = env.Engine.PerformUpkeep(env.Ctx, site, "keeper")
	require.NoError(t, err)
	assert.False(t, res.Performed)

	status, err := env.Engine.DomainStatus(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, status.Label)
}

func TestCheckNotDueForStrangers(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.domain(t, site, 60, 500)
	_, err := env.Engine.InitiateCheckCycle(env.Ctx, site, "stranger")
	require.NoError(t, err, "a new domain is due at once")

	_, err = env.Engine.InitiateCheckCycle(env.Ctx, site, "stranger")
	require.ErrorIs(t, err, engine.ErrCheckNotDue)
	due, err := env.Engine.IsCheckDue(env.Ctx, site)
	require.NoError(t, err)
	assert.False(t, due)

	_, err = env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err, "the owner may check early")

	env.Clock.Advance(60 * time.Second)
	probe, err := env.Engine.CheckUpkeep(env.Ctx)
	require.NoError(t, err)
	assert.True(t, probe.Needed)
}

func TestInsufficientBalanceBlocksInitiation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Rewards.CheckCost = 150 })
	env.register(t, "v1")
	env.domain(t, site, 60, 100)

	_, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.ErrorIs(t, err, engine.ErrInsufficientBalance)
	probe, err := env.Engine.CheckUpkeep(env.Ctx)
	require.NoError(t, err)
	assert.False(t, probe.Needed, "insolvent domains are not due")
}

func TestExpiredCycleWithoutVotes(t *testing.T) {
	env := newTestEnv(t, quorum(2))
	env.register(t, "a", "b")
	env.domain(t, site, 60, 500)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	assert.Equal(t, c.StartedAt+60, c.Deadline)

	env.Clock.Advance(61 * time.Second)
	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: c.ID, IsUp: true, Caller: "a"})
	require.ErrorIs(t, err, engine.ErrCycleExpired)
	_, err = env.Engine.FinalizeCycle(env.Ctx, site, c.ID, owner)
	require.ErrorIs(t, err, engine.ErrCycleExpired)

	got, err := env.Engine.GetCycle(env.Ctx, site, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseExpired, got.Phase)
	assert.False(t, got.Finalized)

	status, err := env.Engine.DomainStatus(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoConsensus, status.Label)
	assert.False(t, status.IsUp)

	next, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)
	got, err = env.Engine.GetCycle(env.Ctx, site, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseExpired, got.Phase, "an expired cycle without votes is never settled")
}

func TestExpiredCycleWithVotesSettles(t *testing.T) {
	env := newTestEnv(t, quorum(2))
	env.register(t, "a", "b")
	env.fund(t, 100)
	env.domain(t, site, 60, 500)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, c.ID, "a", true)

	_, err = env.Engine.FinalizeCycle(env.Ctx, site, c.ID, owner)
	require.ErrorIs(t, err, engine.ErrCycleOpen)

	env.Clock.Advance(61 * time.Second)
	late, err := env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: c.ID, IsUp: false, Caller: "b"})
	require.ErrorIs(t, err, engine.ErrCycleFinalized)
	assert.True(t, late.Finalized)
	assert.Equal(t, domain.StatusUp, late.Outcome, "the late vote is not counted")
	assert.Equal(t, 1, late.Submitted)

	_, err = env.Engine.FinalizeCycle(env.Ctx, site, c.ID, owner)
	require.ErrorIs(t, err, engine.ErrCycleFinalized)
}

func TestInitiationSettlesPreviousExpiredCycle(t *testing.T) {
	env := newTestEnv(t, quorum(2))
	env.register(t, "a", "b")
	env.domain(t, site, 60, 500)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, c.ID, "b", false)
	env.Clock.Advance(61 * time.Second)

	res, err := env.Engine.PerformUpkeep(env.Ctx, site, "keeper")
	require.NoError(t, err)
	require.True(t, res.Performed, res.Reason)

	prev, err := env.Engine.GetCycle(env.Ctx, site, c.ID)
	require.NoError(t, err)
	assert.True(t, prev.Finalized)
	assert.Equal(t, domain.StatusDown, prev.Outcome)

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, repo.EventFilter{Type: events.UpkeepPerformed})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestPoolShortfallDoesNotBlockFinalization(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Rewards.RewardPerCheck = 100 })
	env.register(t, "v1")
	env.domain(t, site, 60, 100)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)

	c = env.submit(t, c.ID, "v1", true)
	assert.True(t, c.Finalized)

	transfers, err := env.Engine.Transfers(env.Ctx, "v1", 10)
	require.NoError(t, err)
	assert.Empty(t, transfers)
	pool, err := env.Engine.PoolBalance(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pool, "the check cost still reaches the pool")

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, repo.EventFilter{Type: events.RewardShortfall})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "v1", evs[0].EntityID)
}

func TestUnregisterMidCycleKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.fund(t, 100)
	env.domain(t, site, 60, 100)

	first, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, first.ID, "v1", true)
	second, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)

	_, err = env.Engine.UnregisterDomain(env.Ctx, site, owner)
	require.NoError(t, err)

	c := env.submit(t, second.ID, "v1", false)
	assert.True(t, c.Finalized, "open cycles still finalize after unregister")
	assert.Equal(t, domain.StatusDown, c.Outcome)

	got, err := env.Engine.GetCycle(env.Ctx, site, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUp, got.Outcome)
	assert.True(t, got.IsUp())

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, repo.EventFilter{Type: events.StakeShortfall})
	require.NoError(t, err)
	assert.Len(t, evs, 1, "the refunded balance cannot pay for the last check")
}

type recordingSlasher struct {
	reports []engine.SlashReport
}

func (r *recordingSlasher) Slash(_ context.Context, rep engine.SlashReport) error {
	r.reports = append(r.reports, rep)
	return nil
}

func TestSlasherReceivesDissenters(t *testing.T) {
	env := newTestEnv(t, quorum(3))
	env.register(t, "a", "b", "c")
	slasher := &recordingSlasher{}
	env.Engine.Slasher = slasher
	env.domain(t, site, 60, 100)

	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, c.ID, "a", true)
	env.submit(t, c.ID, "b", false)
	env.submit(t, c.ID, "c", true)

	require.Len(t, slasher.reports, 1)
	assert.Equal(t, []string{"b"}, slasher.reports[0].Dissenters)
	assert.Equal(t, domain.StatusUp, slasher.reports[0].Outcome)
}

func TestCycleAtDeadlineIsSettledBySuccessor(t *testing.T) {
	env := newTestEnv(t, quorum(3))
	env.register(t, "a", "b", "c")
	env.fund(t, 100)
	env.domain(t, site, 60, 500)
	first, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, first.ID, "a", true)
	env.submit(t, first.ID, "b", true)

	// Due and deadline fall on the same second.
	env.Clock.Advance(60 * time.Second)
	due, err := env.Engine.IsCheckDue(env.Ctx, site)
	require.NoError(t, err)
	require.True(t, due)

	res, err := env.Engine.PerformUpkeep(env.Ctx, "", "keeper")
	require.NoError(t, err)
	require.True(t, res.Performed, res.Reason)
	assert.Equal(t, first.ID+1, res.Cycle.ID)

	prev, err := env.Engine.GetCycle(env.Ctx, site, first.ID)
	require.NoError(t, err)
	assert.True(t, prev.Finalized)
	assert.Equal(t, domain.StatusUp, prev.Outcome)
	assert.Equal(t, 2, prev.Submitted)

	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: first.ID, IsUp: false, Caller: "c"})
	require.ErrorIs(t, err, engine.ErrCycleFinalized)

	for i := 0; i < 5; i++ {
		env.Clock.Advance(61 * time.Second)
		_, err := env.Engine.PerformUpkeep(env.Ctx, "", "keeper")
		require.NoError(t, err)
	}
	stats, err := env.Engine.DomainStats(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalChecks, "only the voted cycle counts")
	assert.Equal(t, int64(1), stats.SuccessfulChecks)
}

func TestOwnerForcedCycleSupersedesOpenOne(t *testing.T) {
	env := newTestEnv(t, quorum(2))
	env.register(t, "a", "b")
	env.domain(t, site, 60, 500)
	first, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, first.ID, "a", true)

	second, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err, "the owner may start early")
	assert.Equal(t, first.ID+1, second.ID)

	prev, err := env.Engine.GetCycle(env.Ctx, site, first.ID)
	require.NoError(t, err)
	assert.True(t, prev.Finalized, "a voted cycle is settled before its successor opens")
	assert.Equal(t, domain.StatusUp, prev.Outcome)
	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: first.ID, IsUp: false, Caller: "b"})
	require.ErrorIs(t, err, engine.ErrCycleFinalized)

	third, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	_, err = env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: second.ID, IsUp: true, Caller: "a"})
	require.ErrorIs(t, err, engine.ErrCycleExpired, "a superseded cycle without votes is closed")

	stats, err := env.Engine.DomainStats(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalChecks)
	assert.Equal(t, third.ID, stats.CurrentCycleID)

	d, err := env.Engine.GetDomain(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(490), d.Balance, "only the settled cycle is charged")
}

func TestStatusOfExpiredCycleWithVotes(t *testing.T) {
	env := newTestEnv(t, quorum(2))
	env.register(t, "a", "b")
	env.domain(t, site, 60, 500)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)
	env.submit(t, c.ID, "a", true)
	env.Clock.Advance(61 * time.Second)

	status, err := env.Engine.DomainStatus(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, domain.Status{DomainID: site, IsUp: true, Label: domain.StatusUp}, status)

	settled, err := env.Engine.FinalizeCycle(env.Ctx, site, c.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, status.Label, settled.Outcome)
}

func TestConcurrentUpkeepStartsOneCycle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.domain(t, site, 60, 500)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		performed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.PerformUpkeep(env.Ctx, "", "keeper")
			assert.NoError(t, err)
			if res.Performed {
				mu.Lock()
				performed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, performed)

	stats, err := env.Engine.DomainStats(env.Ctx, site)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CurrentCycleID)
}

func TestConcurrentSubmissionsCountOnce(t *testing.T) {
	env := newTestEnv(t, quorum(3))
	env.register(t, "a", "b", "c")
	env.fund(t, 100)
	env.domain(t, site, 60, 500)
	c, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner)
	require.NoError(t, err)

	errs := make(chan error, 6)
	var wg sync.WaitGroup
	for _, v := range []string{"a", "b", "c", "a", "b", "c"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := env.Engine.SubmitResult(env.Ctx, engine.SubmitOptions{DomainID: site, CycleID: c.ID, IsUp: true, Caller: v})
			errs <- err
		}(v)
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, engine.ErrAlreadySubmitted), errors.Is(err, engine.ErrCycleFinalized):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, accepted)

	got, err := env.Engine.GetCycle(env.Ctx, site, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Finalized)
	assert.Equal(t, 3, got.Submitted)
	transfers, err := env.Engine.Transfers(env.Ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, transfers, 3)
}
