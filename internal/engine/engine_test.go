package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"uptimeline/internal/config"
	"uptimeline/internal/db"
	"uptimeline/internal/domain"
	"uptimeline/internal/engine"
	"uptimeline/internal/events"
	"uptimeline/internal/migrate"
	"uptimeline/internal/repo"
)

const (
	owner = "owner-1"
	site  = "example.com"
)

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
}

func newTestEnv(t *testing.T, tune ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("net-1")
	for _, fn := range tune {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	if err := (repo.Repo{DB: conn}).UpsertConfig(ctx, nil, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, cfg).WithClock(clk.Now)
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk}
}

func (env testEnv) register(t *testing.T, validators ...string) {
	t.Helper()
	for _, v := range validators {
		if _, err := env.Engine.RegisterValidator(env.Ctx, v); err != nil {
			t.Fatalf("register validator %s: %v", v, err)
		}
	}
}

func (env testEnv) domain(t *testing.T, id string, interval, stake int64) domain.Domain {
	t.Helper()
	d, err := env.Engine.RegisterDomain(env.Ctx, id, interval, stake, owner)
	if err != nil {
		t.Fatalf("register domain %s: %v", id, err)
	}
	return d
}

func TestRegisterDomainRules(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterDomain(env.Ctx, site, 60, 99, owner); !errors.Is(err, engine.ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
	if _, err := env.Engine.RegisterDomain(env.Ctx, site, 10, 100, owner); !errors.Is(err, engine.ErrInvalidInterval) {
		t.Fatalf("expected invalid interval, got %v", err)
	}
	if _, err := env.Engine.RegisterDomain(env.Ctx, site, 60, 100, ""); !errors.Is(err, engine.ErrCallerRequired) {
		t.Fatalf("expected caller required, got %v", err)
	}
	d := env.domain(t, site, 60, 100)
	if d.Owner != owner || d.Balance != 100 || !d.Monitored {
		t.Fatalf("unexpected domain %+v", d)
	}
	if _, err := env.Engine.RegisterDomain(env.Ctx, site, 60, 100, "someone-else"); !errors.Is(err, engine.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	due, err := env.Engine.IsCheckDue(env.Ctx, site)
	if err != nil || !due {
		t.Fatalf("new domain should be due at once: %v %v", due, err)
	}
	owned, err := env.Engine.DomainsOwnedBy(env.Ctx, owner)
	if err != nil || len(owned) != 1 || owned[0].ID != site {
		t.Fatalf("owned domains: %+v %v", owned, err)
	}
}

func TestStakeAndWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.domain(t, site, 60, 100)

	if _, err := env.Engine.Stake(env.Ctx, site, 50, "intruder"); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if _, err := env.Engine.Stake(env.Ctx, "missing.org", 50, owner); !errors.Is(err, engine.ErrUnknownDomain) {
		t.Fatalf("expected unknown domain, got %v", err)
	}
	if _, err := env.Engine.Stake(env.Ctx, site, 0, owner); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	d, err := env.Engine.Stake(env.Ctx, site, 50, owner)
	if err != nil || d.Balance != 150 {
		t.Fatalf("stake: %+v %v", d, err)
	}
	if _, err := env.Engine.Withdraw(env.Ctx, site, 151, owner); !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	d, err = env.Engine.Withdraw(env.Ctx, site, 40, owner)
	if err != nil || d.Balance != 110 {
		t.Fatalf("withdraw: %+v %v", d, err)
	}
	transfers, err := env.Engine.Transfers(env.Ctx, owner, 10)
	if err != nil || len(transfers) != 1 || transfers[0].Amount != 40 || transfers[0].Reason != engine.TransferWithdraw {
		t.Fatalf("transfers: %+v %v", transfers, err)
	}
	d, err = env.Engine.UpdateInterval(env.Ctx, site, 120, owner)
	if err != nil || d.IntervalSeconds != 120 {
		t.Fatalf("update interval: %+v %v", d, err)
	}
	sched, err := env.Engine.GetSchedule(env.Ctx, site)
	if err != nil || sched.IntervalSeconds != 120 {
		t.Fatalf("schedule did not follow interval: %+v %v", sched, err)
	}
}

func TestUnregisterRefundsAndStopsMonitoring(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.domain(t, site, 60, 250)

	d, err := env.Engine.UnregisterDomain(env.Ctx, site, owner)
	if err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if d.Monitored || d.Balance != 0 {
		t.Fatalf("unexpected domain after unregister %+v", d)
	}
	if _, err := env.Engine.UnregisterDomain(env.Ctx, site, owner); !errors.Is(err, engine.ErrNotMonitored) {
		t.Fatalf("expected not monitored, got %v", err)
	}
	if _, err := env.Engine.InitiateCheckCycle(env.Ctx, site, owner); !errors.Is(err, engine.ErrNotMonitored) {
		t.Fatalf("expected not monitored on initiate, got %v", err)
	}
	if _, err := env.Engine.RegisterDomain(env.Ctx, site, 60, 100, owner); !errors.Is(err, engine.ErrAlreadyRegistered) {
		t.Fatalf("unregistered id must stay taken, got %v", err)
	}
	transfers, err := env.Engine.Transfers(env.Ctx, owner, 10)
	if err != nil || len(transfers) != 1 || transfers[0].Amount != 250 || transfers[0].Reason != engine.TransferRefund {
		t.Fatalf("refund: %+v %v", transfers, err)
	}
}

func TestActiveValidatorOrder(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a", "b", "c")
	if _, err := env.Engine.RegisterValidator(env.Ctx, "b"); !errors.Is(err, engine.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if _, err := env.Engine.DeactivateValidator(env.Ctx, "b"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.DeactivateValidator(env.Ctx, "b"); !errors.Is(err, engine.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if _, err := env.Engine.DeactivateValidator(env.Ctx, "nobody"); !errors.Is(err, engine.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	assertActive(t, env, "a", "c")

	env.register(t, "b")
	assertActive(t, env, "a", "c", "b")

	v, err := env.Engine.GetValidator(env.Ctx, "b")
	if err != nil || !v.Active {
		t.Fatalf("get validator: %+v %v", v, err)
	}
}

func assertActive(t *testing.T, env testEnv, want ...string) {
	t.Helper()
	active, err := env.Engine.ActiveValidators(env.Ctx)
	if err != nil {
		t.Fatalf("active validators: %v", err)
	}
	if len(active) != len(want) {
		t.Fatalf("active = %+v, want %v", active, want)
	}
	for i, v := range active {
		if v.ID != want[i] {
			t.Fatalf("active[%d] = %s, want %s", i, v.ID, want[i])
		}
	}
}

func TestRoundRobinAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.domain(t, site, 60, 100)
	if _, err := env.Engine.AssignJob(env.Ctx, site, owner); !errors.Is(err, engine.ErrNoActiveValidators) {
		t.Fatalf("expected no active validators, got %v", err)
	}
	env.register(t, "a", "b", "c")

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		job, err := env.Engine.AssignJob(env.Ctx, site, owner)
		if err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
		seen[job.ValidatorID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 1 {
			t.Fatalf("validator %s assigned %d times in one round: %v", id, seen[id], seen)
		}
	}
	v, err := env.Engine.GetValidator(env.Ctx, "a")
	if err != nil || v.TotalJobsAssigned != 1 {
		t.Fatalf("counters: %+v %v", v, err)
	}

	pending, err := env.Engine.PendingJobs(env.Ctx, "a")
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %+v %v", pending, err)
	}
	if _, err := env.Engine.CompleteJob(env.Ctx, site, pending[0].ID, "b"); !errors.Is(err, engine.ErrNotAssigned) {
		t.Fatalf("expected not assigned, got %v", err)
	}
	job, err := env.Engine.CompleteJob(env.Ctx, site, 0, "a")
	if err != nil || !job.Completed {
		t.Fatalf("complete: %+v %v", job, err)
	}
	if _, err := env.Engine.CompleteJob(env.Ctx, site, job.ID, "a"); err != nil {
		t.Fatalf("completing twice should be a no-op: %v", err)
	}
	if _, err := env.Engine.CompleteJob(env.Ctx, site, 0, "a"); !errors.Is(err, engine.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}
	pending, _ = env.Engine.PendingJobs(env.Ctx, "a")
	if len(pending) != 0 {
		t.Fatalf("expected no pending jobs, got %+v", pending)
	}
	history, err := env.Engine.DomainJobHistory(env.Ctx, site, 0)
	if err != nil || len(history) != 3 {
		t.Fatalf("history: %+v %v", history, err)
	}
	if history[0].ID < history[2].ID {
		t.Fatalf("history should be newest first: %+v", history)
	}
}

func TestMutationsAppendEvents(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "v1")
	env.domain(t, site, 60, 100)
	if _, err := env.Engine.Stake(env.Ctx, site, 10, owner); err != nil {
		t.Fatal(err)
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{EntityKind: "domain", EntityID: site})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != events.DomainStaked || evs[1].Type != events.DomainRegistered {
		t.Fatalf("unexpected events %+v", evs)
	}
	if evs[0].ActorID != owner || evs[0].TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("event metadata %+v", evs[0])
	}
}
