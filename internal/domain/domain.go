package domain

// Domain is a monitored identifier with an owner and a stake balance funding its checks.
type Domain struct {
	ID              string `json:"id"`
	Owner           string `json:"owner"`
	Balance         int64  `json:"balance"`
	IntervalSeconds int64  `json:"interval_seconds"`
	Monitored       bool   `json:"monitored"`
	RegisteredAt    string `json:"registered_at"`
	UpdatedAt       string `json:"updated_at"`
}

// Schedule holds per-domain scheduling metadata. Times are unix seconds.
type Schedule struct {
	DomainID        string `json:"domain_id"`
	IntervalSeconds int64  `json:"interval_seconds"`
	LastScheduled   int64  `json:"last_scheduled"`
	NextDueAt       int64  `json:"next_due_at"`
}

type Validator struct {
	ID                string `json:"id"`
	Active            bool   `json:"active"`
	TotalJobsAssigned int64  `json:"total_jobs_assigned"`
	LastAssignedAt    int64  `json:"last_assigned_at"`
	RegisteredAt      string `json:"registered_at"`
	UpdatedAt         string `json:"updated_at"`
}

// Job is one assignment of a domain-check duty to one validator.
type Job struct {
	ID          int64  `json:"id"`
	DomainID    string `json:"domain_id"`
	ValidatorID string `json:"validator_id"`
	CycleID     int64  `json:"cycle_id,omitempty"`
	AssignedAt  int64  `json:"assigned_at"`
	NextCheckAt int64  `json:"next_check_at"`
	Completed   bool   `json:"completed"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

const (
	PhaseOpen      = "open"
	PhaseExpired   = "expired"
	PhaseFinalized = "finalized"

	StatusUp          = "UP"
	StatusDown        = "DOWN"
	StatusUnknown     = "UNKNOWN"
	StatusNoConsensus = "NO_CONSENSUS"
)

// Cycle is one round of result collection for a domain.
type Cycle struct {
	DomainID    string   `json:"domain_id"`
	ID          int64    `json:"cycle_id"`
	StartedAt   int64    `json:"started_at"`
	Deadline    int64    `json:"deadline"`
	Required    int      `json:"required"`
	Submitted   int      `json:"submitted"`
	UpVotes     int      `json:"up_votes"`
	DownVotes   int      `json:"down_votes"`
	Finalized   bool     `json:"finalized"`
	Outcome     string   `json:"outcome,omitempty"`
	FinalizedAt int64    `json:"finalized_at,omitempty"`
	Phase       string   `json:"phase"`
	Validators  []string `json:"validators"`
}

// IsUp reports the finalized outcome. Open cycles report false.
func (c Cycle) IsUp() bool {
	return c.Finalized && c.Outcome == StatusUp
}

type Submission struct {
	DomainID       string `json:"domain_id"`
	CycleID        int64  `json:"cycle_id"`
	ValidatorID    string `json:"validator_id"`
	IsUp           bool   `json:"is_up"`
	StatusCode     int    `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Signature      string `json:"signature,omitempty"`
	SubmittedAt    int64  `json:"submitted_at"`
}

// Stats is the rolling per-domain aggregate, updated once per finalized cycle.
type Stats struct {
	DomainID             string `json:"domain_id"`
	CurrentCycleID       int64  `json:"current_cycle_id"`
	TotalChecks          int64  `json:"total_checks"`
	SuccessfulChecks     int64  `json:"successful_checks"`
	FailedChecks         int64  `json:"failed_checks"`
	UptimePercent        int64  `json:"uptime_percent"`
	TotalDownTimeSeconds int64  `json:"total_downtime_seconds"`
	CurrentStatus        bool   `json:"current_status"`
	LastConsensusAt      int64  `json:"last_consensus_at"`
}

type Status struct {
	DomainID string `json:"domain_id"`
	IsUp     bool   `json:"is_up"`
	Label    string `json:"label"`
}

// Transfer is an outbound movement of funds: payouts, withdrawals and refunds.
type Transfer struct {
	ID        int64  `json:"id"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	DomainID  string `json:"domain_id,omitempty"`
	CycleID   int64  `json:"cycle_id,omitempty"`
	TS        string `json:"ts"`
}

// UpkeepProbe is the answer to "is anything due?".
type UpkeepProbe struct {
	Needed       bool   `json:"needed"`
	DomainID     string `json:"domain_id,omitempty"`
	Unassignable bool   `json:"unassignable,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type UpkeepResult struct {
	Performed bool   `json:"performed"`
	DomainID  string `json:"domain_id,omitempty"`
	Cycle     *Cycle `json:"cycle,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}
