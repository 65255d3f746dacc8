package repo

import (
	"context"
	"database/sql"

	"uptimeline/internal/domain"
)

const cycleColumns = `domain_id,cycle_id,started_at,deadline,required,submitted,up_votes,down_votes,finalized,COALESCE(outcome,''),COALESCE(finalized_at,0)`

func scanCycle(row interface{ Scan(...any) error }) (domain.Cycle, error) {
	var c domain.Cycle
	var finalized int
	err := row.Scan(&c.DomainID, &c.ID, &c.StartedAt, &c.Deadline, &c.Required, &c.Submitted, &c.UpVotes, &c.DownVotes, &finalized, &c.Outcome, &c.FinalizedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Finalized = finalized == 1
	return c, err
}

func (r Repo) InsertCycle(ctx context.Context, tx *sql.Tx, c domain.Cycle) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO cycles(domain_id,cycle_id,started_at,deadline,required) VALUES (?,?,?,?,?)`,
		c.DomainID, c.ID, c.StartedAt, c.Deadline, c.Required)
	return err
}

// GetCycle loads a cycle with its assigned validators.
func (r Repo) GetCycle(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64) (domain.Cycle, error) {
	c, err := scanCycle(r.conn(tx).QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE domain_id=? AND cycle_id=?`, domainID, cycleID))
	if err != nil {
		return c, err
	}
	c.Validators, err = r.CycleValidators(ctx, tx, domainID, cycleID)
	return c, err
}

// RecentCycles returns up to limit cycles for a domain, newest first.
func (r Repo) RecentCycles(ctx context.Context, domainID string, limit int) ([]domain.Cycle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE domain_id=? ORDER BY cycle_id DESC LIMIT ?`, domainID, limit)
	if err != nil {
		return nil, err
	}
	var res []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].Validators, err = r.CycleValidators(ctx, nil, domainID, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// RecordVote bumps the tally of an open cycle.
func (r Repo) RecordVote(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64, isUp bool) error {
	up, down := 0, 1
	if isUp {
		up, down = 1, 0
	}
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE cycles SET submitted=submitted+1, up_votes=up_votes+?, down_votes=down_votes+? WHERE domain_id=? AND cycle_id=? AND finalized=0`,
		up, down, domainID, cycleID))
}

func (r Repo) FinalizeCycle(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64, outcome string, at int64) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE cycles SET finalized=1, outcome=?, finalized_at=? WHERE domain_id=? AND cycle_id=? AND finalized=0`,
		outcome, at, domainID, cycleID))
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64, validatorID string, jobID int64) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO cycle_assignments(domain_id,cycle_id,validator_id,job_id) VALUES (?,?,?,?)`,
		domainID, cycleID, validatorID, jobID)
	return err
}

// AssignmentJob returns the job backing a validator's seat in a cycle.
func (r Repo) AssignmentJob(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64, validatorID string) (int64, error) {
	var jobID int64
	err := r.conn(tx).QueryRowContext(ctx, `SELECT job_id FROM cycle_assignments WHERE domain_id=? AND cycle_id=? AND validator_id=?`,
		domainID, cycleID, validatorID).Scan(&jobID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return jobID, err
}

func (r Repo) CycleValidators(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64) ([]string, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT validator_id FROM cycle_assignments WHERE domain_id=? AND cycle_id=? ORDER BY job_id`, domainID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO submissions(domain_id,cycle_id,validator_id,is_up,status_code,response_time_ms,signature,submitted_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.DomainID, s.CycleID, s.ValidatorID, boolInt(s.IsUp), s.StatusCode, s.ResponseTimeMs, nullable(s.Signature), s.SubmittedAt)
	return err
}

func (r Repo) HasSubmitted(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64, validatorID string) (bool, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE domain_id=? AND cycle_id=? AND validator_id=?`,
		domainID, cycleID, validatorID).Scan(&n)
	return n > 0, err
}

func (r Repo) ListSubmissions(ctx context.Context, tx *sql.Tx, domainID string, cycleID int64) ([]domain.Submission, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT domain_id,cycle_id,validator_id,is_up,status_code,response_time_ms,COALESCE(signature,''),submitted_at
FROM submissions WHERE domain_id=? AND cycle_id=? ORDER BY submitted_at, validator_id`, domainID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var up int
		if err := rows.Scan(&s.DomainID, &s.CycleID, &s.ValidatorID, &up, &s.StatusCode, &s.ResponseTimeMs, &s.Signature, &s.SubmittedAt); err != nil {
			return nil, err
		}
		s.IsUp = up == 1
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertStats(ctx context.Context, tx *sql.Tx, domainID string) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT OR IGNORE INTO domain_stats(domain_id) VALUES (?)`, domainID)
	return err
}

func (r Repo) GetStats(ctx context.Context, tx *sql.Tx, domainID string) (domain.Stats, error) {
	var s domain.Stats
	var current int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT domain_id,current_cycle_id,total_checks,successful_checks,failed_checks,total_downtime_seconds,current_status,last_consensus_at
FROM domain_stats WHERE domain_id=?`, domainID).
		Scan(&s.DomainID, &s.CurrentCycleID, &s.TotalChecks, &s.SuccessfulChecks, &s.FailedChecks, &s.TotalDownTimeSeconds, &current, &s.LastConsensusAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.CurrentStatus = current == 1
	if s.TotalChecks > 0 {
		s.UptimePercent = s.SuccessfulChecks * 100 / s.TotalChecks
	}
	return s, err
}

func (r Repo) SaveStats(ctx context.Context, tx *sql.Tx, s domain.Stats) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE domain_stats SET current_cycle_id=?, total_checks=?, successful_checks=?, failed_checks=?,
total_downtime_seconds=?, current_status=?, last_consensus_at=? WHERE domain_id=?`,
		s.CurrentCycleID, s.TotalChecks, s.SuccessfulChecks, s.FailedChecks, s.TotalDownTimeSeconds, boolInt(s.CurrentStatus), s.LastConsensusAt, s.DomainID))
}
