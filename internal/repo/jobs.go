package repo

import (
	"context"
	"database/sql"

	"uptimeline/internal/domain"
)

const jobColumns = `id,domain_id,validator_id,COALESCE(cycle_id,0),assigned_at,next_check_at,completed,COALESCE(completed_at,0)`

func scanJob(row interface{ Scan(...any) error }) (domain.Job, error) {
	var j domain.Job
	var completed int
	err := row.Scan(&j.ID, &j.DomainID, &j.ValidatorID, &j.CycleID, &j.AssignedAt, &j.NextCheckAt, &completed, &j.CompletedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	j.Completed = completed == 1
	return j, err
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO jobs(domain_id,validator_id,cycle_id,assigned_at,next_check_at,completed) VALUES (?,?,?,?,?,0)`,
		j.DomainID, j.ValidatorID, nullableInt(j.CycleID), j.AssignedAt, j.NextCheckAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetJob(ctx context.Context, tx *sql.Tx, id int64) (domain.Job, error) {
	return scanJob(r.conn(tx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

// OldestPendingJob returns the validator's earliest open job for the domain.
func (r Repo) OldestPendingJob(ctx context.Context, tx *sql.Tx, domainID, validatorID string) (domain.Job, error) {
	return scanJob(r.conn(tx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE domain_id=? AND validator_id=? AND completed=0 ORDER BY id LIMIT 1`,
		domainID, validatorID))
}

func (r Repo) CompleteJob(ctx context.Context, tx *sql.Tx, id int64, at int64) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE jobs SET completed=1, completed_at=? WHERE id=? AND completed=0`, at, id))
}

func (r Repo) PendingJobs(ctx context.Context, validatorID string) ([]domain.Job, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE validator_id=? AND completed=0 ORDER BY id`, validatorID)
}

// DomainJobs returns the domain's job history, newest first.
func (r Repo) DomainJobs(ctx context.Context, domainID string, limit int) ([]domain.Job, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE domain_id=? ORDER BY id DESC LIMIT ?`, domainID, limit)
}

func (r Repo) listJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
