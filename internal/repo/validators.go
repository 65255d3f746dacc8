package repo

import (
	"context"
	"database/sql"

	"uptimeline/internal/domain"
)

const validatorColumns = `id,active,total_jobs,last_assigned_at,registered_at,updated_at`

func scanValidator(row interface{ Scan(...any) error }) (domain.Validator, error) {
	var v domain.Validator
	var active int
	err := row.Scan(&v.ID, &active, &v.TotalJobsAssigned, &v.LastAssignedAt, &v.RegisteredAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	v.Active = active == 1
	return v, err
}

func (r Repo) GetValidator(ctx context.Context, tx *sql.Tx, id string) (domain.Validator, error) {
	return scanValidator(r.conn(tx).QueryRowContext(ctx, `SELECT `+validatorColumns+` FROM validators WHERE id=?`, id))
}

// ActivateValidator creates or reactivates a validator at the given rotation position.
func (r Repo) ActivateValidator(ctx context.Context, tx *sql.Tx, id string, position int64, now string) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO validators(id,active,position,registered_at,updated_at) VALUES (?,1,?,?,?)
ON CONFLICT(id) DO UPDATE SET active=1, position=excluded.position, updated_at=excluded.updated_at`, id, position, now, now)
	return err
}

func (r Repo) DeactivateValidator(ctx context.Context, tx *sql.Tx, id string, now string) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE validators SET active=0, position=NULL, updated_at=? WHERE id=? AND active=1`, now, id))
}

// ListActiveValidators returns the active set in rotation order.
func (r Repo) ListActiveValidators(ctx context.Context, tx *sql.Tx) ([]domain.Validator, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+validatorColumns+` FROM validators WHERE active=1 ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Validator
	for rows.Next() {
		v, err := scanValidator(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) CountActiveValidators(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM validators WHERE active=1`).Scan(&n)
	return n, err
}

// Rotation is the round-robin state: the cursor into the active set and the
// next free position handed to a newly activated validator.
type Rotation struct {
	Cursor       int64
	NextPosition int64
}

func (r Repo) GetRotation(ctx context.Context, tx *sql.Tx) (Rotation, error) {
	var rot Rotation
	err := r.conn(tx).QueryRowContext(ctx, `SELECT cursor,next_position FROM rotation WHERE id=1`).Scan(&rot.Cursor, &rot.NextPosition)
	if err == sql.ErrNoRows {
		return rot, ErrNotFound
	}
	return rot, err
}

func (r Repo) SaveRotation(ctx context.Context, tx *sql.Tx, rot Rotation) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE rotation SET cursor=?, next_position=? WHERE id=1`, rot.Cursor, rot.NextPosition))
}

func (r Repo) RecordAssignment(ctx context.Context, tx *sql.Tx, validatorID string, at int64) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE validators SET total_jobs=total_jobs+1, last_assigned_at=? WHERE id=?`, at, validatorID))
}
