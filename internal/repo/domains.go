package repo

import (
	"context"
	"database/sql"

	"uptimeline/internal/domain"
)

const domainColumns = `id,owner,balance,interval_seconds,monitored,registered_at,updated_at`

func scanDomain(row interface{ Scan(...any) error }) (domain.Domain, error) {
	var d domain.Domain
	var monitored int
	err := row.Scan(&d.ID, &d.Owner, &d.Balance, &d.IntervalSeconds, &monitored, &d.RegisteredAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.Monitored = monitored == 1
	return d, err
}

func (r Repo) InsertDomain(ctx context.Context, tx *sql.Tx, d domain.Domain) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO domains(`+domainColumns+`) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.Owner, d.Balance, d.IntervalSeconds, boolInt(d.Monitored), d.RegisteredAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDomain(ctx context.Context, tx *sql.Tx, id string) (domain.Domain, error) {
	return scanDomain(r.conn(tx).QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE id=?`, id))
}

func (r Repo) SetDomainBalance(ctx context.Context, tx *sql.Tx, id string, balance int64, updatedAt string) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE domains SET balance=?, updated_at=? WHERE id=?`, balance, updatedAt, id))
}

func (r Repo) SetDomainInterval(ctx context.Context, tx *sql.Tx, id string, interval int64, updatedAt string) error {
	if err := mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE domains SET interval_seconds=?, updated_at=? WHERE id=?`, interval, updatedAt, id)); err != nil {
		return err
	}
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE schedules SET interval_seconds=? WHERE domain_id=?`, interval, id))
}

func (r Repo) SetDomainMonitored(ctx context.Context, tx *sql.Tx, id string, monitored bool, updatedAt string) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE domains SET monitored=?, updated_at=? WHERE id=?`, boolInt(monitored), updatedAt, id))
}

func (r Repo) ListDomainsByOwner(ctx context.Context, owner string) ([]domain.Domain, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE owner=? ORDER BY registered_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// InsertSchedule seeds scheduling metadata; a zero lastScheduled makes the domain due at once.
func (r Repo) InsertSchedule(ctx context.Context, tx *sql.Tx, s domain.Schedule) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO schedules(domain_id,interval_seconds,last_scheduled) VALUES (?,?,?)`,
		s.DomainID, s.IntervalSeconds, s.LastScheduled)
	return err
}

func (r Repo) GetSchedule(ctx context.Context, tx *sql.Tx, domainID string) (domain.Schedule, error) {
	var s domain.Schedule
	err := r.conn(tx).QueryRowContext(ctx, `SELECT domain_id,interval_seconds,last_scheduled FROM schedules WHERE domain_id=?`, domainID).
		Scan(&s.DomainID, &s.IntervalSeconds, &s.LastScheduled)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.NextDueAt = s.LastScheduled + s.IntervalSeconds
	return s, err
}

func (r Repo) TouchSchedule(ctx context.Context, tx *sql.Tx, domainID string, at int64) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE schedules SET last_scheduled=? WHERE domain_id=?`, at, domainID))
}

// DueDomains returns at most limit monitored domains due at now whose balance
// covers minBalance, earliest due first.
func (r Repo) DueDomains(ctx context.Context, tx *sql.Tx, now, minBalance int64, limit int) ([]domain.Schedule, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `
SELECT s.domain_id, s.interval_seconds, s.last_scheduled
FROM schedules s JOIN domains d ON d.id = s.domain_id
WHERE d.monitored = 1 AND s.last_scheduled + s.interval_seconds <= ? AND d.balance >= ?
ORDER BY s.last_scheduled + s.interval_seconds, s.domain_id
LIMIT ?`, now, minBalance, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		if err := rows.Scan(&s.DomainID, &s.IntervalSeconds, &s.LastScheduled); err != nil {
			return nil, err
		}
		s.NextDueAt = s.LastScheduled + s.IntervalSeconds
		res = append(res, s)
	}
	return res, rows.Err()
}
