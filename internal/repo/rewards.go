package repo

import (
	"context"
	"database/sql"

	"uptimeline/internal/domain"
)

func (r Repo) PoolBalance(ctx context.Context, tx *sql.Tx) (int64, error) {
	var balance int64
	err := r.conn(tx).QueryRowContext(ctx, `SELECT balance FROM reward_pool WHERE id=1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return balance, err
}

func (r Repo) SetPoolBalance(ctx context.Context, tx *sql.Tx, balance int64) error {
	return mustAffect(r.conn(tx).ExecContext(ctx, `UPDATE reward_pool SET balance=? WHERE id=1`, balance))
}

func (r Repo) InsertTransfer(ctx context.Context, tx *sql.Tx, t domain.Transfer) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO transfers(recipient,amount,reason,domain_id,cycle_id,ts) VALUES (?,?,?,?,?,?)`,
		t.Recipient, t.Amount, t.Reason, nullable(t.DomainID), nullableInt(t.CycleID), t.TS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTransfers returns outbound transfers, newest first, optionally for one recipient.
func (r Repo) ListTransfers(ctx context.Context, recipient string, limit int) ([]domain.Transfer, error) {
	query := `SELECT id,recipient,amount,reason,COALESCE(domain_id,''),COALESCE(cycle_id,0),ts FROM transfers`
	var args []any
	if recipient != "" {
		query += ` WHERE recipient=?`
		args = append(args, recipient)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		if err := rows.Scan(&t.ID, &t.Recipient, &t.Amount, &t.Reason, &t.DomainID, &t.CycleID, &t.TS); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
