package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"uptimeline/internal/domain"
	"uptimeline/internal/events"
	"uptimeline/internal/repo"
)

// Transfer reasons recorded in the outbound transfer log.
const (
	TransferWithdraw = "withdraw"
	TransferRefund   = "refund"
	TransferReward   = "reward"
)

// RegisterDomain opens a stake account for domainID owned by the caller and
// makes it due for its first check immediately.
func (e Engine) RegisterDomain(ctx context.Context, domainID string, interval, stake int64, caller string) (domain.Domain, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Domain{}, err
	}
	domainID = strings.TrimSpace(domainID)
	if domainID == "" {
		return domain.Domain{}, ErrInvalidDomain
	}
	if stake < e.Config.Staking.MinStake {
		return domain.Domain{}, fmt.Errorf("%w: %d < %d", ErrInsufficientStake, stake, e.Config.Staking.MinStake)
	}
	if interval <= 0 || interval < e.Config.Staking.MinIntervalSeconds {
		return domain.Domain{}, fmt.Errorf("%w: %ds (min %ds)", ErrInvalidInterval, interval, e.Config.Staking.MinIntervalSeconds)
	}
	var d domain.Domain
	err = e.write(ctx, "ledger.register", domainAttr(domainID), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := e.Repo.GetDomain(ctx, tx, domainID); err == nil {
			return fmt.Errorf("domain %s: %w", domainID, ErrAlreadyRegistered)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		now := e.stamp()
		d = domain.Domain{
			ID:              domainID,
			Owner:           caller,
			Balance:         stake,
			IntervalSeconds: interval,
			Monitored:       true,
			RegisteredAt:    now,
			UpdatedAt:       now,
		}
		if err := e.Repo.InsertDomain(ctx, tx, d); err != nil {
			return fmt.Errorf("insert domain: %w", err)
		}
		if err := e.Repo.InsertSchedule(ctx, tx, domain.Schedule{DomainID: domainID, IntervalSeconds: interval}); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		if err := e.Repo.InsertStats(ctx, tx, domainID); err != nil {
			return fmt.Errorf("insert stats: %w", err)
		}
		return e.Events.Append(ctx, tx, events.DomainRegistered, "domain", domainID, caller, events.EventPayload{
			"interval_seconds": interval,
			"stake":            stake,
		})
	})
	if err != nil {
		return domain.Domain{}, err
	}
	e.logger().InfoContext(ctx, "domain registered", "domain", domainID, "owner", caller, "stake", stake, "interval", interval)
	return d, nil
}

// Stake adds amount to the balance of a domain owned by the caller.
func (e Engine) Stake(ctx context.Context, domainID string, amount int64, caller string) (domain.Domain, error) {
	if amount <= 0 {
		return domain.Domain{}, ErrInvalidAmount
	}
	return e.mutateOwned(ctx, "ledger.stake", domainID, caller, func(ctx context.Context, tx *sql.Tx, d *domain.Domain) error {
		d.Balance += amount
		d.UpdatedAt = e.stamp()
		if err := e.Repo.SetDomainBalance(ctx, tx, d.ID, d.Balance, d.UpdatedAt); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.DomainStaked, "domain", d.ID, caller, events.EventPayload{
			"amount":  amount,
			"balance": d.Balance,
		})
	})
}

// Withdraw pays amount of the domain balance back to its owner.
func (e Engine) Withdraw(ctx context.Context, domainID string, amount int64, caller string) (domain.Domain, error) {
	if amount <= 0 {
		return domain.Domain{}, ErrInvalidAmount
	}
	return e.mutateOwned(ctx, "ledger.withdraw", domainID, caller, func(ctx context.Context, tx *sql.Tx, d *domain.Domain) error {
		if d.Balance < amount {
			return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, d.Balance, amount)
		}
		d.Balance -= amount
		d.UpdatedAt = e.stamp()
		if err := e.Repo.SetDomainBalance(ctx, tx, d.ID, d.Balance, d.UpdatedAt); err != nil {
			return err
		}
		if _, err := e.Repo.InsertTransfer(ctx, tx, domain.Transfer{
			Recipient: d.Owner, Amount: amount, Reason: TransferWithdraw, DomainID: d.ID, TS: d.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}
		return e.Events.Append(ctx, tx, events.DomainWithdrawn, "domain", d.ID, caller, events.EventPayload{
			"amount":  amount,
			"balance": d.Balance,
		})
	})
}

// UpdateInterval changes the check interval; the schedule follows in the same transaction.
func (e Engine) UpdateInterval(ctx context.Context, domainID string, interval int64, caller string) (domain.Domain, error) {
	if interval <= 0 || interval < e.Config.Staking.MinIntervalSeconds {
		return domain.Domain{}, fmt.Errorf("%w: %ds (min %ds)", ErrInvalidInterval, interval, e.Config.Staking.MinIntervalSeconds)
	}
	return e.mutateOwned(ctx, "ledger.interval", domainID, caller, func(ctx context.Context, tx *sql.Tx, d *domain.Domain) error {
		prev := d.IntervalSeconds
		d.IntervalSeconds = interval
		d.UpdatedAt = e.stamp()
		if err := e.Repo.SetDomainInterval(ctx, tx, d.ID, interval, d.UpdatedAt); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.DomainIntervalUpdated, "domain", d.ID, caller, events.EventPayload{
			"from": prev,
			"to":   interval,
		})
	})
}

// UnregisterDomain stops monitoring and refunds the whole balance. History is kept
// and cycles already open may still finalize.
func (e Engine) UnregisterDomain(ctx context.Context, domainID, caller string) (domain.Domain, error) {
	return e.mutateOwned(ctx, "ledger.unregister", domainID, caller, func(ctx context.Context, tx *sql.Tx, d *domain.Domain) error {
		if !d.Monitored {
			return fmt.Errorf("domain %s: %w", d.ID, ErrNotMonitored)
		}
		refund := d.Balance
		d.Monitored = false
		d.Balance = 0
		d.UpdatedAt = e.stamp()
		if err := e.Repo.SetDomainMonitored(ctx, tx, d.ID, false, d.UpdatedAt); err != nil {
			return err
		}
		if err := e.Repo.SetDomainBalance(ctx, tx, d.ID, 0, d.UpdatedAt); err != nil {
			return err
		}
		if refund > 0 {
			if _, err := e.Repo.InsertTransfer(ctx, tx, domain.Transfer{
				Recipient: d.Owner, Amount: refund, Reason: TransferRefund, DomainID: d.ID, TS: d.UpdatedAt,
			}); err != nil {
				return fmt.Errorf("record refund: %w", err)
			}
		}
		return e.Events.Append(ctx, tx, events.DomainUnregistered, "domain", d.ID, caller, events.EventPayload{"refund": refund})
	})
}

// mutateOwned loads the domain, checks ownership and runs fn inside one write.
func (e Engine) mutateOwned(ctx context.Context, op, domainID, caller string, fn func(ctx context.Context, tx *sql.Tx, d *domain.Domain) error) (domain.Domain, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Domain{}, err
	}
	var d domain.Domain
	err = e.write(ctx, op, domainAttr(domainID), func(ctx context.Context, tx *sql.Tx) error {
		loaded, err := e.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		d = loaded
		if d.Owner != caller {
			return fmt.Errorf("domain %s: %w", domainID, ErrNotOwner)
		}
		return fn(ctx, tx, &d)
	})
	if err != nil {
		return domain.Domain{}, err
	}
	e.logger().InfoContext(ctx, op, "domain", domainID, "balance", d.Balance, "monitored", d.Monitored)
	return d, nil
}

func (e Engine) loadDomain(ctx context.Context, tx *sql.Tx, domainID string) (domain.Domain, error) {
	d, err := e.Repo.GetDomain(ctx, tx, domainID)
	if errors.Is(err, repo.ErrNotFound) {
		return d, fmt.Errorf("domain %s: %w", domainID, ErrUnknownDomain)
	}
	return d, err
}

func (e Engine) GetDomain(ctx context.Context, domainID string) (domain.Domain, error) {
	return e.loadDomain(ctx, nil, domainID)
}

// DomainsOwnedBy lists every domain record of owner, unregistered ones included.
func (e Engine) DomainsOwnedBy(ctx context.Context, owner string) ([]domain.Domain, error) {
	return e.Repo.ListDomainsByOwner(ctx, owner)
}
