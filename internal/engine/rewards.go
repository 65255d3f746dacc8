package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"uptimeline/internal/domain"
	"uptimeline/internal/events"
)

const defaultTransferLimit = 100

// FundPool deposits amount into the shared reward pool and returns the new balance.
func (e Engine) FundPool(ctx context.Context, amount int64, caller string) (int64, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err = e.write(ctx, "rewards.fund", []attribute.KeyValue{attribute.Int64("amount", amount)}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if balance, err = e.creditPoolTx(ctx, tx, amount); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.PoolFunded, "pool", "", caller, events.EventPayload{
			"amount":  amount,
			"balance": balance,
		})
	})
	if err != nil {
		return 0, err
	}
	e.logger().InfoContext(ctx, "pool funded", "amount", amount, "balance", balance, "actor", caller)
	return balance, nil
}

func (e Engine) creditPoolTx(ctx context.Context, tx *sql.Tx, amount int64) (int64, error) {
	balance, err := e.Repo.PoolBalance(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("load pool: %w", err)
	}
	balance += amount
	if err := e.Repo.SetPoolBalance(ctx, tx, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// payoutTx moves amount from the pool to validatorID. It only fails with
// ErrInsufficientPool before touching state.
func (e Engine) payoutTx(ctx context.Context, tx *sql.Tx, c domain.Cycle, validatorID string, amount int64) error {
	balance, err := e.Repo.PoolBalance(ctx, tx)
	if err != nil {
		return fmt.Errorf("load pool: %w", err)
	}
	if balance < amount {
		return fmt.Errorf("%w: pool %d, payout %d", ErrInsufficientPool, balance, amount)
	}
	if err := e.Repo.SetPoolBalance(ctx, tx, balance-amount); err != nil {
		return err
	}
	if _, err := e.Repo.InsertTransfer(ctx, tx, domain.Transfer{
		Recipient: validatorID,
		Amount:    amount,
		Reason:    TransferReward,
		DomainID:  c.DomainID,
		CycleID:   c.ID,
		TS:        e.stamp(),
	}); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	return e.Events.Append(ctx, tx, events.RewardPaid, "validator", validatorID, validatorID, events.EventPayload{
		"amount":    amount,
		"domain_id": c.DomainID,
		"cycle_id":  c.ID,
	})
}

func (e Engine) PoolBalance(ctx context.Context) (int64, error) {
	return e.Repo.PoolBalance(ctx, nil)
}

// Transfers lists outbound payments, newest first. An empty recipient lists all.
func (e Engine) Transfers(ctx context.Context, recipient string, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = defaultTransferLimit
	}
	return e.Repo.ListTransfers(ctx, recipient, limit)
}
