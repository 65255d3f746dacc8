package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	DomainRegistered      = "domain.registered"
	DomainStaked          = "domain.staked"
	DomainWithdrawn       = "domain.withdrawn"
	DomainIntervalUpdated = "domain.interval.updated"
	DomainUnregistered    = "domain.unregistered"
	ValidatorRegistered   = "validator.registered"
	ValidatorDeactivated  = "validator.deactivated"
	JobAssigned           = "job.assigned"
	JobCompleted          = "job.completed"
	CycleInitiated        = "cycle.initiated"
	ResultSubmitted       = "result.submitted"
	CycleFinalized        = "cycle.finalized"
	StakeDebited          = "stake.debited"
	StakeShortfall        = "stake.shortfall"
	PoolFunded            = "pool.funded"
	RewardPaid            = "reward.paid"
	RewardShortfall       = "reward.shortfall"
	UpkeepPerformed       = "upkeep.performed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
