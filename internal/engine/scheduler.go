package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"uptimeline/internal/domain"
	"uptimeline/internal/events"
	"uptimeline/internal/repo"
)

const defaultHistoryLimit = 50

// RegisterValidator appends the caller to the end of the active rotation.
func (e Engine) RegisterValidator(ctx context.Context, caller string) (domain.Validator, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Validator{}, err
	}
	var v domain.Validator
	var active int
	err = e.write(ctx, "scheduler.register_validator", validatorAttr(caller), func(ctx context.Context, tx *sql.Tx) error {
		existing, err := e.Repo.GetValidator(ctx, tx, caller)
		switch {
		case err == nil && existing.Active:
			return fmt.Errorf("validator %s: %w", caller, ErrAlreadyRegistered)
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return err
		}
		rot, err := e.Repo.GetRotation(ctx, tx)
		if err != nil {
			return fmt.Errorf("load rotation: %w", err)
		}
		if err := e.Repo.ActivateValidator(ctx, tx, caller, rot.NextPosition, e.stamp()); err != nil {
			return fmt.Errorf("activate validator: %w", err)
		}
		rot.NextPosition++
		if err := e.Repo.SaveRotation(ctx, tx, rot); err != nil {
			return err
		}
		if v, err = e.Repo.GetValidator(ctx, tx, caller); err != nil {
			return err
		}
		if active, err = e.Repo.CountActiveValidators(ctx, tx); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ValidatorRegistered, "validator", caller, caller, events.EventPayload{
			"reactivated": existing.ID != "",
		})
	})
	if err != nil {
		return domain.Validator{}, err
	}
	e.Metrics.SetActiveValidators(active)
	e.logger().InfoContext(ctx, "validator registered", "validator", caller, "active", active)
	return v, nil
}

// DeactivateValidator takes the caller out of the rotation. The record and its
// job history stay addressable.
func (e Engine) DeactivateValidator(ctx context.Context, caller string) (domain.Validator, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Validator{}, err
	}
	var v domain.Validator
	var active int
	err = e.write(ctx, "scheduler.deactivate_validator", validatorAttr(caller), func(ctx context.Context, tx *sql.Tx) error {
		if err := e.Repo.DeactivateValidator(ctx, tx, caller, e.stamp()); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("validator %s: %w", caller, ErrNotRegistered)
			}
			return err
		}
		var err error
		if v, err = e.Repo.GetValidator(ctx, tx, caller); err != nil {
			return err
		}
		if active, err = e.Repo.CountActiveValidators(ctx, tx); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ValidatorDeactivated, "validator", caller, caller, nil)
	})
	if err != nil {
		return domain.Validator{}, err
	}
	e.Metrics.SetActiveValidators(active)
	e.logger().InfoContext(ctx, "validator deactivated", "validator", caller, "active", active)
	return v, nil
}

// AssignJob hands a check of domainID to the next validator in rotation.
func (e Engine) AssignJob(ctx context.Context, domainID, caller string) (domain.Job, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	err = e.write(ctx, "scheduler.assign_job", domainAttr(domainID), func(ctx context.Context, tx *sql.Tx) error {
		d, err := e.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		job, err = e.assignJobTx(ctx, tx, d, 0, caller)
		return err
	})
	return job, err
}

// assignJobTx picks the validator under the rotation cursor, advances the
// cursor and appends the job. Successive calls over an unchanged active set of
// size n visit every validator once per n calls.
func (e Engine) assignJobTx(ctx context.Context, tx *sql.Tx, d domain.Domain, cycleID int64, caller string) (domain.Job, error) {
	active, err := e.Repo.ListActiveValidators(ctx, tx)
	if err != nil {
		return domain.Job{}, err
	}
	if len(active) == 0 {
		return domain.Job{}, ErrNoActiveValidators
	}
	rot, err := e.Repo.GetRotation(ctx, tx)
	if err != nil {
		return domain.Job{}, fmt.Errorf("load rotation: %w", err)
	}
	n := int64(len(active))
	idx := rot.Cursor % n
	rot.Cursor = (idx + 1) % n
	if err := e.Repo.SaveRotation(ctx, tx, rot); err != nil {
		return domain.Job{}, err
	}
	chosen := active[idx].ID
	now := e.unix()
	job := domain.Job{
		DomainID:    d.ID,
		ValidatorID: chosen,
		CycleID:     cycleID,
		AssignedAt:  now,
		NextCheckAt: now + d.IntervalSeconds,
	}
	if job.ID, err = e.Repo.InsertJob(ctx, tx, job); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Repo.RecordAssignment(ctx, tx, chosen, now); err != nil {
		return domain.Job{}, err
	}
	payload := events.EventPayload{"job_id": job.ID, "validator_id": chosen}
	if cycleID > 0 {
		payload["cycle_id"] = cycleID
	}
	if err := e.Events.Append(ctx, tx, events.JobAssigned, "domain", d.ID, caller, payload); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// CompleteJob marks one of the caller's jobs on domainID done. A zero jobID
// selects the caller's oldest pending job for the domain. Completing a
// completed job is a no-op.
func (e Engine) CompleteJob(ctx context.Context, domainID string, jobID int64, caller string) (domain.Job, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	err = e.write(ctx, "scheduler.complete_job", domainAttr(domainID), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := e.loadDomain(ctx, tx, domainID); err != nil {
			return err
		}
		var err error
		if jobID == 0 {
			job, err = e.Repo.OldestPendingJob(ctx, tx, domainID, caller)
		} else {
			job, err = e.Repo.GetJob(ctx, tx, jobID)
		}
		if errors.Is(err, repo.ErrNotFound) || (err == nil && job.DomainID != domainID) {
			return fmt.Errorf("domain %s job %d: %w", domainID, jobID, ErrJobNotFound)
		}
		if err != nil {
			return err
		}
		if job.ValidatorID != caller {
			return fmt.Errorf("job %d: %w", job.ID, ErrNotAssigned)
		}
		if job.Completed {
			return nil
		}
		return e.completeJobTx(ctx, tx, &job, caller)
	})
	return job, err
}

func (e Engine) completeJobTx(ctx context.Context, tx *sql.Tx, job *domain.Job, caller string) error {
	now := e.unix()
	if err := e.Repo.CompleteJob(ctx, tx, job.ID, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	job.Completed = true
	job.CompletedAt = now
	return e.Events.Append(ctx, tx, events.JobCompleted, "domain", job.DomainID, caller, events.EventPayload{"job_id": job.ID})
}

// ActiveValidators returns the active set in rotation order.
func (e Engine) ActiveValidators(ctx context.Context) ([]domain.Validator, error) {
	return e.Repo.ListActiveValidators(ctx, nil)
}

func (e Engine) GetValidator(ctx context.Context, id string) (domain.Validator, error) {
	v, err := e.Repo.GetValidator(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return v, fmt.Errorf("validator %s: %w", id, ErrNotRegistered)
	}
	return v, err
}

func (e Engine) PendingJobs(ctx context.Context, validatorID string) ([]domain.Job, error) {
	return e.Repo.PendingJobs(ctx, validatorID)
}

func (e Engine) GetSchedule(ctx context.Context, domainID string) (domain.Schedule, error) {
	s, err := e.Repo.GetSchedule(ctx, nil, domainID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, fmt.Errorf("domain %s: %w", domainID, ErrUnknownDomain)
	}
	return s, err
}

// DomainJobHistory returns up to limit jobs of the domain, newest first.
func (e Engine) DomainJobHistory(ctx context.Context, domainID string, limit int) ([]domain.Job, error) {
	if _, err := e.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return e.Repo.DomainJobs(ctx, domainID, limit)
}

// IsCheckDue reports whether a monitored domain has reached its next check time.
func (e Engine) IsCheckDue(ctx context.Context, domainID string) (bool, error) {
	d, err := e.GetDomain(ctx, domainID)
	if err != nil {
		return false, err
	}
	s, err := e.GetSchedule(ctx, domainID)
	if err != nil {
		return false, err
	}
	return d.Monitored && e.unix() >= s.NextDueAt, nil
}

func validatorAttr(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("validator.id", id)}
}
