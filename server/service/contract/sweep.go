package contract

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/scheduler/recurrence"
	"github.com/hrygo/rentflow/store"
)

// maxRenewalsPerSweep bounds catch-up after a long downtime.
const maxRenewalsPerSweep = 1000

// SweepResult summarizes one Sweep.
type SweepResult struct {
	Completed int `json:"completed"`
	Renewed   int `json:"renewed"`
	Failed    int `json:"failed"`
}

// Sweep completes live contracts whose recurrence end has passed and renews
// active contracts whose next occurrence is due. Paused contracts are never renewed.
//
// A contract failing to update is logged and skipped; the error of the last
// failure is returned once all contracts were processed.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		result  SweepResult
		lastErr error
		touched []store.ContractKind
	)
	now := s.clock.Now()
	recurring := true

	contracts, err := s.store.ListContracts(ctx, &store.FindContract{Recurring: &recurring})
	if err != nil {
		return result, apperrors.Backend("list recurring contracts", err)
	}

	for _, contract := range contracts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		r := contract.Recurrence
		if r.Status.IsTerminal() {
			continue
		}

		if r.UntilTs != nil && *r.UntilTs <= now.Unix() {
			if err := s.transition(ctx, contract, ActionComplete); err != nil {
				result.Failed++
				lastErr = err
				s.logger.Warn("failed to complete contract", "contract_id", contract.ID, "error", err)
				continue
			}
			result.Completed++
			touched = append(touched, contract.Kind)
			continue
		}

		if r.Status != store.RecurrenceActive || r.NextOccurrenceTs > now.Unix() {
			continue
		}
		if err := s.renew(ctx, contract, now); err != nil {
			result.Failed++
			lastErr = err
			s.logger.Warn("failed to renew contract", "contract_id", contract.ID, "error", err)
			continue
		}
		result.Renewed++
		touched = append(touched, contract.Kind)
	}

	if len(touched) > 0 {
		s.publish(touched...)
	}
	if result.Completed+result.Renewed+result.Failed > 0 {
		s.logger.Info("contract sweep finished",
			"completed", result.Completed,
			"renewed", result.Renewed,
			"failed", result.Failed)
	}
	return result, lastErr
}

// renew moves the contract's anchor to its renewal date, repeating until the next renewal is in the future.
func (s *Scheduler) renew(ctx context.Context, contract *store.Contract, now time.Time) error {
	r := contract.Recurrence
	start := contract.StartTime()
	next := time.Unix(r.NextOccurrenceTs, 0).UTC()
	schedule := recurrence.Schedule{NextOccurrenceDate: next}

	for i := 0; i < maxRenewalsPerSweep && !schedule.NextOccurrenceDate.After(now); i++ {
		if r.UntilTs != nil && schedule.NextOccurrenceDate.Unix() >= *r.UntilTs {
			break
		}
		start = schedule.NextOccurrenceDate
		var err error
		schedule, err = recurrence.ComputeSchedule(start, recurrence.Unit(r.Unit), r.Interval)
		if err != nil {
			return err
		}
	}
	if start.Equal(contract.StartTime()) {
		return nil
	}

	startTs, updatedTs := start.Unix(), now.Unix()
	endTs, nextTs := schedule.EndDate.Unix(), schedule.NextOccurrenceDate.Unix()
	active := store.RecurrenceActive
	updated, err := s.store.UpdateContract(ctx, &store.UpdateContract{
		ID:               contract.ID,
		UpdatedTs:        &updatedTs,
		StartTs:          &startTs,
		EndTs:            &endTs,
		NextOccurrenceTs: &nextTs,
		ExpectStatus:     &active,
	})
	if err != nil {
		return apperrors.Backend(fmt.Sprintf("renew contract %d", contract.ID), err)
	}
	if !updated {
		return s.lostRace(ctx, contract.ID, "renew")
	}

	contract.StartTs, contract.UpdatedTs = startTs, updatedTs
	r.EndTs, r.NextOccurrenceTs = endTs, nextTs
	return nil
}
