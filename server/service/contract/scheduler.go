// Package contract owns the lifecycle of recurring rental and budget contracts.
//
// Scheduler is the only writer of a contract's recurrence status. Every
// successful change is persisted first and then published on the
// invalidation bus, so views reading rentals, budgets or dashboard metrics
// refetch.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/rentflow/internal/clock"
	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/scheduler/recurrence"
	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/cache"
)

// Store is the record store the scheduler persists through.
type Store interface {
	CreateContract(ctx context.Context, create *store.Contract) (*store.Contract, error)
	GetContract(ctx context.Context, find *store.FindContract) (*store.Contract, error)
	ListContracts(ctx context.Context, find *store.FindContract) ([]*store.Contract, error)
	UpdateContract(ctx context.Context, update *store.UpdateContract) (bool, error)
	UpdateContractStatus(ctx context.Context, update *store.UpdateContractStatus) (bool, error)
}

// Publisher announces that cached collections changed. *invalidation.Bus implements it.
type Publisher interface {
	Publish(kinds ...cache.Kind) int
}

// Action names a status transition.
type Action string

const (
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

type transition struct {
	from []store.RecurrenceStatus
	to   store.RecurrenceStatus
}

var transitions = map[Action]transition{
	ActionPause:    {from: []store.RecurrenceStatus{store.RecurrenceActive}, to: store.RecurrencePaused},
	ActionResume:   {from: []store.RecurrenceStatus{store.RecurrencePaused}, to: store.RecurrenceActive},
	ActionCancel:   {from: []store.RecurrenceStatus{store.RecurrenceActive, store.RecurrencePaused}, to: store.RecurrenceCancelled},
	ActionComplete: {from: []store.RecurrenceStatus{store.RecurrenceActive, store.RecurrencePaused}, to: store.RecurrenceCompleted},
}

func (t transition) allows(status store.RecurrenceStatus) bool {
	for _, s := range t.from {
		if s == status {
			return true
		}
	}
	return false
}

// Scheduler drives recurring contracts through their state machine.
type Scheduler struct {
	store  Store
	bus    Publisher
	clock  clock.Clock
	logger *slog.Logger
}

// NewScheduler creates a scheduler. bus may be nil, in which case nothing is published.
func NewScheduler(store Store, bus Publisher, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		bus:    bus,
		clock:  clk,
		logger: logger.With("component", "contract-scheduler"),
	}
}

// OwningKind returns the cached collection a contract of kind belongs to.
func OwningKind(kind store.ContractKind) cache.Kind {
	if kind == store.ContractBudget {
		return cache.KindBudgets
	}
	return cache.KindRentals
}

// Get returns the contract with id.
func (s *Scheduler) Get(ctx context.Context, id int32) (*store.Contract, error) {
	contract, err := s.store.GetContract(ctx, &store.FindContract{ID: &id})
	if err != nil {
		return nil, apperrors.Backend(fmt.Sprintf("load contract %d", id), err)
	}
	if contract == nil {
		return nil, apperrors.NotFound(fmt.Sprintf("contract %d not found", id))
	}
	return contract, nil
}

// Pause stops renewals of an active contract.
func (s *Scheduler) Pause(ctx context.Context, id int32) (*store.Contract, error) {
	return s.apply(ctx, id, ActionPause)
}

// Resume reactivates a paused contract.
func (s *Scheduler) Resume(ctx context.Context, id int32) (*store.Contract, error) {
	return s.apply(ctx, id, ActionResume)
}

// Cancel stops an active or paused contract for good. History is kept.
func (s *Scheduler) Cancel(ctx context.Context, id int32) (*store.Contract, error) {
	return s.apply(ctx, id, ActionCancel)
}

// Complete ends an active or paused contract whose recurrence ran out.
func (s *Scheduler) Complete(ctx context.Context, id int32) (*store.Contract, error) {
	return s.apply(ctx, id, ActionComplete)
}

func (s *Scheduler) apply(ctx context.Context, id int32, action Action) (*store.Contract, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, contract, action); err != nil {
		return nil, err
	}
	s.publish(contract.Kind)
	return contract, nil
}

// transition moves contract to the action's target status and updates it in place. It does not publish.
func (s *Scheduler) transition(ctx context.Context, contract *store.Contract, action Action) error {
	if !contract.IsRecurring() {
		return apperrors.Validation(fmt.Sprintf("contract %d is not recurring", contract.ID))
	}
	t, ok := transitions[action]
	if !ok {
		return apperrors.Validation(fmt.Sprintf("unknown action %q", action))
	}

	from := contract.Recurrence.Status
	if !t.allows(from) {
		return apperrors.InvalidTransition(from.String(), string(action)).WithContext("contract_id", contract.ID)
	}

	updated, err := s.store.UpdateContractStatus(ctx, &store.UpdateContractStatus{
		ID:        contract.ID,
		From:      from,
		To:        t.to,
		UpdatedTs: s.clock.Now().Unix(),
	})
	if err != nil {
		return apperrors.Backend(fmt.Sprintf("persist %s of contract %d", action, contract.ID), err)
	}
	if !updated {
		return s.lostRace(ctx, contract.ID, string(action))
	}

	contract.Recurrence.Status = t.to
	s.logger.Info("contract status changed",
		"contract_id", contract.ID,
		"action", string(action),
		"from", from.String(),
		"to", t.to.String())
	return nil
}

func (s *Scheduler) publish(kinds ...store.ContractKind) {
	if s.bus == nil {
		return
	}
	seen := make(map[cache.Kind]bool)
	targets := make([]cache.Kind, 0, len(kinds)+1)
	for _, k := range kinds {
		kind := OwningKind(k)
		if !seen[kind] {
			seen[kind] = true
			targets = append(targets, kind)
		}
	}
	targets = append(targets, cache.KindDashboard)
	s.bus.Publish(targets...)
}

// CreateRequest describes a new contract. Recurrence is nil for one-off contracts.
type CreateRequest struct {
	Kind        store.ContractKind `json:"kind"`
	ClientID    int32              `json:"clientId"`
	EquipmentID *int32             `json:"equipmentId,omitempty"`
	Title       string             `json:"title"`
	AmountCents int64              `json:"amountCents"`
	Start       time.Time          `json:"start"`
	ParentID    *int32             `json:"parentId,omitempty"`
	Recurrence  *RecurrenceRequest `json:"recurrence,omitempty"`
}

// RecurrenceRequest is the recurring part of a CreateRequest.
type RecurrenceRequest struct {
	Unit     string     `json:"unit"`
	Interval int        `json:"interval"`
	Until    *time.Time `json:"until,omitempty"`
}

// Create validates and stores a contract. Recurring contracts start active with derived dates computed.
func (s *Scheduler) Create(ctx context.Context, req *CreateRequest) (*store.Contract, error) {
	if req.Kind != store.ContractRental && req.Kind != store.ContractBudget {
		return nil, apperrors.Validation(fmt.Sprintf("unknown contract kind %q", req.Kind))
	}
	if req.ClientID <= 0 {
		return nil, apperrors.Validation("client id is required")
	}
	if req.Start.IsZero() {
		return nil, apperrors.Validation("start date is required")
	}

	create := &store.Contract{
		UID:         shortuuid.New(),
		Kind:        req.Kind,
		ClientID:    req.ClientID,
		EquipmentID: req.EquipmentID,
		Title:       req.Title,
		AmountCents: req.AmountCents,
		StartTs:     req.Start.Unix(),
		ParentID:    req.ParentID,
	}
	if req.Recurrence != nil {
		r, err := buildRecurrence(req.Start.UTC(), req.Recurrence.Unit, req.Recurrence.Interval, req.Recurrence.Until)
		if err != nil {
			return nil, err
		}
		r.Status = store.RecurrenceActive
		create.Recurrence = r
	}

	contract, err := s.store.CreateContract(ctx, create)
	if err != nil {
		return nil, apperrors.Backend("create contract", err)
	}
	s.logger.Info("contract created", "contract_id", contract.ID, "kind", contract.Kind.String(), "recurring", contract.IsRecurring())
	s.publish(contract.Kind)
	return contract, nil
}

// UpdateRecurrenceRequest changes the rule of a recurring contract. Nil fields are kept.
type UpdateRecurrenceRequest struct {
	Start    *time.Time `json:"start,omitempty"`
	Unit     *string    `json:"unit,omitempty"`
	Interval *int       `json:"interval,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// UpdateRecurrence edits the rule of a live contract and recomputes its derived dates.
func (s *Scheduler) UpdateRecurrence(ctx context.Context, id int32, req *UpdateRecurrenceRequest) (*store.Contract, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contract.IsRecurring() {
		return nil, apperrors.Validation(fmt.Sprintf("contract %d is not recurring", id))
	}
	if contract.Recurrence.Status.IsTerminal() {
		return nil, apperrors.InvalidTransition(contract.Recurrence.Status.String(), "update recurrence").WithContext("contract_id", id)
	}

	start := contract.StartTime()
	if req.Start != nil {
		start = req.Start.UTC()
	}
	unit := contract.Recurrence.Unit
	if req.Unit != nil {
		unit = *req.Unit
	}
	interval := contract.Recurrence.Interval
	if req.Interval != nil {
		interval = *req.Interval
	}
	until := untilTime(contract.Recurrence.UntilTs)
	if req.Until != nil {
		until = req.Until
	}

	r, err := buildRecurrence(start, unit, interval, until)
	if err != nil {
		return nil, err
	}

	startTs, updatedTs := start.Unix(), s.clock.Now().Unix()
	update := &store.UpdateContract{
		ID:               id,
		UpdatedTs:        &updatedTs,
		StartTs:          &startTs,
		Unit:             &r.Unit,
		Interval:         &r.Interval,
		EndTs:            &r.EndTs,
		NextOccurrenceTs: &r.NextOccurrenceTs,
		UntilTs:          r.UntilTs,
		ExpectStatus:     &contract.Recurrence.Status,
	}
	updated, err := s.store.UpdateContract(ctx, update)
	if err != nil {
		return nil, apperrors.Backend(fmt.Sprintf("update recurrence of contract %d", id), err)
	}
	if !updated {
		return nil, s.lostRace(ctx, id, "update recurrence")
	}

	r.Status = contract.Recurrence.Status
	contract.StartTs, contract.UpdatedTs, contract.Recurrence = startTs, updatedTs, r
	s.publish(contract.Kind)
	return contract, nil
}

// Occurrences lists the contract's period starts in [from, to).
// Only active contracts generate future occurrences; for the others the window ends now.
func (s *Scheduler) Occurrences(ctx context.Context, id int32, from, to time.Time, limit int) ([]recurrence.Occurrence, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contract.IsRecurring() {
		return nil, apperrors.Validation(fmt.Sprintf("contract %d is not recurring", id))
	}

	r := contract.Recurrence
	if r.Status != store.RecurrenceActive {
		if now := s.clock.Now(); to.IsZero() || to.After(now) {
			to = now
		}
	}
	if r.UntilTs != nil {
		if until := time.Unix(*r.UntilTs, 0).UTC(); to.IsZero() || to.After(until) {
			to = until
		}
	}

	rule := recurrence.Rule{Unit: recurrence.Unit(r.Unit), Interval: r.Interval, Anchor: contract.StartTime()}
	return recurrence.Occurrences(rule, from, to, limit)
}

// buildRecurrence validates a rule and computes its derived dates. Nothing is persisted on error.
func buildRecurrence(start time.Time, unitName string, interval int, until *time.Time) (*store.Recurrence, error) {
	unit, err := recurrence.ParseUnit(unitName)
	if err != nil {
		return nil, err
	}
	schedule, err := recurrence.ComputeSchedule(start, unit, interval)
	if err != nil {
		return nil, err
	}

	r := &store.Recurrence{
		Unit:             string(unit),
		Interval:         interval,
		EndTs:            schedule.EndDate.Unix(),
		NextOccurrenceTs: schedule.NextOccurrenceDate.Unix(),
	}
	if until != nil {
		if !until.After(start) {
			return nil, apperrors.Validation("recurrence end must be after the start date")
		}
		ts := until.Unix()
		r.UntilTs = &ts
	}
	return r, nil
}

func untilTime(ts *int64) *time.Time {
	if ts == nil {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}

// lostRace reports a guarded write that matched no row: someone else moved the
// contract first, so the error names the status stored now.
func (s *Scheduler) lostRace(ctx context.Context, id int32, action string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	status := store.RecurrenceStatus("")
	if current.Recurrence != nil {
		status = current.Recurrence.Status
	}
	return apperrors.InvalidTransition(status.String(), action).WithContext("contract_id", id)
}
