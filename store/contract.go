package store

import (
	"context"
	"time"
)

// ContractKind tells which collection a contract belongs to.
type ContractKind string

const (
	ContractRental ContractKind = "RENTAL"
	ContractBudget ContractKind = "BUDGET"
)

func (k ContractKind) String() string {
	return string(k)
}

// RecurrenceStatus is the lifecycle state of a recurring contract.
type RecurrenceStatus string

const (
	RecurrenceActive    RecurrenceStatus = "ACTIVE"
	RecurrencePaused    RecurrenceStatus = "PAUSED"
	RecurrenceCancelled RecurrenceStatus = "CANCELLED"
	RecurrenceCompleted RecurrenceStatus = "COMPLETED"
)

func (s RecurrenceStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no transition may leave the status.
func (s RecurrenceStatus) IsTerminal() bool {
	return s == RecurrenceCancelled || s == RecurrenceCompleted
}

// Recurrence holds the recurring part of a contract. EndTs and NextOccurrenceTs are derived, never edited directly.
type Recurrence struct {
	Unit             string           `json:"unit"`
	Interval         int              `json:"interval"`
	Status           RecurrenceStatus `json:"status"`
	EndTs            int64            `json:"endTs"`
	NextOccurrenceTs int64            `json:"nextOccurrenceTs"`
	// UntilTs optionally bounds renewals; the contract completes once it has passed.
	UntilTs *int64 `json:"untilTs,omitempty"`
}

// Contract is a rental or budget agreement with a client.
type Contract struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`

	Kind        ContractKind `json:"kind"`
	ClientID    int32        `json:"clientId"`
	EquipmentID *int32       `json:"equipmentId,omitempty"`
	Title       string       `json:"title"`
	AmountCents int64        `json:"amountCents"`
	StartTs     int64        `json:"startTs"`
	ParentID    *int32       `json:"parentId,omitempty"`

	// Recurrence is nil for one-off contracts.
	Recurrence *Recurrence `json:"recurrence,omitempty"`
}

// IsRecurring reports whether the contract carries a recurrence.
func (c *Contract) IsRecurring() bool {
	return c.Recurrence != nil
}

// StartTime returns the contract start in UTC.
func (c *Contract) StartTime() time.Time {
	return time.Unix(c.StartTs, 0).UTC()
}

type FindContract struct {
	ID       *int32
	UID      *string
	Kind     *ContractKind
	ClientID *int32
	Status   *RecurrenceStatus
	// Recurring filters on the presence of a recurrence.
	Recurring *bool
	// NextOccurrenceBefore selects recurring contracts due for renewal before the timestamp.
	NextOccurrenceBefore *int64
	StartTsAfter         *int64
	StartTsBefore        *int64

	Limit  *int
	Offset *int
}

// UpdateContract changes the editable fields of a contract.
// Status is deliberately absent: it only moves through UpdateContractStatus.
type UpdateContract struct {
	ID          int32
	UpdatedTs   *int64
	Title       *string
	AmountCents *int64
	StartTs     *int64

	Unit             *string
	Interval         *int
	EndTs            *int64
	NextOccurrenceTs *int64
	UntilTs          *int64

	// ExpectStatus restricts the update to a contract still in that recurrence status.
	ExpectStatus *RecurrenceStatus
}

type UpdateContractStatus struct {
	ID        int32
	From      RecurrenceStatus
	To        RecurrenceStatus
	UpdatedTs int64
}

func (s *Store) CreateContract(ctx context.Context, create *Contract) (*Contract, error) {
	return s.driver.CreateContract(ctx, create)
}

func (s *Store) ListContracts(ctx context.Context, find *FindContract) ([]*Contract, error) {
	return s.driver.ListContracts(ctx, find)
}

func (s *Store) GetContract(ctx context.Context, find *FindContract) (*Contract, error) {
	list, err := s.driver.ListContracts(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateContract reports false when the contract is missing or not in update.ExpectStatus.
func (s *Store) UpdateContract(ctx context.Context, update *UpdateContract) (bool, error) {
	return s.driver.UpdateContract(ctx, update)
}

// UpdateContractStatus performs a compare-and-set of the recurrence status.
func (s *Store) UpdateContractStatus(ctx context.Context, update *UpdateContractStatus) (bool, error) {
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().Unix()
	}
	return s.driver.UpdateContractStatus(ctx, update)
}
