package contract

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/rentflow/internal/clock"
	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/cache"
)

// MockStore keeps contracts in memory.
type MockStore struct {
	mu        sync.Mutex
	contracts map[int32]*store.Contract
	nextID    int32

	statusErr error
	// statusCalls counts UpdateContractStatus calls.
	statusCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{contracts: make(map[int32]*store.Contract)}
}

func (m *MockStore) CreateContract(_ context.Context, create *store.Contract) (*store.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	create.ID = m.nextID
	m.contracts[create.ID] = cloneContract(create)
	return create, nil
}

func (m *MockStore) GetContract(ctx context.Context, find *store.FindContract) (*store.Contract, error) {
	list, err := m.ListContracts(ctx, find)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (m *MockStore) ListContracts(_ context.Context, find *store.FindContract) ([]*store.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.Contract, 0)
	for id := int32(1); id <= m.nextID; id++ {
		c, ok := m.contracts[id]
		if !ok {
			continue
		}
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.Recurring != nil && c.IsRecurring() != *find.Recurring {
			continue
		}
		list = append(list, cloneContract(c))
	}
	return list, nil
}

func (m *MockStore) UpdateContract(_ context.Context, update *store.UpdateContract) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[update.ID]
	if !ok {
		return false, errors.New("not found")
	}
	if update.ExpectStatus != nil && (c.Recurrence == nil || c.Recurrence.Status != *update.ExpectStatus) {
		return false, nil
	}
	if update.StartTs != nil {
		c.StartTs = *update.StartTs
	}
	if r := c.Recurrence; r != nil {
		if update.Unit != nil {
			r.Unit = *update.Unit
		}
		if update.Interval != nil {
			r.Interval = *update.Interval
		}
		if update.EndTs != nil {
			r.EndTs = *update.EndTs
		}
		if update.NextOccurrenceTs != nil {
			r.NextOccurrenceTs = *update.NextOccurrenceTs
		}
		if update.UntilTs != nil {
			v := *update.UntilTs
			r.UntilTs = &v
		}
	}
	return true, nil
}

func (m *MockStore) UpdateContractStatus(_ context.Context, update *store.UpdateContractStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.statusErr != nil {
		return false, m.statusErr
	}
	c, ok := m.contracts[update.ID]
	if !ok || c.Recurrence == nil || c.Recurrence.Status != update.From {
		return false, nil
	}
	c.Recurrence.Status = update.To
	return true, nil
}

func (m *MockStore) status(id int32) store.RecurrenceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contracts[id].Recurrence.Status
}

func (m *MockStore) setStatus(id int32, status store.RecurrenceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[id].Recurrence.Status = status
}

func cloneContract(c *store.Contract) *store.Contract {
	out := *c
	if c.Recurrence != nil {
		r := *c.Recurrence
		out.Recurrence = &r
	}
	return &out
}

type recordingBus struct {
	mu        sync.Mutex
	published [][]cache.Kind
}

func (b *recordingBus) Publish(kinds ...cache.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, append([]cache.Kind(nil), kinds...))
	return len(kinds)
}

func (b *recordingBus) events() [][]cache.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]cache.Kind(nil), b.published...)
}

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *MockStore, *recordingBus, *clock.Mock) {
	t.Helper()
	ms := NewMockStore()
	bus := &recordingBus{}
	clk := clock.NewMock(jan1)
	return NewScheduler(ms, bus, clk, nil), ms, bus, clk
}

func createRecurring(t *testing.T, s *Scheduler, kind store.ContractKind, unit string, interval int) *store.Contract {
	t.Helper()
	c, err := s.Create(context.Background(), &CreateRequest{
		Kind:       kind,
		ClientID:   1,
		Title:      "Excavator hire",
		Start:      jan1,
		Recurrence: &RecurrenceRequest{Unit: unit, Interval: interval},
	})
	require.NoError(t, err)
	return c
}

func TestScheduler_Create(t *testing.T) {
	s, ms, bus, _ := newTestScheduler(t)

	c := createRecurring(t, s, store.ContractRental, "weekly", 3)
	require.True(t, c.IsRecurring())
	assert.NotEmpty(t, c.UID)
	assert.Equal(t, store.RecurrenceActive, c.Recurrence.Status)
	assert.Equal(t, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC).Unix(), c.Recurrence.EndTs)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC).Unix(), c.Recurrence.NextOccurrenceTs)
	assert.Equal(t, [][]cache.Kind{{cache.KindRentals, cache.KindDashboard}}, bus.events())

	t.Run("one-off contract has no recurrence", func(t *testing.T) {
		c, err := s.Create(context.Background(), &CreateRequest{Kind: store.ContractBudget, ClientID: 1, Start: jan1})
		require.NoError(t, err)
		assert.Nil(t, c.Recurrence)
	})

	t.Run("rejected before persistence", func(t *testing.T) {
		before := len(ms.contracts)
		cases := []*CreateRequest{
			{Kind: store.ContractRental, ClientID: 1, Start: jan1, Recurrence: &RecurrenceRequest{Unit: "monthly", Interval: 0}},
			{Kind: store.ContractRental, ClientID: 1, Start: jan1, Recurrence: &RecurrenceRequest{Unit: "daily", Interval: 1}},
			{Kind: store.ContractRental, ClientID: 1, Start: jan1, Recurrence: &RecurrenceRequest{Unit: "weekly", Interval: 1001}},
			{Kind: "LEASE", ClientID: 1, Start: jan1},
			{Kind: store.ContractRental, Start: jan1},
			{Kind: store.ContractRental, ClientID: 1},
		}
		for _, req := range cases {
			_, err := s.Create(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), err.Error())
		}
		until := jan1.Add(-time.Hour)
		_, err := s.Create(context.Background(), &CreateRequest{
			Kind: store.ContractRental, ClientID: 1, Start: jan1,
			Recurrence: &RecurrenceRequest{Unit: "weekly", Interval: 1, Until: &until},
		})
		assert.True(t, apperrors.IsValidation(err))
		assert.Len(t, ms.contracts, before)
	})
}

func TestScheduler_PauseResumeCancel(t *testing.T) {
	s, ms, bus, _ := newTestScheduler(t)
	ctx := context.Background()
	c := createRecurring(t, s, store.ContractRental, "monthly", 1)

	got, err := s.Pause(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RecurrencePaused, got.Recurrence.Status)

	got, err = s.Resume(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RecurrenceActive, got.Recurrence.Status)

	got, err = s.Cancel(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RecurrenceCancelled, got.Recurrence.Status)

	for _, op := range []func(context.Context, int32) (*store.Contract, error){s.Pause, s.Resume, s.Cancel, s.Complete} {
		_, err := op(ctx, c.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidTransition(err))
		assert.Equal(t, store.RecurrenceCancelled, ms.status(c.ID))
	}

	// create + three successful transitions, nothing for the rejected ones.
	events := bus.events()
	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, []cache.Kind{cache.KindRentals, cache.KindDashboard}, e)
	}
}

func TestScheduler_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   store.RecurrenceStatus
		action Action
	}{
		{name: "pause paused", from: store.RecurrencePaused, action: ActionPause},
		{name: "resume active", from: store.RecurrenceActive, action: ActionResume},
		{name: "resume completed", from: store.RecurrenceCompleted, action: ActionResume},
		{name: "cancel completed", from: store.RecurrenceCompleted, action: ActionCancel},
		{name: "complete cancelled", from: store.RecurrenceCancelled, action: ActionComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ms, bus, _ := newTestScheduler(t)
			c := createRecurring(t, s, store.ContractBudget, "yearly", 1)
			ms.setStatus(c.ID, tt.from)
			calls := ms.statusCalls

			_, err := s.apply(context.Background(), c.ID, tt.action)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidTransition(err))
			assert.Equal(t, tt.from, ms.status(c.ID))
			assert.Equal(t, calls, ms.statusCalls, "nothing persisted")
			assert.Len(t, bus.events(), 1)
		})
	}
}

func TestScheduler_BudgetPublishesBudgets(t *testing.T) {
	s, _, bus, _ := newTestScheduler(t)
	c := createRecurring(t, s, store.ContractBudget, "monthly", 1)

	_, err := s.Pause(context.Background(), c.ID)
	require.NoError(t, err)
	events := bus.events()
	assert.Equal(t, []cache.Kind{cache.KindBudgets, cache.KindDashboard}, events[len(events)-1])
}

func TestScheduler_TransitionErrors(t *testing.T) {
	s, ms, bus, _ := newTestScheduler(t)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := s.Pause(ctx, 42)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("one-off contract", func(t *testing.T) {
		c, err := s.Create(ctx, &CreateRequest{Kind: store.ContractRental, ClientID: 1, Start: jan1})
		require.NoError(t, err)
		_, err = s.Pause(ctx, c.ID)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("record store failure", func(t *testing.T) {
		c := createRecurring(t, s, store.ContractRental, "weekly", 1)
		published := len(bus.events())
		ms.statusErr = errors.New("disk full")
		defer func() { ms.statusErr = nil }()

		_, err := s.Pause(ctx, c.ID)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeBackend, apperrors.CodeOf(err))
		assert.Equal(t, store.RecurrenceActive, ms.status(c.ID))
		assert.Len(t, bus.events(), published, "nothing published on failure")
	})
}

func TestScheduler_UpdateRecurrence(t *testing.T) {
	s, ms, _, _ := newTestScheduler(t)
	ctx := context.Background()
	c := createRecurring(t, s, store.ContractRental, "weekly", 1)

	unit, interval := "monthly", 1
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	got, err := s.UpdateRecurrence(ctx, c.ID, &UpdateRecurrenceRequest{Start: &start, Unit: &unit, Interval: &interval})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC).Unix(), got.Recurrence.EndTs)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix(), got.Recurrence.NextOccurrenceTs)
	assert.Equal(t, store.RecurrenceActive, got.Recurrence.Status)

	stored, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Recurrence.EndTs, stored.Recurrence.EndTs)
	assert.Equal(t, start.Unix(), stored.StartTs)

	t.Run("invalid interval", func(t *testing.T) {
		zero := 0
		_, err := s.UpdateRecurrence(ctx, c.ID, &UpdateRecurrenceRequest{Interval: &zero})
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("terminal contract", func(t *testing.T) {
		ms.setStatus(c.ID, store.RecurrenceCancelled)
		_, err := s.UpdateRecurrence(ctx, c.ID, &UpdateRecurrenceRequest{Interval: &interval})
		assert.True(t, apperrors.IsInvalidTransition(err))
	})
}

func TestScheduler_Occurrences(t *testing.T) {
	s, _, _, clk := newTestScheduler(t)
	ctx := context.Background()
	c := createRecurring(t, s, store.ContractRental, "weekly", 1)

	end := jan1.AddDate(0, 0, 28)
	list, err := s.Occurrences(ctx, c.ID, jan1, end, 0)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	_, err = s.Pause(ctx, c.ID)
	require.NoError(t, err)
	clk.Set(jan1.AddDate(0, 0, 10))

	list, err = s.Occurrences(ctx, c.ID, jan1, end, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2, "paused contracts generate nothing after now")
}
