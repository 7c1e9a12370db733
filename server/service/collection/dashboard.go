package collection

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/cache"
)

// DashboardMetrics aggregates the headline numbers of the rental business.
type DashboardMetrics struct {
	Clients int `json:"clients"`

	Equipment          int `json:"equipment"`
	EquipmentAvailable int `json:"equipmentAvailable"`
	EquipmentRented    int `json:"equipmentRented"`

	Contracts          int `json:"contracts"`
	RecurringActive    int `json:"recurringActive"`
	RecurringPaused    int `json:"recurringPaused"`
	RecurringCancelled int `json:"recurringCancelled"`
	RecurringCompleted int `json:"recurringCompleted"`

	// UpcomingRenewals counts active contracts renewing within the next seven days.
	UpcomingRenewals int `json:"upcomingRenewals"`
	// ActiveAmountCents sums the amounts of active recurring contracts.
	ActiveAmountCents int64 `json:"activeAmountCents"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// DashboardMetrics computes the dashboard from the record store. Params are ignored.
func (s *Service) DashboardMetrics(ctx context.Context, _ cache.Params) (*DashboardMetrics, error) {
	var (
		clients    []*store.Client
		equipments []*store.Equipment
		contracts  []*store.Contract
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		clients, err = s.store.ListClients(gctx, &store.FindClient{})
		return errors.Wrap(err, "failed to list clients")
	})
	g.Go(func() (err error) {
		equipments, err = s.store.ListEquipments(gctx, &store.FindEquipment{})
		return errors.Wrap(err, "failed to list equipments")
	})
	g.Go(func() (err error) {
		contracts, err = s.store.ListContracts(gctx, &store.FindContract{})
		return errors.Wrap(err, "failed to list contracts")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	m := &DashboardMetrics{
		Clients:     len(clients),
		Equipment:   len(equipments),
		Contracts:   len(contracts),
		GeneratedAt: now,
	}
	for _, e := range equipments {
		switch e.Status {
		case store.EquipmentAvailable:
			m.EquipmentAvailable++
		case store.EquipmentRented:
			m.EquipmentRented++
		}
	}

	horizon := now.Add(upcomingWindow).Unix()
	for _, c := range contracts {
		if !c.IsRecurring() {
			continue
		}
		switch c.Recurrence.Status {
		case store.RecurrenceActive:
			m.RecurringActive++
			m.ActiveAmountCents += c.AmountCents
			if c.Recurrence.NextOccurrenceTs <= horizon {
				m.UpcomingRenewals++
			}
		case store.RecurrencePaused:
			m.RecurringPaused++
		case store.RecurrenceCancelled:
			m.RecurringCancelled++
		case store.RecurrenceCompleted:
			m.RecurringCompleted++
		}
	}
	return m, nil
}
