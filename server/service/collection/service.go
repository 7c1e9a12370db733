// Package collection implements the backend accessors behind each cached collection.
//
// Reads are idempotent and side-effect free so the fetch coordinators can call
// them at will. Writes go to the record store and then publish the affected
// kinds on the invalidation bus.
package collection

import (
	"context"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/internal/clock"
	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/timezone"
	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/cache"
)

// DefaultLimit applies when a request carries no limit.
const DefaultLimit = 200

// upcomingWindow is how far ahead the dashboard looks for renewals.
const upcomingWindow = 7 * 24 * time.Hour

// Store is the record store read by the accessors.
type Store interface {
	CreateClient(ctx context.Context, create *store.Client) (*store.Client, error)
	ListClients(ctx context.Context, find *store.FindClient) ([]*store.Client, error)
	CreateEquipment(ctx context.Context, create *store.Equipment) (*store.Equipment, error)
	ListEquipments(ctx context.Context, find *store.FindEquipment) ([]*store.Equipment, error)
	ListContracts(ctx context.Context, find *store.FindContract) ([]*store.Contract, error)
}

// Publisher announces changed collections. *invalidation.Bus implements it.
type Publisher interface {
	Publish(kinds ...cache.Kind) int
}

// Service reads and writes the collections served through the cache.
type Service struct {
	store Store
	bus   Publisher
	clock clock.Clock
	// loc interprets the calendar dates of range queries.
	loc *time.Location
}

// NewService creates a service. bus may be nil.
func NewService(store Store, bus Publisher, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Default()
	}
	return &Service{store: store, bus: bus, clock: clk, loc: time.UTC}
}

// WithLocation sets the timezone of the from/to dates of contract queries. Nil keeps UTC.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func limit(params cache.Params) *int {
	n := params.Int(cache.ParamLimit)
	if n <= 0 || n > DefaultLimit {
		n = DefaultLimit
	}
	return &n
}

// Clients lists clients by name.
func (s *Service) Clients(ctx context.Context, params cache.Params) ([]*store.Client, error) {
	list, err := s.store.ListClients(ctx, &store.FindClient{Limit: limit(params)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clients")
	}
	return list, nil
}

// Equipments lists equipment by name.
func (s *Service) Equipments(ctx context.Context, params cache.Params) ([]*store.Equipment, error) {
	list, err := s.store.ListEquipments(ctx, &store.FindEquipment{Limit: limit(params)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list equipments")
	}
	return list, nil
}

// Rentals lists rental contracts, newest first, optionally restricted to a start date range.
func (s *Service) Rentals(ctx context.Context, params cache.Params) ([]*store.Contract, error) {
	return s.contracts(ctx, store.ContractRental, params)
}

// Budgets lists budget contracts, newest first, optionally restricted to a start date range.
func (s *Service) Budgets(ctx context.Context, params cache.Params) ([]*store.Contract, error) {
	return s.contracts(ctx, store.ContractBudget, params)
}

func (s *Service) contracts(ctx context.Context, kind store.ContractKind, params cache.Params) ([]*store.Contract, error) {
	find := &store.FindContract{Kind: &kind, Limit: limit(params)}
	if from, ok := params.Date(cache.ParamFrom, s.loc); ok {
		ts := timezone.StartOfDay(from, s.loc).Unix()
		find.StartTsAfter = &ts
	}
	if to, ok := params.Date(cache.ParamTo, s.loc); ok {
		// The range is inclusive of the whole "to" day.
		ts := timezone.NextDay(to, s.loc).Unix()
		find.StartTsBefore = &ts
	}

	list, err := s.store.ListContracts(ctx, find)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s contracts", strings.ToLower(kind.String()))
	}
	return list, nil
}

// CreateClientRequest is the payload of a new client.
type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// CreateClient stores a client and invalidates the clients collection.
func (s *Service) CreateClient(ctx context.Context, req *CreateClientRequest) (*store.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("client name is required")
	}
	client, err := s.store.CreateClient(ctx, &store.Client{
		UID:   shortuuid.New(),
		Name:  name,
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return nil, apperrors.Backend("create client", err)
	}
	s.publish(cache.KindClients)
	return client, nil
}

// CreateEquipmentRequest is the payload of a new piece of equipment.
type CreateEquipmentRequest struct {
	Name           string `json:"name"`
	SerialNumber   string `json:"serialNumber,omitempty"`
	DailyRateCents int64  `json:"dailyRateCents"`
}

// CreateEquipment stores equipment and invalidates the equipments collection.
func (s *Service) CreateEquipment(ctx context.Context, req *CreateEquipmentRequest) (*store.Equipment, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("equipment name is required")
	}
	if req.DailyRateCents < 0 {
		return nil, apperrors.Validation("daily rate must not be negative")
	}
	equipment, err := s.store.CreateEquipment(ctx, &store.Equipment{
		UID:            shortuuid.New(),
		Name:           name,
		SerialNumber:   strings.TrimSpace(req.SerialNumber),
		DailyRateCents: req.DailyRateCents,
		Status:         store.EquipmentAvailable,
	})
	if err != nil {
		return nil, apperrors.Backend("create equipment", err)
	}
	s.publish(cache.KindEquipments)
	return equipment, nil
}

func (s *Service) publish(kind cache.Kind) {
	if s.bus != nil {
		s.bus.Publish(kind, cache.KindDashboard)
	}
}
