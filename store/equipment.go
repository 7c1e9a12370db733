package store

import (
	"context"
)

// EquipmentStatus is the availability of a piece of equipment.
type EquipmentStatus string

const (
	EquipmentAvailable   EquipmentStatus = "AVAILABLE"
	EquipmentRented      EquipmentStatus = "RENTED"
	EquipmentMaintenance EquipmentStatus = "MAINTENANCE"
)

func (s EquipmentStatus) String() string {
	return string(s)
}

// Equipment is an item that can be rented out.
type Equipment struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`

	Name           string          `json:"name"`
	SerialNumber   string          `json:"serialNumber,omitempty"`
	DailyRateCents int64           `json:"dailyRateCents"`
	Status         EquipmentStatus `json:"status"`
}

type FindEquipment struct {
	ID     *int32
	UID    *string
	Status *EquipmentStatus

	Limit  *int
	Offset *int
}

type UpdateEquipment struct {
	ID             int32
	UpdatedTs      *int64
	Name           *string
	DailyRateCents *int64
	Status         *EquipmentStatus
}

func (s *Store) CreateEquipment(ctx context.Context, create *Equipment) (*Equipment, error) {
	return s.driver.CreateEquipment(ctx, create)
}

func (s *Store) ListEquipments(ctx context.Context, find *FindEquipment) ([]*Equipment, error) {
	return s.driver.ListEquipments(ctx, find)
}

func (s *Store) GetEquipment(ctx context.Context, find *FindEquipment) (*Equipment, error) {
	list, err := s.driver.ListEquipments(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateEquipment(ctx context.Context, update *UpdateEquipment) error {
	return s.driver.UpdateEquipment(ctx, update)
}
