package store

import (
	"context"
)

// Client is a customer renting equipment.
type Client struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`

	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type FindClient struct {
	ID  *int32
	UID *string

	Limit  *int
	Offset *int
}

type DeleteClient struct {
	ID int32
}

func (s *Store) CreateClient(ctx context.Context, create *Client) (*Client, error) {
	return s.driver.CreateClient(ctx, create)
}

func (s *Store) ListClients(ctx context.Context, find *FindClient) ([]*Client, error) {
	return s.driver.ListClients(ctx, find)
}

func (s *Store) GetClient(ctx context.Context, find *FindClient) (*Client, error) {
	list, err := s.driver.ListClients(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) DeleteClient(ctx context.Context, delete *DeleteClient) error {
	return s.driver.DeleteClient(ctx, delete)
}
