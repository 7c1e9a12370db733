package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Client model related methods.
	CreateClient(ctx context.Context, create *Client) (*Client, error)
	ListClients(ctx context.Context, find *FindClient) ([]*Client, error)
	DeleteClient(ctx context.Context, delete *DeleteClient) error

	// Equipment model related methods.
	CreateEquipment(ctx context.Context, create *Equipment) (*Equipment, error)
	ListEquipments(ctx context.Context, find *FindEquipment) ([]*Equipment, error)
	UpdateEquipment(ctx context.Context, update *UpdateEquipment) error

	// Contract model related methods.
	CreateContract(ctx context.Context, create *Contract) (*Contract, error)
	ListContracts(ctx context.Context, find *FindContract) ([]*Contract, error)
	// UpdateContract reports false when no row matched the id and, if set, ExpectStatus.
	UpdateContract(ctx context.Context, update *UpdateContract) (bool, error)
	// UpdateContractStatus moves a recurring contract from one status to another.
	// It reports false when the contract is missing or no longer in status from.
	UpdateContractStatus(ctx context.Context, update *UpdateContractStatus) (bool, error)

	// CacheSnapshot model related methods.
	UpsertCacheSnapshot(ctx context.Context, upsert *CacheSnapshot) error
	GetCacheSnapshot(ctx context.Context, name string) (*CacheSnapshot, error)
}
