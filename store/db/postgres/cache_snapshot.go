package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/store"
)

func (d *DB) UpsertCacheSnapshot(ctx context.Context, upsert *store.CacheSnapshot) error {
	stmt := `INSERT INTO cache_snapshot (name, data, updated_ts)
		VALUES (` + placeholders(3) + `)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.Name, upsert.Data, upsert.UpdatedTs); err != nil {
		return errors.Wrap(err, "failed to upsert cache snapshot")
	}
	return nil
}

func (d *DB) GetCacheSnapshot(ctx context.Context, name string) (*store.CacheSnapshot, error) {
	snapshot := &store.CacheSnapshot{Name: name}
	err := d.db.QueryRowContext(ctx, "SELECT data, updated_ts FROM cache_snapshot WHERE name = "+placeholder(1), name).
		Scan(&snapshot.Data, &snapshot.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get cache snapshot")
	}
	return snapshot, nil
}
