package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/store"
)

func (d *DB) CreateClient(ctx context.Context, create *store.Client) (*store.Client, error) {
	fields := []string{"uid", "name", "email", "phone"}
	args := []any{create.UID, create.Name, create.Email, create.Phone}

	stmt := `INSERT INTO client (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}
	return create, nil
}

func (d *DB) ListClients(ctx context.Context, find *store.FindClient) ([]*store.Client, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT id, uid, created_ts, updated_ts, name, email, phone
		FROM client
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY name ASC, id ASC`
	query = limitOffset(query, find.Limit, find.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query clients")
	}
	defer rows.Close()

	list := make([]*store.Client, 0)
	for rows.Next() {
		var client store.Client
		if err := rows.Scan(
			&client.ID,
			&client.UID,
			&client.CreatedTs,
			&client.UpdatedTs,
			&client.Name,
			&client.Email,
			&client.Phone,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan client")
		}
		list = append(list, &client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteClient(ctx context.Context, delete *store.DeleteClient) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM client WHERE id = "+placeholder(1), delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete client")
	}
	return nil
}
