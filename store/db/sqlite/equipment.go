package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/store"
)

func (d *DB) CreateEquipment(ctx context.Context, create *store.Equipment) (*store.Equipment, error) {
	if create.Status == "" {
		create.Status = store.EquipmentAvailable
	}
	fields := []string{"uid", "name", "serial_number", "daily_rate_cents", "status"}
	args := []any{create.UID, create.Name, create.SerialNumber, create.DailyRateCents, create.Status}

	stmt := `INSERT INTO equipment (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create equipment")
	}
	return create, nil
}

func (d *DB) ListEquipments(ctx context.Context, find *store.FindEquipment) ([]*store.Equipment, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT id, uid, created_ts, updated_ts, name, serial_number, daily_rate_cents, status
		FROM equipment
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY name ASC, id ASC`
	query = limitOffset(query, find.Limit, find.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query equipments")
	}
	defer rows.Close()

	list := make([]*store.Equipment, 0)
	for rows.Next() {
		var equipment store.Equipment
		if err := rows.Scan(
			&equipment.ID,
			&equipment.UID,
			&equipment.CreatedTs,
			&equipment.UpdatedTs,
			&equipment.Name,
			&equipment.SerialNumber,
			&equipment.DailyRateCents,
			&equipment.Status,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan equipment")
		}
		list = append(list, &equipment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateEquipment(ctx context.Context, update *store.UpdateEquipment) error {
	set, args := []string{}, []any{}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Name; v != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.DailyRateCents; v != nil {
		set, args = append(set, "daily_rate_cents = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(set) == 0 {
		return nil
	}

	stmt := `UPDATE equipment SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update equipment")
	}
	return nil
}
