package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/store"
)

const contractColumns = `id, uid, created_ts, updated_ts, kind, client_id, equipment_id, title, amount_cents, start_ts, parent_id,
	recurrence_unit, recurrence_interval, recurrence_status, end_ts, next_occurrence_ts, until_ts`

func (d *DB) CreateContract(ctx context.Context, create *store.Contract) (*store.Contract, error) {
	fields := []string{"uid", "kind", "client_id", "equipment_id", "title", "amount_cents", "start_ts", "parent_id"}
	args := []any{create.UID, create.Kind, create.ClientID, create.EquipmentID, create.Title, create.AmountCents, create.StartTs, create.ParentID}
	if r := create.Recurrence; r != nil {
		fields = append(fields, "recurrence_unit", "recurrence_interval", "recurrence_status", "end_ts", "next_occurrence_ts", "until_ts")
		args = append(args, r.Unit, r.Interval, r.Status, r.EndTs, r.NextOccurrenceTs, r.UntilTs)
	}

	stmt := `INSERT INTO contract (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create contract")
	}
	return create, nil
}

func (d *DB) ListContracts(ctx context.Context, find *store.FindContract) ([]*store.Contract, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Kind; v != nil {
		where, args = append(where, "kind = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ClientID; v != nil {
		where, args = append(where, "client_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "recurrence_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Recurring; v != nil {
		if *v {
			where = append(where, "recurrence_unit IS NOT NULL")
		} else {
			where = append(where, "recurrence_unit IS NULL")
		}
	}
	if v := find.NextOccurrenceBefore; v != nil {
		where, args = append(where, "next_occurrence_ts <= "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.StartTsAfter; v != nil {
		where, args = append(where, "start_ts >= "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.StartTsBefore; v != nil {
		where, args = append(where, "start_ts < "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT ` + contractColumns + `
		FROM contract
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_ts DESC, id DESC`
	query = limitOffset(query, find.Limit, find.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query contracts")
	}
	defer rows.Close()

	list := make([]*store.Contract, 0)
	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, contract)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func scanContract(rows *sql.Rows) (*store.Contract, error) {
	var (
		contract    store.Contract
		equipmentID sql.NullInt32
		parentID    sql.NullInt32
		unit        sql.NullString
		interval    sql.NullInt64
		status      sql.NullString
		endTs       sql.NullInt64
		nextTs      sql.NullInt64
		untilTs     sql.NullInt64
	)
	if err := rows.Scan(
		&contract.ID,
		&contract.UID,
		&contract.CreatedTs,
		&contract.UpdatedTs,
		&contract.Kind,
		&contract.ClientID,
		&equipmentID,
		&contract.Title,
		&contract.AmountCents,
		&contract.StartTs,
		&parentID,
		&unit,
		&interval,
		&status,
		&endTs,
		&nextTs,
		&untilTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan contract")
	}

	if equipmentID.Valid {
		contract.EquipmentID = &equipmentID.Int32
	}
	if parentID.Valid {
		contract.ParentID = &parentID.Int32
	}
	if unit.Valid {
		contract.Recurrence = &store.Recurrence{
			Unit:             unit.String,
			Interval:         int(interval.Int64),
			Status:           store.RecurrenceStatus(status.String),
			EndTs:            endTs.Int64,
			NextOccurrenceTs: nextTs.Int64,
		}
		if untilTs.Valid {
			contract.Recurrence.UntilTs = &untilTs.Int64
		}
	}
	return &contract, nil
}

func (d *DB) UpdateContract(ctx context.Context, update *store.UpdateContract) (bool, error) {
	set, args := []string{}, []any{}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Title; v != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AmountCents; v != nil {
		set, args = append(set, "amount_cents = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.StartTs; v != nil {
		set, args = append(set, "start_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Unit; v != nil {
		set, args = append(set, "recurrence_unit = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Interval; v != nil {
		set, args = append(set, "recurrence_interval = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.EndTs; v != nil {
		set, args = append(set, "end_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.NextOccurrenceTs; v != nil {
		set, args = append(set, "next_occurrence_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.UntilTs; v != nil {
		set, args = append(set, "until_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(set) == 0 {
		return true, nil
	}

	stmt := `UPDATE contract SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)
	if v := update.ExpectStatus; v != nil {
		stmt, args = stmt+` AND recurrence_status = `+placeholder(len(args)+1), append(args, *v)
	}
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, errors.Wrap(err, "failed to update contract")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

func (d *DB) UpdateContractStatus(ctx context.Context, update *store.UpdateContractStatus) (bool, error) {
	stmt := `UPDATE contract SET recurrence_status = ` + placeholder(1) + `, updated_ts = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND recurrence_status = ` + placeholder(4)
	result, err := d.db.ExecContext(ctx, stmt, update.To, update.UpdatedTs, update.ID, update.From)
	if err != nil {
		return false, errors.Wrap(err, "failed to update contract status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}
