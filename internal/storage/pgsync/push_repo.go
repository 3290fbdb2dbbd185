package pgsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/pkg/errors"
)

const pushColumns = `
  id, container_no, shipment_id, source, push_type, payload,
  status, error_message, created_at, finished_at`

func (s *Storage) CreatePushRecord(ctx context.Context, r *models.PushRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO push_records (`+pushColumns+`
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, r.ID, r.ContainerNo, r.ShipmentID, r.Source, r.PushType, jsonArg(r.Payload),
		r.Status, r.ErrorMessage, r.CreatedAt.UTC(), r.FinishedAt)
	return errors.Wrap(err, "insert push record")
}

// FinalizePushRecord moves a PENDING record to its terminal status. A record
// is finalized at most once.
func (s *Storage) FinalizePushRecord(ctx context.Context, id, status string, shipmentID, errMsg *string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE push_records
SET status = $2, shipment_id = COALESCE($3, shipment_id), error_message = $4, finished_at = $5
WHERE id = $1 AND status = $6
`, id, status, shipmentID, errMsg, at.UTC(), models.PushStatusPending)
	if err != nil {
		return errors.Wrap(err, "finalize push record")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, "push record %s is not pending", id)
	}
	return nil
}

func (s *Storage) ListPushRecords(ctx context.Context, f models.PushRecordFilter, p models.Page) ([]*models.PushRecord, int64, error) {
	p = p.Normalize()

	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ContainerNo != "" {
		add("container_no = $%d", f.ContainerNo)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM push_records`+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count push records")
	}

	args = append(args, p.PageSize, p.Offset())
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT`+pushColumns+`
FROM push_records%s
ORDER BY created_at DESC, id
LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select push records")
	}
	defer rows.Close()

	var out []*models.PushRecord
	for rows.Next() {
		var r models.PushRecord
		var payload []byte
		if err := rows.Scan(
			&r.ID, &r.ContainerNo, &r.ShipmentID, &r.Source, &r.PushType, &payload,
			&r.Status, &r.ErrorMessage, &r.CreatedAt, &r.FinishedAt,
		); err != nil {
			return nil, 0, errors.Wrap(err, "scan push record")
		}
		r.Payload = payload
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}
