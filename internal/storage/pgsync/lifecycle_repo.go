package pgsync

import (
	"context"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO orders (id, order_no, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
`, o.ID, o.OrderNo, o.Status, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "order %s already exists", o.OrderNo)
	}
	return errors.Wrap(err, "insert order")
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `
SELECT id, order_no, status, created_at, updated_at FROM orders WHERE id = $1
`, id).Scan(&o.ID, &o.OrderNo, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return &o, nil
}

func (s *Storage) CreateBill(ctx context.Context, b *models.Bill) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO bills (id, bill_no, order_id, status, issue_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, b.ID, b.BillNo, b.OrderID, b.Status, b.IssueDate, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "bill %s already exists", b.BillNo)
	}
	return errors.Wrap(err, "insert bill")
}

func (s *Storage) GetBill(ctx context.Context, id string) (*models.Bill, error) {
	var b models.Bill
	err := s.db.QueryRow(ctx, `
SELECT id, bill_no, order_id, status, issue_date, created_at, updated_at FROM bills WHERE id = $1
`, id).Scan(&b.ID, &b.BillNo, &b.OrderID, &b.Status, &b.IssueDate, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "bill %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select bill")
	}
	return &b, nil
}

// WithStatusLock locks one order or bill row FOR UPDATE and runs fn in the
// same transaction.
func (s *Storage) WithStatusLock(ctx context.Context, entity, id string, fn func(tx storage.StatusTx) error) error {
	table, err := entityTable(entity)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "%s %s not found", entity, id)
	}
	if err != nil {
		return errors.Wrap(err, "lock "+entity)
	}

	if err := fn(&statusTx{tx: tx, entity: entity, table: table, id: id, status: status}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// ListTransitions returns the audit trail of an entity, newest first.
func (s *Storage) ListTransitions(ctx context.Context, entity, id string) ([]*models.StatusTransition, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, entity_type, entity_id, from_status, to_status, reason, operator_id, created_at
FROM status_history
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC, id DESC
`, entity, id)
	if err != nil {
		return nil, errors.Wrap(err, "select transitions")
	}
	defer rows.Close()

	var out []*models.StatusTransition
	for rows.Next() {
		var t models.StatusTransition
		if err := rows.Scan(&t.ID, &t.EntityType, &t.EntityID, &t.FromStatus, &t.ToStatus, &t.Reason, &t.OperatorID, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan transition")
		}
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func entityTable(entity string) (string, error) {
	switch entity {
	case models.EntityOrder:
		return "orders", nil
	case models.EntityBill:
		return "bills", nil
	default:
		return "", apperr.New(apperr.KindInvalidInput, "unknown entity %q", entity)
	}
}

type statusTx struct {
	tx     pgx.Tx
	entity string
	table  string
	id     string
	status string
}

func (t *statusTx) GetStatus(ctx context.Context) (string, error) {
	return t.status, nil
}

// SetStatus updates the locked row. A bill gets its issue date the first time
// it becomes ISSUED.
func (t *statusTx) SetStatus(ctx context.Context, status string) error {
	now := time.Now().UTC()
	var err error
	if t.entity == models.EntityBill {
		_, err = t.tx.Exec(ctx, `
UPDATE bills
SET status = $2,
    issue_date = CASE WHEN $2 = 'ISSUED' AND issue_date IS NULL THEN $3 ELSE issue_date END,
    updated_at = $3
WHERE id = $1
`, t.id, status, now)
	} else {
		_, err = t.tx.Exec(ctx, `UPDATE `+t.table+` SET status = $2, updated_at = $3 WHERE id = $1`, t.id, status, now)
	}
	if err != nil {
		return errors.Wrap(err, "update "+t.entity+" status")
	}
	t.status = status
	return nil
}

func (t *statusTx) AppendTransition(ctx context.Context, tr *models.StatusTransition) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO status_history (id, entity_type, entity_id, from_status, to_status, reason, operator_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, tr.ID, tr.EntityType, tr.EntityID, tr.FromStatus, tr.ToStatus, tr.Reason, tr.OperatorID, tr.CreatedAt.UTC())
	return errors.Wrap(err, "insert transition")
}
