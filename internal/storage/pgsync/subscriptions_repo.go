package pgsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const subscriptionColumns = `
  id, container_no, shipment_id, company_id,
  is_subscribed, auto_sync, sync_interval, next_sync_at, last_sync_at,
  external_subscribed, external_sub_id, total_pushes, last_push_at,
  remark, subscribed_at, unsubscribed_at, created_at, updated_at`

func (s *Storage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO subscriptions (`+subscriptionColumns+`
)
VALUES (
  $1, $2, COALESCE($3, (SELECT id FROM shipments WHERE container_no = $2)), $4,
  $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
)
`, subscriptionArgs(sub)...)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "container %s already has a subscription", sub.ContainerNo)
	}
	return errors.Wrap(err, "insert subscription")
}

// UpdateSubscription overwrites the mutable columns of the row with sub.ID.
func (s *Storage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	tag, err := s.db.Exec(ctx, `
UPDATE subscriptions
SET
  shipment_id = COALESCE($3, (SELECT id FROM shipments WHERE container_no = $2)),
  company_id = $4,
  is_subscribed = $5, auto_sync = $6, sync_interval = $7,
  next_sync_at = $8, last_sync_at = $9,
  external_subscribed = $10, external_sub_id = $11,
  total_pushes = $12, last_push_at = $13, remark = $14,
  subscribed_at = $15, unsubscribed_at = $16, created_at = $17, updated_at = $18
WHERE id = $1
`, subscriptionArgs(sub)...)
	if err != nil {
		return errors.Wrap(err, "update subscription")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "subscription %s not found", sub.ContainerNo)
	}
	return nil
}

func (s *Storage) GetSubscription(ctx context.Context, containerNo string) (*models.Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT`+subscriptionColumns+` FROM subscriptions WHERE container_no = $1`, containerNo)
	if err != nil {
		return nil, errors.Wrap(err, "select subscription")
	}
	subs, err := collectSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "subscription %s not found", containerNo)
	}
	return subs[0], nil
}

func (s *Storage) DeleteSubscription(ctx context.Context, containerNo string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM subscriptions WHERE container_no = $1`, containerNo)
	if err != nil {
		return errors.Wrap(err, "delete subscription")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "subscription %s not found", containerNo)
	}
	return nil
}

func (s *Storage) ListSubscriptions(ctx context.Context, f models.SubscriptionFilter, p models.Page) ([]*models.Subscription, int64, error) {
	p = p.Normalize()

	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ContainerNo != "" {
		add("container_no ILIKE '%%' || $%d || '%%'", f.ContainerNo)
	}
	if f.CompanyID != "" {
		add("company_id = $%d", f.CompanyID)
	}
	if f.IsSubscribed != nil {
		add("is_subscribed = $%d", *f.IsSubscribed)
	}
	if f.ExternalSubscribed != nil {
		add("external_subscribed = $%d", *f.ExternalSubscribed)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM subscriptions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count subscriptions")
	}

	args = append(args, p.PageSize, p.Offset())
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT`+subscriptionColumns+`
FROM subscriptions%s
ORDER BY created_at DESC, id
LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select subscriptions")
	}
	out, err := collectSubscriptions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ClaimDueSubscriptions picks auto-sync subscriptions whose nextSyncAt has
// passed and pushes nextSyncAt out by lease, so concurrent workers skip them
// while the batch is in flight.
func (s *Storage) ClaimDueSubscriptions(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+subscriptionColumns+`
FROM subscriptions
WHERE is_subscribed AND auto_sync
  AND (next_sync_at IS NULL OR next_sync_at <= $1)
ORDER BY next_sync_at ASC NULLS FIRST
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due subscriptions")
	}
	picked, err := collectSubscriptions(rows)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sub := range picked {
		_, err := tx.Exec(ctx, `UPDATE subscriptions SET next_sync_at = $2, updated_at = $3 WHERE id = $1`, sub.ID, leaseUntil, now.UTC())
		if err != nil {
			return nil, errors.Wrap(err, "lease subscription")
		}
		sub.NextSyncAt = &leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ListActiveSubscriptions pages through subscribed containers ordered by
// container number, starting after the given one.
func (s *Storage) ListActiveSubscriptions(ctx context.Context, after string, limit int) ([]*models.Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+subscriptionColumns+`
FROM subscriptions
WHERE is_subscribed AND container_no > $1
ORDER BY container_no
LIMIT $2
`, after, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select active subscriptions")
	}
	return collectSubscriptions(rows)
}

// AdvanceSubscriptions records a successful sync and schedules the next one
// one interval after syncedAt.
func (s *Storage) AdvanceSubscriptions(ctx context.Context, containerNos []string, syncedAt time.Time) error {
	if len(containerNos) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
UPDATE subscriptions
SET
  last_sync_at = $2,
  next_sync_at = $2 + make_interval(secs => sync_interval),
  shipment_id = COALESCE(shipment_id, (SELECT id FROM shipments s WHERE s.container_no = subscriptions.container_no)),
  updated_at = $2
WHERE container_no = ANY($1)
`, containerNos, syncedAt.UTC())
	return errors.Wrap(err, "advance subscriptions")
}

// ListPendingExternal returns active subscriptions the provider does not know
// about yet.
func (s *Storage) ListPendingExternal(ctx context.Context, limit int) ([]*models.Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+subscriptionColumns+`
FROM subscriptions
WHERE is_subscribed AND NOT external_subscribed
ORDER BY created_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending external")
	}
	return collectSubscriptions(rows)
}

func (s *Storage) MarkExternalSubscribed(ctx context.Context, containerNo, externalID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE subscriptions
SET external_subscribed = TRUE, external_sub_id = NULLIF($2, ''), updated_at = $3
WHERE container_no = $1
`, containerNo, externalID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "mark external subscribed")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "subscription %s not found", containerNo)
	}
	return nil
}

// RecordPush bumps the push counters of a subscription. Containers without a
// subscription are ignored.
func (s *Storage) RecordPush(ctx context.Context, containerNo string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE subscriptions
SET total_pushes = total_pushes + 1, last_push_at = $2, last_sync_at = $2, updated_at = $2
WHERE container_no = $1
`, containerNo, at.UTC())
	return errors.Wrap(err, "record push")
}

func subscriptionArgs(sub *models.Subscription) []any {
	return []any{
		sub.ID, sub.ContainerNo, sub.ShipmentID, sub.CompanyID,
		sub.IsSubscribed, sub.AutoSync, sub.SyncIntervalSeconds, sub.NextSyncAt, sub.LastSyncAt,
		sub.ExternalSubscribed, sub.ExternalSubID, sub.TotalPushes, sub.LastPushAt,
		sub.Remark, sub.SubscribedAt, sub.UnsubscribedAt, sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(),
	}
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.ContainerNo, &sub.ShipmentID, &sub.CompanyID,
			&sub.IsSubscribed, &sub.AutoSync, &sub.SyncIntervalSeconds, &sub.NextSyncAt, &sub.LastSyncAt,
			&sub.ExternalSubscribed, &sub.ExternalSubID, &sub.TotalPushes, &sub.LastPushAt,
			&sub.Remark, &sub.SubscribedAt, &sub.UnsubscribedAt, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan subscription")
		}
		out = append(out, &sub)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
