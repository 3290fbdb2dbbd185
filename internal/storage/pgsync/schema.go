package pgsync

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  container_no TEXT NOT NULL UNIQUE,
  container_type TEXT NOT NULL DEFAULT '',
  bl_no TEXT NOT NULL DEFAULT '',
  booking_no TEXT NOT NULL DEFAULT '',
  carrier_code TEXT NOT NULL DEFAULT '',
  carrier_name TEXT NOT NULL DEFAULT '',
  origin_port TEXT NOT NULL DEFAULT '',
  destination_port TEXT NOT NULL DEFAULT '',
  etd TIMESTAMPTZ NULL,
  eta TIMESTAMPTZ NULL,
  atd TIMESTAMPTZ NULL,
  ata TIMESTAMPTZ NULL,
  status TEXT NOT NULL DEFAULT '',
  current_node TEXT NOT NULL DEFAULT '',
  provenance TEXT NOT NULL DEFAULT '',
  last_sync_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_bl_no ON shipments(bl_no)`,
		`
CREATE TABLE IF NOT EXISTS shipment_nodes (
  id TEXT PRIMARY KEY,
  shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  node_code TEXT NOT NULL,
  node_name TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  location_code TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  operator TEXT NOT NULL DEFAULT '',
  vessel_name TEXT NOT NULL DEFAULT '',
  voyage_no TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  raw_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (shipment_id, node_code, event_time)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_nodes_shipment_event_time ON shipment_nodes(shipment_id, event_time DESC)`,
		`
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  container_no TEXT NOT NULL UNIQUE,
  shipment_id TEXT NULL,
  company_id TEXT NULL,
  is_subscribed BOOLEAN NOT NULL DEFAULT TRUE,
  auto_sync BOOLEAN NOT NULL DEFAULT TRUE,
  sync_interval INT NOT NULL DEFAULT 300,
  next_sync_at TIMESTAMPTZ NULL,
  last_sync_at TIMESTAMPTZ NULL,
  external_subscribed BOOLEAN NOT NULL DEFAULT FALSE,
  external_sub_id TEXT NULL,
  total_pushes BIGINT NOT NULL DEFAULT 0,
  last_push_at TIMESTAMPTZ NULL,
  remark TEXT NULL,
  subscribed_at TIMESTAMPTZ NULL,
  unsubscribed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions(next_sync_at) WHERE is_subscribed AND auto_sync`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_company ON subscriptions(company_id)`,
		`
CREATE TABLE IF NOT EXISTS push_records (
  id TEXT PRIMARY KEY,
  container_no TEXT NOT NULL,
  shipment_id TEXT NULL,
  source TEXT NOT NULL,
  push_type TEXT NOT NULL DEFAULT '',
  payload JSONB NULL,
  status TEXT NOT NULL,
  error_message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_push_records_container_created ON push_records(container_no, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS sync_logs (
  id TEXT PRIMARY KEY,
  job TEXT NOT NULL,
  batch_no INT NOT NULL,
  container_nos TEXT[] NOT NULL,
  requested INT NOT NULL,
  succeeded INT NOT NULL,
  failed INT NOT NULL,
  error TEXT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_job_started ON sync_logs(job, started_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_no TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS bills (
  id TEXT PRIMARY KEY,
  bill_no TEXT NOT NULL UNIQUE,
  order_id TEXT NULL REFERENCES orders(id),
  status TEXT NOT NULL,
  issue_date TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS status_history (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  reason TEXT NULL,
  operator_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_status_history_entity ON status_history(entity_type, entity_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
