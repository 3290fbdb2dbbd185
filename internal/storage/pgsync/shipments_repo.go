package pgsync

import (
	"context"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, container_no, container_type, bl_no, booking_no,
  carrier_code, carrier_name, origin_port, destination_port,
  etd, eta, atd, ata, status, current_node, provenance,
  last_sync_at, created_at, updated_at`

const nodeColumns = `
  id, shipment_id, node_code, node_name, location, location_code,
  event_time, description, operator, vessel_name, voyage_no,
  source, raw_data, created_at, updated_at`

// WithShipmentLock runs fn in a transaction holding an advisory lock keyed by
// the container number, so writers in other processes queue behind it.
func (s *Storage) WithShipmentLock(ctx context.Context, containerNo string, fn func(tx storage.ShipmentTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "shipment:"+containerNo); err != nil {
		return errors.Wrap(err, "lock shipment")
	}

	if err := fn(&shipmentTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error) {
	return getShipment(ctx, s.db, containerNo)
}

// ListShipmentsByBL returns the shipments recorded under a bill of lading,
// ordered by container number.
func (s *Storage) ListShipmentsByBL(ctx context.Context, blNo string) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE bl_no = $1
ORDER BY container_no
`, blNo)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments by bl")
	}
	defer rows.Close()

	var out []*models.Shipment
	for rows.Next() {
		var sh models.Shipment
		if err := rows.Scan(shipmentDest(&sh)...); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, &sh)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate shipments")
	}
	return out, nil
}

// ListShipmentNodes returns the node history of a container, newest first.
func (s *Storage) ListShipmentNodes(ctx context.Context, containerNo string, limit, offset int) ([]*models.ShipmentNode, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+prefixed("n", nodeColumns)+`
FROM shipment_nodes n
JOIN shipments s ON s.id = n.shipment_id
WHERE s.container_no = $1
ORDER BY n.event_time DESC, n.created_at DESC
LIMIT $2 OFFSET $3
`, containerNo, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select nodes")
	}
	return collectNodes(rows)
}

type shipmentTx struct {
	q querier
}

func (t *shipmentTx) GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error) {
	return getShipment(ctx, t.q, containerNo)
}

func (t *shipmentTx) InsertShipment(ctx context.Context, sh *models.Shipment) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO shipments (`+shipmentColumns+`
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`, shipmentArgs(sh)...)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "shipment %s already exists", sh.ContainerNo)
	}
	return errors.Wrap(err, "insert shipment")
}

func (t *shipmentTx) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	tag, err := t.q.Exec(ctx, `
UPDATE shipments
SET
  container_type = $3, bl_no = $4, booking_no = $5,
  carrier_code = $6, carrier_name = $7, origin_port = $8, destination_port = $9,
  etd = $10, eta = $11, atd = $12, ata = $13,
  status = $14, current_node = $15, provenance = $16,
  last_sync_at = $17, created_at = $18, updated_at = $19
WHERE id = $1 AND container_no = $2
`, shipmentArgs(sh)...)
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "shipment %s not found", sh.ContainerNo)
	}
	return nil
}

func (t *shipmentTx) ListNodes(ctx context.Context, shipmentID string) ([]*models.ShipmentNode, error) {
	rows, err := t.q.Query(ctx, `
SELECT`+nodeColumns+`
FROM shipment_nodes
WHERE shipment_id = $1
ORDER BY event_time ASC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select nodes")
	}
	return collectNodes(rows)
}

// UpsertNode inserts a node or refreshes the descriptive fields of the node
// with the same (shipment, code, time). The first source is kept.
func (t *shipmentTx) UpsertNode(ctx context.Context, n *models.ShipmentNode) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO shipment_nodes (`+nodeColumns+`
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (shipment_id, node_code, event_time) DO UPDATE SET
  node_name = EXCLUDED.node_name,
  location = EXCLUDED.location,
  location_code = EXCLUDED.location_code,
  description = EXCLUDED.description,
  operator = EXCLUDED.operator,
  vessel_name = EXCLUDED.vessel_name,
  voyage_no = EXCLUDED.voyage_no,
  raw_data = EXCLUDED.raw_data,
  updated_at = EXCLUDED.updated_at
`,
		n.ID, n.ShipmentID, n.NodeCode, n.NodeName, n.Location, n.LocationCode,
		n.EventTime.UTC(), n.Description, n.Operator, n.VesselName, n.VoyageNo,
		n.Source, jsonArg(n.RawData), n.CreatedAt.UTC(), n.UpdatedAt.UTC(),
	)
	return errors.Wrap(err, "upsert node")
}

func getShipment(ctx context.Context, q querier, containerNo string) (*models.Shipment, error) {
	var sh models.Shipment
	err := q.QueryRow(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE container_no = $1
`, containerNo).Scan(shipmentDest(&sh)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "shipment %s not found", containerNo)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return &sh, nil
}

func shipmentDest(sh *models.Shipment) []any {
	return []any{
		&sh.ID, &sh.ContainerNo, &sh.ContainerType, &sh.BLNo, &sh.BookingNo,
		&sh.CarrierCode, &sh.CarrierName, &sh.OriginPort, &sh.DestinationPort,
		&sh.ETD, &sh.ETA, &sh.ATD, &sh.ATA, &sh.Status, &sh.CurrentNode, &sh.Provenance,
		&sh.LastSyncAt, &sh.CreatedAt, &sh.UpdatedAt,
	}
}

func shipmentArgs(sh *models.Shipment) []any {
	return []any{
		sh.ID, sh.ContainerNo, sh.ContainerType, sh.BLNo, sh.BookingNo,
		sh.CarrierCode, sh.CarrierName, sh.OriginPort, sh.DestinationPort,
		sh.ETD, sh.ETA, sh.ATD, sh.ATA, sh.Status, sh.CurrentNode, sh.Provenance,
		sh.LastSyncAt, sh.CreatedAt.UTC(), sh.UpdatedAt.UTC(),
	}
}

func collectNodes(rows pgx.Rows) ([]*models.ShipmentNode, error) {
	defer rows.Close()

	var out []*models.ShipmentNode
	for rows.Next() {
		var n models.ShipmentNode
		var raw []byte
		if err := rows.Scan(
			&n.ID, &n.ShipmentID, &n.NodeCode, &n.NodeName, &n.Location, &n.LocationCode,
			&n.EventTime, &n.Description, &n.Operator, &n.VesselName, &n.VoyageNo,
			&n.Source, &raw, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan node")
		}
		n.RawData = raw
		n.EventTime = n.EventTime.UTC()
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
