// Package storage declares the transactional views the services write
// through. pgsync implements them on Postgres.
package storage

import (
	"context"

	"github.com/BearBump/BoxSync/internal/models"
)

// ShipmentTx is a transaction scoped to one container number. Missing rows
// are reported as apperr.ErrNotFound.
type ShipmentTx interface {
	GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error)
	InsertShipment(ctx context.Context, s *models.Shipment) error
	UpdateShipment(ctx context.Context, s *models.Shipment) error
	ListNodes(ctx context.Context, shipmentID string) ([]*models.ShipmentNode, error)
	UpsertNode(ctx context.Context, n *models.ShipmentNode) error
}

// StatusTx is a transaction over one order or bill row, locked for update.
type StatusTx interface {
	GetStatus(ctx context.Context) (string, error)
	SetStatus(ctx context.Context, status string) error
	AppendTransition(ctx context.Context, t *models.StatusTransition) error
}
