package messages

import (
	"time"

	"github.com/BearBump/BoxSync/internal/models"
)

const DefaultShipmentUpdatedTopic = "shipment.updated"

// ShipmentUpdated is emitted after every reconcile that touched a shipment.
type ShipmentUpdated struct {
	ContainerNo  string          `json:"container_no"`
	ShipmentID   string          `json:"shipment_id"`
	Provenance   string          `json:"provenance"`
	PreviousNode string          `json:"previous_node,omitempty"`
	CurrentNode  string          `json:"current_node,omitempty"`
	Inserted     int             `json:"inserted"`
	Updated      int             `json:"updated"`
	Created      bool            `json:"created"`
	AppliedAt    time.Time       `json:"applied_at"`
	Shipment     models.Shipment `json:"shipment"`
}
