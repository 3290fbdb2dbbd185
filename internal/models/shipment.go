package models

import (
	"encoding/json"
	"time"
)

// Provenance tags: which path last wrote a shipment.
const (
	ProvenancePull     = "pull"
	ProvenanceWebhook  = "webhook"
	ProvenanceProvider = "provider"
	ProvenanceManual   = "manual"
	ProvenanceAPI      = "api"
)

type Shipment struct {
	ID              string     `json:"id"`
	ContainerNo     string     `json:"containerNo"`
	ContainerType   string     `json:"containerType,omitempty"`
	BLNo            string     `json:"blNo,omitempty"`
	BookingNo       string     `json:"bookingNo,omitempty"`
	CarrierCode     string     `json:"carrierCode,omitempty"`
	CarrierName     string     `json:"carrierName,omitempty"`
	OriginPort      string     `json:"originPort,omitempty"`
	DestinationPort string     `json:"destinationPort,omitempty"`
	ETD             *time.Time `json:"etd,omitempty"`
	ETA             *time.Time `json:"eta,omitempty"`
	ATD             *time.Time `json:"atd,omitempty"`
	ATA             *time.Time `json:"ata,omitempty"`
	Status          string     `json:"status,omitempty"`
	CurrentNode     string     `json:"currentNode,omitempty"`
	Provenance      string     `json:"provenance,omitempty"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ShipmentNode is one tracking event. (ShipmentID, NodeCode, EventTime) is
// unique.
type ShipmentNode struct {
	ID           string          `json:"id"`
	ShipmentID   string          `json:"shipmentId"`
	NodeCode     string          `json:"nodeCode"`
	NodeName     string          `json:"nodeName,omitempty"`
	Location     string          `json:"location,omitempty"`
	LocationCode string          `json:"locationCode,omitempty"`
	EventTime    time.Time       `json:"eventTime"`
	Description  string          `json:"description,omitempty"`
	Operator     string          `json:"operator,omitempty"`
	VesselName   string          `json:"vesselName,omitempty"`
	VoyageNo     string          `json:"voyageNo,omitempty"`
	Source       string          `json:"source,omitempty"`
	RawData      json.RawMessage `json:"rawData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// SameFacts reports whether the descriptive fields of two nodes with the same
// key are equal.
func (n *ShipmentNode) SameFacts(o *ShipmentNode) bool {
	return n.NodeName == o.NodeName &&
		n.Location == o.Location &&
		n.LocationCode == o.LocationCode &&
		n.Description == o.Description &&
		n.Operator == o.Operator &&
		n.VesselName == o.VesselName &&
		n.VoyageNo == o.VoyageNo &&
		jsonEqual(n.RawData, o.RawData)
}

func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
