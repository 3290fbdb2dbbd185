package models

import (
	"encoding/json"
	"time"
)

// Snapshot is a point-in-time tracking result for one container, in internal
// vocabulary.
type Snapshot struct {
	ContainerNo     string
	ContainerType   string
	BLNo            string
	BookingNo       string
	CarrierCode     string
	CarrierName     string
	OriginPort      string
	DestinationPort string
	ETD             *time.Time
	ETA             *time.Time
	ATD             *time.Time
	ATA             *time.Time
	Status          string
	Events          []SnapshotEvent
}

type SnapshotEvent struct {
	NodeCode     string
	NodeName     string
	Location     string
	LocationCode string
	EventTime    time.Time
	Description  string
	Operator     string
	VesselName   string
	VoyageNo     string
	Raw          json.RawMessage
}
