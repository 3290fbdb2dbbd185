package models

import (
	"encoding/json"
	"time"
)

const (
	PushStatusPending = "PENDING"
	PushStatusSuccess = "SUCCESS"
	PushStatusFailed  = "FAILED"
)

// PushRecord audits one inbound push attempt. It is created PENDING and
// finalized exactly once.
type PushRecord struct {
	ID           string          `json:"id"`
	ContainerNo  string          `json:"containerNo"`
	ShipmentID   *string         `json:"shipmentId,omitempty"`
	Source       string          `json:"source"`
	PushType     string          `json:"pushType,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

type PushRecordFilter struct {
	ContainerNo string
	Status      string
	Source      string
}
