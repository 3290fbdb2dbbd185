package tracking

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
)

// ContainerData is the provider's container payload. The internal push
// endpoint accepts the same shape.
type ContainerData struct {
	ContainerNo     string     `json:"containerNo" validate:"required"`
	ContainerType   string     `json:"containerType,omitempty"`
	BLNo            string     `json:"blNo,omitempty"`
	BookingNo       string     `json:"bookingNo,omitempty"`
	CarrierCode     string     `json:"carrierCode,omitempty"`
	CarrierName     string     `json:"carrierName,omitempty"`
	OriginPort      string     `json:"originPort,omitempty"`
	DestinationPort string     `json:"destinationPort,omitempty"`
	ETD             string     `json:"etd,omitempty"`
	ETA             string     `json:"eta,omitempty"`
	ATD             string     `json:"atd,omitempty"`
	ATA             string     `json:"ata,omitempty"`
	Status          string     `json:"status,omitempty"`
	Nodes           []NodeData `json:"nodes,omitempty" validate:"dive"`
}

type NodeData struct {
	NodeCode     string `json:"nodeCode" validate:"required"`
	NodeName     string `json:"nodeName,omitempty"`
	Location     string `json:"location,omitempty"`
	LocationCode string `json:"locationCode,omitempty"`
	EventTime    string `json:"eventTime" validate:"required"`
	Description  string `json:"description,omitempty"`
	Operator     string `json:"operator,omitempty"`
	VesselName   string `json:"vesselName,omitempty"`
	VoyageNo     string `json:"voyageNo,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts the timestamp formats seen in provider payloads. Naive
// timestamps are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.New(apperr.KindInvalidInput, "invalid time %q", s)
}

func parseOptTime(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ToEvent converts one node; the raw node JSON is kept as the event payload.
func (n NodeData) ToEvent() (models.SnapshotEvent, error) {
	if strings.TrimSpace(n.NodeCode) == "" {
		return models.SnapshotEvent{}, apperr.New(apperr.KindInvalidInput, "nodeCode is required")
	}
	at, err := ParseTime(n.EventTime)
	if err != nil {
		return models.SnapshotEvent{}, err
	}
	raw, _ := json.Marshal(n)
	return models.SnapshotEvent{
		NodeCode:     n.NodeCode,
		NodeName:     n.NodeName,
		Location:     n.Location,
		LocationCode: n.LocationCode,
		EventTime:    at,
		Description:  n.Description,
		Operator:     n.Operator,
		VesselName:   n.VesselName,
		VoyageNo:     n.VoyageNo,
		Raw:          raw,
	}, nil
}

// ToSnapshot converts the payload without translating codes.
func (d ContainerData) ToSnapshot() (*models.Snapshot, error) {
	if strings.TrimSpace(d.ContainerNo) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	s := &models.Snapshot{
		ContainerNo:     strings.TrimSpace(d.ContainerNo),
		ContainerType:   d.ContainerType,
		BLNo:            d.BLNo,
		BookingNo:       d.BookingNo,
		CarrierCode:     d.CarrierCode,
		CarrierName:     d.CarrierName,
		OriginPort:      d.OriginPort,
		DestinationPort: d.DestinationPort,
		Status:          d.Status,
	}
	var err error
	if s.ETD, err = parseOptTime(d.ETD); err != nil {
		return nil, err
	}
	if s.ETA, err = parseOptTime(d.ETA); err != nil {
		return nil, err
	}
	if s.ATD, err = parseOptTime(d.ATD); err != nil {
		return nil, err
	}
	if s.ATA, err = parseOptTime(d.ATA); err != nil {
		return nil, err
	}
	for _, n := range d.Nodes {
		ev, err := n.ToEvent()
		if err != nil {
			return nil, err
		}
		s.Events = append(s.Events, ev)
	}
	return s, nil
}
