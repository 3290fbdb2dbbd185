package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/codemap"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/models"
)

var route = []string{
	"BOOKED", "EMPTY_PICKUP", "GATE_IN", "LOADED", "DEPARTURE",
	"ARRIVAL", "DISCHARGED", "FULL_PICKUP", "DELIVERED",
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Client is a deterministic stand-in for the provider: the same container
// number always yields the same snapshot, so repeated syncs are no-ops.
type Client struct{}

var _ tracking.Client = (*Client)(nil)

func New() *Client { return &Client{} }

func (f *Client) TrackOne(ctx context.Context, containerNo string) (*models.Snapshot, error) {
	return snapshot(containerNo), nil
}

func (f *Client) TrackBatch(ctx context.Context, containerNos []string) ([]*models.Snapshot, error) {
	if err := tracking.ValidateBatch(containerNos); err != nil {
		return nil, err
	}
	out := make([]*models.Snapshot, 0, len(containerNos))
	for _, no := range containerNos {
		out = append(out, snapshot(no))
	}
	return out, nil
}

func (f *Client) TrackByBL(ctx context.Context, blNo string) ([]*models.Snapshot, error) {
	h := hash(blNo)
	n := int(h%3) + 1
	out := make([]*models.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		s := snapshot(fmt.Sprintf("FAKE%07d", (h+uint32(i))%10_000_000))
		s.BLNo = blNo
		out = append(out, s)
	}
	return out, nil
}

func (f *Client) Subscribe(ctx context.Context, containerNo, callbackURL string) (tracking.SubscriptionHandle, error) {
	return tracking.SubscriptionHandle{ExternalID: fmt.Sprintf("fake-%08x", hash(containerNo))}, nil
}

func (f *Client) Unsubscribe(ctx context.Context, containerNo string) error { return nil }

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func snapshot(containerNo string) *models.Snapshot {
	h := hash(containerNo)
	start := epoch.Add(time.Duration(h%60) * 24 * time.Hour)
	steps := int(h%uint32(len(route))) + 1

	carrier := ""
	if len(containerNo) >= 4 {
		carrier = strings.ToUpper(containerNo[:4])
	}
	s := &models.Snapshot{
		ContainerNo:     containerNo,
		ContainerType:   "40HQ",
		CarrierCode:     carrier,
		OriginPort:      "CNSHG",
		DestinationPort: "NLRTM",
		Status:          route[steps-1],
	}
	for i := 0; i < steps; i++ {
		s.Events = append(s.Events, models.SnapshotEvent{
			NodeCode:    route[i],
			NodeName:    strings.ReplaceAll(strings.ToLower(route[i]), "_", " "),
			EventTime:   start.Add(time.Duration(i) * 12 * time.Hour),
			Description: "fake provider event",
		})
	}
	codemap.Normalize(s)
	return s
}
