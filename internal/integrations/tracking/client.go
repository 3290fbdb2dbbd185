package tracking

import (
	"context"
	"strings"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
)

// MaxBatchSize is the provider's ceiling for one batch lookup.
const MaxBatchSize = 50

type SubscriptionHandle struct {
	ExternalID string
}

// Client is the provider surface. Every returned snapshot is already in
// internal vocabulary.
type Client interface {
	TrackOne(ctx context.Context, containerNo string) (*models.Snapshot, error)
	TrackBatch(ctx context.Context, containerNos []string) ([]*models.Snapshot, error)
	TrackByBL(ctx context.Context, blNo string) ([]*models.Snapshot, error)
	Subscribe(ctx context.Context, containerNo, callbackURL string) (SubscriptionHandle, error)
	Unsubscribe(ctx context.Context, containerNo string) error
}

// ValidateBatch rejects empty, oversized or blank-key batches before any
// network call.
func ValidateBatch(containerNos []string) error {
	if len(containerNos) == 0 {
		return apperr.New(apperr.KindInvalidInput, "batch is empty")
	}
	if len(containerNos) > MaxBatchSize {
		return apperr.New(apperr.KindInvalidInput, "batch of %d exceeds max %d", len(containerNos), MaxBatchSize)
	}
	for _, no := range containerNos {
		if strings.TrimSpace(no) == "" {
			return apperr.New(apperr.KindInvalidInput, "containerNo is required")
		}
	}
	return nil
}
