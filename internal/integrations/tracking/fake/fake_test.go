package fake

import (
	"context"
	"testing"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_Deterministic(t *testing.T) {
	c := New()
	a, err := c.TrackOne(context.Background(), "MSCU1234567")
	require.NoError(t, err)
	b, err := c.TrackOne(context.Background(), "MSCU1234567")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, "MSC", a.CarrierCode)
	require.Equal(t, "CNSHA", a.OriginPort)
	require.NotEmpty(t, a.Events)
	require.Equal(t, a.Status, a.Events[len(a.Events)-1].NodeCode)
}

func TestFakeClient_Batch(t *testing.T) {
	c := New()
	out, err := c.TrackBatch(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	_, err = c.TrackBatch(context.Background(), nil)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestFakeClient_Subscribe(t *testing.T) {
	h, err := New().Subscribe(context.Background(), "MSCU1234567", "")
	require.NoError(t, err)
	require.NotEmpty(t, h.ExternalID)
}
