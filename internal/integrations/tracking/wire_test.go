package tracking

import (
	"testing"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestContainerData_ToSnapshot(t *testing.T) {
	d := ContainerData{
		ContainerNo: " MSCU1234567 ",
		CarrierCode: "MSCU",
		ETD:         "2025-01-02 08:00:00",
		ETA:         "2025-02-01T00:00:00Z",
		Nodes: []NodeData{
			{NodeCode: "GATE_IN", EventTime: "2025-01-01T10:00:00+08:00", Location: "Shanghai"},
		},
	}
	s, err := d.ToSnapshot()
	require.NoError(t, err)
	require.Equal(t, "MSCU1234567", s.ContainerNo)
	require.Equal(t, time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC), *s.ETD)
	require.Nil(t, s.ATA)
	require.Len(t, s.Events, 1)
	require.Equal(t, time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC), s.Events[0].EventTime)
	require.Contains(t, string(s.Events[0].Raw), `"location":"Shanghai"`)
}

func TestContainerData_ToSnapshot_Invalid(t *testing.T) {
	_, err := ContainerData{}.ToSnapshot()
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ContainerData{ContainerNo: "X", Nodes: []NodeData{{NodeCode: "GATE_IN", EventTime: "yesterday"}}}.ToSnapshot()
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ContainerData{ContainerNo: "X", Nodes: []NodeData{{EventTime: "2025-01-01"}}}.ToSnapshot()
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestValidateBatch(t *testing.T) {
	require.ErrorIs(t, ValidateBatch(nil), apperr.ErrInvalidInput)

	keys := make([]string, MaxBatchSize+1)
	for i := range keys {
		keys[i] = "C"
	}
	require.ErrorIs(t, ValidateBatch(keys), apperr.ErrInvalidInput)
	require.NoError(t, ValidateBatch(keys[:MaxBatchSize]))
	require.ErrorIs(t, ValidateBatch([]string{"A", " "}), apperr.ErrInvalidInput)
}
