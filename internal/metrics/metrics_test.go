package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCounters(t *testing.T) {
	ReconcileTotal.WithLabelValues("webhook", "applied").Inc()
	require.GreaterOrEqual(t, testutil.ToFloat64(ReconcileTotal.WithLabelValues("webhook", "applied")), 1.0)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), "boxsync_reconcile_total")
}
