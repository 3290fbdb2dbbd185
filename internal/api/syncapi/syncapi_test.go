package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/integrations/tracking/fake"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/lifecycle"
	"github.com/BearBump/BoxSync/internal/services/push"
	"github.com/BearBump/BoxSync/internal/services/reconciler"
	"github.com/BearBump/BoxSync/internal/services/shipments"
	"github.com/BearBump/BoxSync/internal/services/subscriptions"
	"github.com/BearBump/BoxSync/internal/services/syncer"
	"github.com/BearBump/BoxSync/internal/services/webhook"
	"github.com/BearBump/BoxSync/internal/storage/memstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret     = "internal-secret"
	webhookSecret = "whsec"
)

type downProvider struct{ *fake.Client }

func (downProvider) TrackOne(ctx context.Context, containerNo string) (*models.Snapshot, error) {
	<-ctx.Done()
	return nil, apperr.Wrap(apperr.KindProviderError, ctx.Err(), "provider unavailable")
}

func (downProvider) TrackByBL(ctx context.Context, blNo string) ([]*models.Snapshot, error) {
	return nil, apperr.New(apperr.KindProviderError, "provider unavailable")
}

type env struct {
	store *memstore.Store
	srv   *httptest.Server
	now   time.Time
}

func newEnv(t *testing.T, provider tracking.Client) *env {
	t.Helper()
	e := &env{store: memstore.New(), now: time.Now().UTC()}
	clock := func() time.Time { return e.now }

	rec := reconciler.New(e.store).WithClock(clock)
	pushSvc := push.New(e.store, rec).WithClock(clock)
	api := New(Services{
		Syncer:        syncer.New(e.store, provider, rec).WithClock(clock),
		Shipments:     shipments.New(e.store, nil, 0),
		Subscriptions: subscriptions.New(e.store, provider, "https://sync.example.com").WithClock(clock),
		Push:          pushSvc,
		Webhook:       webhook.New(webhookSecret, pushSvc).WithClock(clock),
		Lifecycle:     lifecycle.New(e.store).WithClock(clock),
	}, Options{JWTSecret: jwtSecret, LookupTimeout: 200 * time.Millisecond})

	e.srv = httptest.NewServer(api.Routes())
	t.Cleanup(e.srv.Close)
	return e
}

func token(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

type result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path string, body any, hdr http.Header) (int, result) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res result
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &res)
	return resp.StatusCode, res
}

func bearer(t *testing.T) http.Header {
	return http.Header{"Authorization": {"Bearer " + token(t)}}
}

func TestAPI_Health(t *testing.T) {
	e := newEnv(t, fake.New())
	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_GetShipment_PullsUnknownContainer(t *testing.T) {
	e := newEnv(t, fake.New())

	code, res := e.do(t, http.MethodGet, "/api/v1/shipments/MSCU1234567", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, res.Success)

	var sh struct {
		ContainerNo string `json:"containerNo"`
		CurrentNode string `json:"currentNode"`
		Stale       bool   `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &sh))
	require.Equal(t, "MSCU1234567", sh.ContainerNo)
	require.NotEmpty(t, sh.CurrentNode)
	require.False(t, sh.Stale)

	code, res = e.do(t, http.MethodGet, "/api/v1/shipments/MSCU1234567/nodes?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var nodes []models.ShipmentNode
	require.NoError(t, json.Unmarshal(res.Data, &nodes))
	require.NotEmpty(t, nodes)
	require.LessOrEqual(t, len(nodes), 2)
}

func TestAPI_GetShipment_TimeoutServesStale(t *testing.T) {
	e := newEnv(t, downProvider{fake.New()})
	old := e.now.Add(-2 * time.Hour)
	e.store.PutShipment(&models.Shipment{ID: "s1", ContainerNo: "MSCU7654321", CurrentNode: "LOADED", LastSyncAt: &old})

	code, res := e.do(t, http.MethodGet, "/api/v1/shipments/MSCU7654321", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var sh struct {
		CurrentNode string `json:"currentNode"`
		Stale       bool   `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &sh))
	require.Equal(t, "LOADED", sh.CurrentNode)
	require.True(t, sh.Stale)

	code, res = e.do(t, http.MethodGet, "/api/v1/shipments/NOPE0000000", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.False(t, res.Success)
	require.Equal(t, string(apperr.KindNotFound), res.Code)
}

func TestAPI_ForceSync(t *testing.T) {
	e := newEnv(t, fake.New())
	last := e.now.Add(-time.Minute)
	e.store.PutShipment(&models.Shipment{ID: "s1", ContainerNo: "MSCU1234567", CurrentNode: "BOOKED", LastSyncAt: &last})

	code, res := e.do(t, http.MethodPost, "/api/v1/shipments/MSCU1234567/sync", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, res.Success)
	require.Greater(t, e.store.NodeCount("MSCU1234567"), 0)

	var sh struct {
		Provenance string `json:"provenance"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &sh))
	require.Equal(t, models.ProvenancePull, sh.Provenance)
}

func TestAPI_TrackByBL(t *testing.T) {
	e := newEnv(t, fake.New())
	code, res := e.do(t, http.MethodGet, "/api/v1/shipments/bl/MEDU1234", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var list []struct {
		ContainerNo string `json:"containerNo"`
		BLNo        string `json:"blNo"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.NotEmpty(t, list)
	for _, sh := range list {
		require.Equal(t, "MEDU1234", sh.BLNo)
	}

	down := newEnv(t, downProvider{fake.New()})
	down.store.PutShipment(&models.Shipment{ID: "s1", ContainerNo: "MSCU7654321", BLNo: "MEDU9999"})
	code, res = down.do(t, http.MethodGet, "/api/v1/shipments/bl/MEDU9999", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)
	require.Equal(t, "MSCU7654321", list[0].ContainerNo)

	code, res = down.do(t, http.MethodGet, "/api/v1/shipments/bl/MEDU0000", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, string(apperr.KindNotFound), res.Code)
}

func TestAPI_Webhook(t *testing.T) {
	e := newEnv(t, fake.New())
	body := []byte(`{"eventType":"TRACKING_UPDATE","containerNo":"TGHU0000001","events":[` +
		`{"nodeCode":"GATE_IN","eventTime":"2025-07-30T08:00:00Z"}]}`)

	sign := func(at time.Time) http.Header {
		ts := strconv.FormatInt(at.UnixMilli(), 10)
		return http.Header{
			webhook.SignatureHeader: {webhook.Sign([]byte(webhookSecret), ts, body)},
			webhook.TimestampHeader: {ts},
		}
	}

	code, res := e.do(t, http.MethodPost, "/webhooks/4portun", body, sign(e.now.Add(-10*time.Minute)))
	require.Equal(t, http.StatusUnauthorized, code)
	require.False(t, res.Success)

	code, res = e.do(t, http.MethodPost, "/webhooks/4portun", body, sign(e.now.Add(-time.Minute)))
	require.Equal(t, http.StatusOK, code)
	require.True(t, res.Success)
	var data struct {
		ContainerNo string    `json:"containerNo"`
		EventCount  int       `json:"eventCount"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &data))
	require.Equal(t, "TGHU0000001", data.ContainerNo)
	require.Equal(t, 1, data.EventCount)
	require.False(t, data.UpdatedAt.IsZero())

	code, res = e.do(t, http.MethodGet, "/internal/push-records?source=webhook", nil, bearer(t))
	require.Equal(t, http.StatusOK, code)
	var list struct {
		List       []models.PushRecord `json:"list"`
		Pagination models.Pagination   `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list.List, 1)
	require.EqualValues(t, 1, list.Pagination.Total)
	require.Equal(t, models.PushStatusSuccess, list.List[0].Status)
}

func TestAPI_InternalAuth(t *testing.T) {
	e := newEnv(t, fake.New())

	code, res := e.do(t, http.MethodGet, "/internal/subscriptions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, string(apperr.KindUnauthorized), res.Code)

	code, _ = e.do(t, http.MethodGet, "/internal/subscriptions", nil, http.Header{"Authorization": {"Bearer nope"}})
	require.Equal(t, http.StatusUnauthorized, code)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	s, err := other.SignedString([]byte("wrong"))
	require.NoError(t, err)
	code, _ = e.do(t, http.MethodGet, "/internal/subscriptions", nil, http.Header{"Authorization": {"Bearer " + s}})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/internal/subscriptions", nil, bearer(t))
	require.Equal(t, http.StatusOK, code)
}

func TestAPI_InternalPush(t *testing.T) {
	e := newEnv(t, fake.New())

	code, res := e.do(t, http.MethodPost, "/internal/push/containers", map[string]any{
		"source":     "webhook",
		"containers": []map[string]any{{"containerNo": "A"}},
	}, bearer(t))
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, res.Message, "source")

	code, res = e.do(t, http.MethodPost, "/internal/push/containers", map[string]any{
		"source": "manual",
		"containers": []map[string]any{
			{"containerNo": "MSCU1234567", "nodes": []map[string]any{{"nodeCode": "GATE_IN", "eventTime": "2025-07-30 08:00:00"}}},
			{"containerNo": "BAD", "nodes": []map[string]any{{"nodeCode": "GATE_IN", "eventTime": "soon"}}},
		},
	}, bearer(t))
	require.Equal(t, http.StatusOK, code)
	var sum push.Summary
	require.NoError(t, json.Unmarshal(res.Data, &sum))
	require.Equal(t, 2, sum.Total)
	require.Equal(t, 1, sum.Success)
	require.Equal(t, 1, sum.Failed)
	require.NotEmpty(t, sum.Records[1].RecordID)
}

func TestAPI_Subscriptions(t *testing.T) {
	e := newEnv(t, fake.New())

	code, res := e.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{"containerNo": "MSCU1234567", "syncInterval": 600}, nil)
	require.Equal(t, http.StatusCreated, code)
	var sub models.Subscription
	require.NoError(t, json.Unmarshal(res.Data, &sub))
	require.True(t, sub.IsSubscribed)
	require.True(t, sub.ExternalSubscribed)

	code, res = e.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{"containerNo": "MSCU1234567"}, nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, string(apperr.KindConflict), res.Code)

	code, _ = e.do(t, http.MethodPatch, "/api/v1/subscriptions/MSCU1234567", map[string]any{"autoSync": false}, nil)
	require.Equal(t, http.StatusOK, code)

	code, res = e.do(t, http.MethodDelete, "/api/v1/subscriptions/MSCU1234567", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &sub))
	require.False(t, sub.IsSubscribed)

	code, _ = e.do(t, http.MethodGet, "/api/v1/subscriptions/MSCU1234567", nil, nil)
	require.Equal(t, http.StatusOK, code)

	code, res = e.do(t, http.MethodPut, "/internal/subscriptions/batch", map[string]any{
		"items": []map[string]any{
			{"containerNo": "MSCU1234567", "action": "subscribe"},
			{"containerNo": "TGHU0000001", "action": "update"},
		},
	}, bearer(t))
	require.Equal(t, http.StatusOK, code)
	var batch batchSubscriptionsResponse
	require.NoError(t, json.Unmarshal(res.Data, &batch))
	require.Equal(t, 1, batch.Success)
	require.Equal(t, 1, batch.Failed)

	code, res = e.do(t, http.MethodGet, "/internal/subscriptions?isSubscribed=true", nil, bearer(t))
	require.Equal(t, http.StatusOK, code)
	var list struct {
		List []models.Subscription `json:"list"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list.List, 1)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/subscriptions/MSCU1234567?hard=true", nil, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/subscriptions/MSCU1234567", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestAPI_OrderLifecycle(t *testing.T) {
	e := newEnv(t, fake.New())

	code, res := e.do(t, http.MethodPost, "/api/v1/orders", map[string]any{"orderNo": "SO-1"}, nil)
	require.Equal(t, http.StatusCreated, code)
	var o models.Order
	require.NoError(t, json.Unmarshal(res.Data, &o))

	code, res = e.do(t, http.MethodPost, "/api/v1/orders/"+o.ID+"/transitions", map[string]any{"toStatus": "REJECTED", "operatorId": "u1"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, string(apperr.KindInvalidTransition), res.Code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/orders/"+o.ID+"/transitions", map[string]any{"toStatus": "CONFIRMED"}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/orders/"+o.ID+"/transitions", map[string]any{"toStatus": "CONFIRMED", "operatorId": "u1"}, nil)
	require.Equal(t, http.StatusOK, code)

	code, res = e.do(t, http.MethodGet, "/api/v1/orders/"+o.ID+"/history", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var hist []models.StatusTransition
	require.NoError(t, json.Unmarshal(res.Data, &hist))
	require.Len(t, hist, 1)

	code, res = e.do(t, http.MethodGet, "/api/v1/orders/"+o.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		AvailableTransitions []string `json:"availableTransitions"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &view))
	require.Equal(t, []string{models.OrderCancelled, models.OrderProcessing}, view.AvailableTransitions)
}

func TestAPI_BillLifecycle(t *testing.T) {
	e := newEnv(t, fake.New())

	code, res := e.do(t, http.MethodPost, "/api/v1/bills", map[string]any{"billNo": "INV-1"}, nil)
	require.Equal(t, http.StatusCreated, code)
	var b models.Bill
	require.NoError(t, json.Unmarshal(res.Data, &b))

	code, _ = e.do(t, http.MethodPost, "/api/v1/bills/"+b.ID+"/transitions", map[string]any{"toStatus": "PAID", "operatorId": "u1"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/bills/"+b.ID+"/transitions", map[string]any{"toStatus": "ISSUED", "operatorId": "u1"}, nil)
	require.Equal(t, http.StatusOK, code)

	code, res = e.do(t, http.MethodGet, "/api/v1/bills/"+b.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Entity models.Bill `json:"entity"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &view))
	require.NotNil(t, view.Entity.IssueDate)

	code, _ = e.do(t, http.MethodGet, "/api/v1/bills/nope/history", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestAPI_MalformedBody(t *testing.T) {
	e := newEnv(t, fake.New())
	code, res := e.do(t, http.MethodPost, "/api/v1/orders", []byte(`{"orderNo":`), nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(apperr.KindInvalidInput), res.Code)
}
