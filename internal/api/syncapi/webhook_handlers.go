package syncapi

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/webhook"
)

// receiveWebhook hands the raw body to the ingestor; the signature covers
// the exact bytes received.
func (a *API) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeError(w, r, apperr.New(apperr.KindInvalidInput, "unreadable webhook body"))
		return
	}
	res, err := a.svc.Webhook.Ingest(r.Context(), body,
		r.Header.Get(webhook.SignatureHeader), r.Header.Get(webhook.TimestampHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "webhook processed", res)
}

type pushContainersRequest struct {
	Source     string                   `json:"source" validate:"required,oneof=provider manual api"`
	Containers []tracking.ContainerData `json:"containers" validate:"required,min=1,max=100"`
}

func (a *API) pushContainers(w http.ResponseWriter, r *http.Request) {
	var req pushContainersRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := a.svc.Push.PushContainers(r.Context(), req.Source, req.Containers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("internal push",
		"source", req.Source, "caller", subjectFrom(r.Context()), "total", sum.Total, "failed", sum.Failed)
	writeOK(w, http.StatusOK, "push processed", sum)
}

func (a *API) listPushRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.PushRecordFilter{
		ContainerNo: q.Get("containerNo"),
		Status:      q.Get("status"),
		Source:      q.Get("source"),
	}
	list, pg, err := a.svc.Push.ListRecords(r.Context(), f, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", listData[*models.PushRecord]{List: list, Pagination: pg})
}
