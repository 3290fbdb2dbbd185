package syncapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/go-chi/chi/v5"
)

type shipmentView struct {
	*models.Shipment
	Stale bool `json:"stale"`
}

// getShipment refreshes a stale or unknown container within the lookup
// budget. When the budget runs out the local record is served as is.
func (a *API) getShipment(w http.ResponseWriter, r *http.Request) {
	containerNo := chi.URLParam(r, "containerNo")
	ctx, cancel := context.WithTimeout(r.Context(), a.opts.LookupTimeout)
	defer cancel()

	sh, err := a.svc.Syncer.EnsureFresh(ctx, containerNo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", shipmentView{Shipment: sh, Stale: a.svc.Syncer.IsStale(sh)})
}

func (a *API) syncShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := a.svc.Syncer.ForceSync(r.Context(), chi.URLParam(r, "containerNo"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "shipment synced", shipmentView{Shipment: sh})
}

func (a *API) trackByBL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.opts.LookupTimeout)
	defer cancel()

	list, err := a.svc.Syncer.TrackByBL(ctx, chi.URLParam(r, "blNo"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]shipmentView, 0, len(list))
	for _, sh := range list {
		views = append(views, shipmentView{Shipment: sh, Stale: a.svc.Syncer.IsStale(sh)})
	}
	writeOK(w, http.StatusOK, "ok", views)
}

// lookupShipments reads several containers from the local store without
// refreshing them.
func (a *API) lookupShipments(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("containerNos")
	if strings.TrimSpace(raw) == "" {
		writeError(w, r, apperr.New(apperr.KindInvalidInput, "containerNos is required"))
		return
	}
	list, err := a.svc.Shipments.GetMany(r.Context(), strings.Split(raw, ","))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", list)
}

func (a *API) listNodes(w http.ResponseWriter, r *http.Request) {
	limit, offset := intQuery(r, "limit", 100), intQuery(r, "offset", 0)
	nodes, err := a.svc.Shipments.ListNodes(r.Context(), chi.URLParam(r, "containerNo"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", nodes)
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func boolQuery(r *http.Request, name string) *bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func pageFrom(r *http.Request) models.Page {
	return models.Page{Page: intQuery(r, "page", 1), PageSize: intQuery(r, "pageSize", 20)}.Normalize()
}
