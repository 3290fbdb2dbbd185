package syncapi

import (
	"net/http"

	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/subscriptions"
	"github.com/go-chi/chi/v5"
)

type subscribeRequest struct {
	ContainerNo  string  `json:"containerNo" validate:"required"`
	CompanyID    *string `json:"companyId,omitempty"`
	AutoSync     *bool   `json:"autoSync,omitempty"`
	SyncInterval int     `json:"syncInterval,omitempty" validate:"min=0"`
	Remark       *string `json:"remark,omitempty"`
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := a.svc.Subscriptions.Subscribe(r.Context(), req.ContainerNo, subscriptions.SubscribeOptions{
		CompanyID:    req.CompanyID,
		AutoSync:     req.AutoSync,
		SyncInterval: req.SyncInterval,
		Remark:       req.Remark,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "subscribed", sub)
}

func (a *API) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := a.svc.Subscriptions.Get(r.Context(), chi.URLParam(r, "containerNo"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", sub)
}

type updateSubscriptionRequest struct {
	CompanyID    *string `json:"companyId,omitempty"`
	AutoSync     *bool   `json:"autoSync,omitempty"`
	SyncInterval *int    `json:"syncInterval,omitempty" validate:"omitempty,min=0"`
	Remark       *string `json:"remark,omitempty"`
}

func (a *API) updateSubscription(w http.ResponseWriter, r *http.Request) {
	var req updateSubscriptionRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := a.svc.Subscriptions.Update(r.Context(), chi.URLParam(r, "containerNo"), subscriptions.UpdateOptions{
		CompanyID:    req.CompanyID,
		AutoSync:     req.AutoSync,
		SyncInterval: req.SyncInterval,
		Remark:       req.Remark,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "updated", sub)
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	containerNo := chi.URLParam(r, "containerNo")
	if hard := boolQuery(r, "hard"); hard != nil && *hard {
		if err := a.svc.Subscriptions.Delete(r.Context(), containerNo); err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, "deleted", nil)
		return
	}
	sub, err := a.svc.Subscriptions.Unsubscribe(r.Context(), containerNo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "unsubscribed", sub)
}

type batchSubscriptionsRequest struct {
	Items []subscriptions.BatchItem `json:"items" validate:"required,min=1,max=100"`
}

type batchSubscriptionsResponse struct {
	Total   int                         `json:"total"`
	Success int                         `json:"success"`
	Failed  int                         `json:"failed"`
	Results []subscriptions.BatchResult `json:"results"`
}

func (a *API) batchSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req batchSubscriptionsRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	results := a.svc.Subscriptions.ApplyBatch(r.Context(), req.Items)
	resp := batchSubscriptionsResponse{Total: len(results), Results: results}
	for _, res := range results {
		if res.Status == "success" {
			resp.Success++
		} else {
			resp.Failed++
		}
	}
	writeOK(w, http.StatusOK, "batch processed", resp)
}

func (a *API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.SubscriptionFilter{
		ContainerNo:        q.Get("containerNo"),
		CompanyID:          q.Get("companyId"),
		IsSubscribed:       boolQuery(r, "isSubscribed"),
		ExternalSubscribed: boolQuery(r, "externalSubscribed"),
	}
	list, pg, err := a.svc.Subscriptions.List(r.Context(), f, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", listData[*models.Subscription]{List: list, Pagination: pg})
}
