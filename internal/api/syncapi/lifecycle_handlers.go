package syncapi

import (
	"net/http"

	"github.com/BearBump/BoxSync/internal/services/lifecycle"
	"github.com/go-chi/chi/v5"
)

type createOrderRequest struct {
	OrderNo string `json:"orderNo" validate:"required"`
}

type createBillRequest struct {
	BillNo  string  `json:"billNo" validate:"required"`
	OrderID *string `json:"orderId,omitempty"`
}

type entityView struct {
	Entity               any      `json:"entity"`
	AvailableTransitions []string `json:"availableTransitions"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := a.svc.Lifecycle.CreateOrder(r.Context(), req.OrderNo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "created", o)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.Lifecycle.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", entityView{Entity: o, AvailableTransitions: lifecycle.OrderMachine.AvailableTransitions(o.Status)})
}

func (a *API) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.TransitionRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.svc.Lifecycle.TransitionOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", res)
}

func (a *API) orderHistory(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Lifecycle.OrderHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", list)
}

func (a *API) createBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := a.svc.Lifecycle.CreateBill(r.Context(), req.BillNo, req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "created", b)
}

func (a *API) getBill(w http.ResponseWriter, r *http.Request) {
	b, err := a.svc.Lifecycle.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", entityView{Entity: b, AvailableTransitions: lifecycle.BillMachine.AvailableTransitions(b.Status)})
}

func (a *API) transitionBill(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.TransitionRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.svc.Lifecycle.TransitionBill(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", res)
}

func (a *API) billHistory(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Lifecycle.BillHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", list)
}
