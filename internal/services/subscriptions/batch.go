package subscriptions

import (
	"context"
	"strings"

	"github.com/BearBump/BoxSync/internal/apperr"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionUpdate      = "update"
)

type BatchItem struct {
	ContainerNo  string  `json:"containerNo" validate:"required"`
	Action       string  `json:"action" validate:"required,oneof=subscribe unsubscribe update"`
	CompanyID    *string `json:"companyId,omitempty"`
	AutoSync     *bool   `json:"autoSync,omitempty"`
	SyncInterval *int    `json:"syncInterval,omitempty" validate:"omitempty,min=0"`
	Remark       *string `json:"remark,omitempty"`
}

type BatchResult struct {
	ContainerNo string `json:"containerNo"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// ApplyBatch runs each item independently and reports per item.
func (r *Registry) ApplyBatch(ctx context.Context, items []BatchItem) []BatchResult {
	out := make([]BatchResult, 0, len(items))
	for _, it := range items {
		res := BatchResult{ContainerNo: strings.TrimSpace(it.ContainerNo), Action: it.Action, Status: "success"}
		if err := r.applyOne(ctx, it); err != nil {
			res.Status = "failed"
			res.Message = apperr.PublicMessage(err)
		}
		out = append(out, res)
	}
	return out
}

func (r *Registry) applyOne(ctx context.Context, it BatchItem) error {
	switch it.Action {
	case ActionSubscribe:
		opts := SubscribeOptions{CompanyID: it.CompanyID, AutoSync: it.AutoSync, Remark: it.Remark}
		if it.SyncInterval != nil {
			opts.SyncInterval = *it.SyncInterval
		}
		_, err := r.Subscribe(ctx, it.ContainerNo, opts)
		return err
	case ActionUnsubscribe:
		_, err := r.Unsubscribe(ctx, it.ContainerNo)
		return err
	case ActionUpdate:
		_, err := r.Update(ctx, it.ContainerNo, UpdateOptions{
			CompanyID: it.CompanyID, AutoSync: it.AutoSync, SyncInterval: it.SyncInterval, Remark: it.Remark,
		})
		return err
	default:
		return apperr.New(apperr.KindInvalidInput, "unknown action %q", it.Action)
	}
}
