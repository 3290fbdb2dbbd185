// Package subscriptions keeps the local list of tracked containers and mirrors
// it to the provider's push subscriptions on a best-effort basis.
package subscriptions

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Repository interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, containerNo string) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, containerNo string) error
	ListSubscriptions(ctx context.Context, f models.SubscriptionFilter, p models.Page) ([]*models.Subscription, int64, error)
	ListPendingExternal(ctx context.Context, limit int) ([]*models.Subscription, error)
	MarkExternalSubscribed(ctx context.Context, containerNo, externalID string, at time.Time) error
}

const (
	DefaultResubscribeLimit = 100
	DefaultResubscribeDelay = time.Second
	CallbackPath            = "/webhooks/4portun"
)

type Registry struct {
	repo        Repository
	provider    tracking.Client
	callbackURL string

	resubscribeLimit int
	resubscribeDelay time.Duration

	now func() time.Time
}

// New builds a registry. callbackBase is the public base URL the provider
// pushes to; the webhook path is appended.
func New(repo Repository, provider tracking.Client, callbackBase string) *Registry {
	r := &Registry{
		repo:             repo,
		provider:         provider,
		resubscribeLimit: DefaultResubscribeLimit,
		resubscribeDelay: DefaultResubscribeDelay,
		now:              time.Now,
	}
	if base := strings.TrimRight(strings.TrimSpace(callbackBase), "/"); base != "" {
		r.callbackURL = base + CallbackPath
	}
	return r
}

func (r *Registry) WithResubscribe(limit int, delay time.Duration) *Registry {
	if limit > 0 {
		r.resubscribeLimit = limit
	}
	if delay > 0 {
		r.resubscribeDelay = delay
	}
	return r
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) CallbackURL() string { return r.callbackURL }

type SubscribeOptions struct {
	CompanyID    *string
	AutoSync     *bool
	SyncInterval int
	Remark       *string
}

// Subscribe starts tracking a container. An active subscription is a
// Conflict; an inactive one is reactivated. The provider subscription is
// attempted afterwards and its failure only leaves externalSubscribed false.
func (r *Registry) Subscribe(ctx context.Context, containerNo string, opts SubscribeOptions) (*models.Subscription, error) {
	containerNo = strings.TrimSpace(containerNo)
	if containerNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	if opts.SyncInterval < 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "syncInterval must not be negative")
	}

	now := r.now().UTC()
	existing, err := r.repo.GetSubscription(ctx, containerNo)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsSubscribed {
		return nil, apperr.New(apperr.KindConflict, "container %s is already subscribed", containerNo)
	}

	sub := existing
	if sub == nil {
		sub = &models.Subscription{ID: uuid.NewString(), ContainerNo: containerNo, CreatedAt: now}
	}
	sub.IsSubscribed = true
	sub.AutoSync = true
	if opts.AutoSync != nil {
		sub.AutoSync = *opts.AutoSync
	}
	sub.SyncIntervalSeconds = opts.SyncInterval
	if sub.SyncIntervalSeconds == 0 {
		sub.SyncIntervalSeconds = models.DefaultSyncIntervalSeconds
	}
	if opts.CompanyID != nil {
		sub.CompanyID = opts.CompanyID
	}
	if opts.Remark != nil {
		sub.Remark = opts.Remark
	}
	next := now.Add(sub.SyncInterval())
	sub.NextSyncAt = &next
	sub.SubscribedAt = &now
	sub.UnsubscribedAt = nil
	sub.ExternalSubscribed = false
	sub.ExternalSubID = nil
	sub.UpdatedAt = now

	if existing == nil {
		err = r.repo.CreateSubscription(ctx, sub)
	} else {
		err = r.repo.UpdateSubscription(ctx, sub)
	}
	if err != nil {
		return nil, err
	}

	r.subscribeExternal(ctx, sub)
	return sub, nil
}

func (r *Registry) subscribeExternal(ctx context.Context, sub *models.Subscription) bool {
	if r.provider == nil || r.callbackURL == "" {
		slog.Warn("provider subscription skipped, no callback url", "container_no", sub.ContainerNo)
		return false
	}
	h, err := r.provider.Subscribe(ctx, sub.ContainerNo, r.callbackURL)
	if err != nil {
		slog.Warn("provider subscribe failed", "container_no", sub.ContainerNo, "error", err.Error())
		return false
	}
	now := r.now().UTC()
	if err := r.repo.MarkExternalSubscribed(ctx, sub.ContainerNo, h.ExternalID, now); err != nil {
		slog.Error("mark external subscribed", "container_no", sub.ContainerNo, "error", err.Error())
		return false
	}
	sub.ExternalSubscribed = true
	if h.ExternalID != "" {
		id := h.ExternalID
		sub.ExternalSubID = &id
	}
	sub.UpdatedAt = now
	return true
}

// Unsubscribe stops tracking a container. The row is kept, marked inactive.
// Unsubscribing an inactive subscription is a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, containerNo string) (*models.Subscription, error) {
	sub, err := r.repo.GetSubscription(ctx, strings.TrimSpace(containerNo))
	if err != nil {
		return nil, err
	}
	if !sub.IsSubscribed {
		return sub, nil
	}

	r.unsubscribeExternal(ctx, sub)

	now := r.now().UTC()
	sub.IsSubscribed = false
	sub.UnsubscribedAt = &now
	sub.NextSyncAt = nil
	sub.UpdatedAt = now
	if err := r.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *Registry) unsubscribeExternal(ctx context.Context, sub *models.Subscription) {
	if r.provider == nil || !sub.ExternalSubscribed {
		return
	}
	if err := r.provider.Unsubscribe(ctx, sub.ContainerNo); err != nil {
		slog.Warn("provider unsubscribe failed", "container_no", sub.ContainerNo, "error", err.Error())
		return
	}
	sub.ExternalSubscribed = false
	sub.ExternalSubID = nil
}

// Delete removes the row for good, unsubscribing from the provider first.
func (r *Registry) Delete(ctx context.Context, containerNo string) error {
	containerNo = strings.TrimSpace(containerNo)
	sub, err := r.repo.GetSubscription(ctx, containerNo)
	if err != nil {
		return err
	}
	r.unsubscribeExternal(ctx, sub)
	return r.repo.DeleteSubscription(ctx, containerNo)
}

type UpdateOptions struct {
	CompanyID    *string
	AutoSync     *bool
	SyncInterval *int
	Remark       *string
}

// Update changes the settings of a subscription. A changed interval
// reschedules the next sync from now.
func (r *Registry) Update(ctx context.Context, containerNo string, opts UpdateOptions) (*models.Subscription, error) {
	sub, err := r.repo.GetSubscription(ctx, strings.TrimSpace(containerNo))
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	if opts.SyncInterval != nil {
		if *opts.SyncInterval < 0 {
			return nil, apperr.New(apperr.KindInvalidInput, "syncInterval must not be negative")
		}
		interval := *opts.SyncInterval
		if interval == 0 {
			interval = models.DefaultSyncIntervalSeconds
		}
		if interval != sub.SyncIntervalSeconds {
			sub.SyncIntervalSeconds = interval
			if sub.IsSubscribed {
				next := now.Add(sub.SyncInterval())
				sub.NextSyncAt = &next
			}
		}
	}
	if opts.AutoSync != nil {
		sub.AutoSync = *opts.AutoSync
	}
	if opts.CompanyID != nil {
		sub.CompanyID = opts.CompanyID
	}
	if opts.Remark != nil {
		sub.Remark = opts.Remark
	}
	sub.UpdatedAt = now
	if err := r.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *Registry) Get(ctx context.Context, containerNo string) (*models.Subscription, error) {
	return r.repo.GetSubscription(ctx, strings.TrimSpace(containerNo))
}

func (r *Registry) List(ctx context.Context, f models.SubscriptionFilter, p models.Page) ([]*models.Subscription, models.Pagination, error) {
	p = p.Normalize()
	list, total, err := r.repo.ListSubscriptions(ctx, f, p)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	if list == nil {
		list = []*models.Subscription{}
	}
	return list, models.NewPagination(p, total), nil
}

type ResubscribeReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ReconcileExternalState retries the provider subscription for active rows
// the provider does not know about, one call per resubscribe delay.
func (r *Registry) ReconcileExternalState(ctx context.Context) (*ResubscribeReport, error) {
	pending, err := r.repo.ListPendingExternal(ctx, r.resubscribeLimit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending external subscriptions")
	}

	rep := &ResubscribeReport{}
	lim := rate.NewLimiter(rate.Every(r.resubscribeDelay), 1)
	for _, sub := range pending {
		if err := lim.Wait(ctx); err != nil {
			break
		}
		rep.Attempted++
		if r.subscribeExternal(ctx, sub) {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
	}
	slog.Info("external subscriptions reconciled", "attempted", rep.Attempted,
		"succeeded", rep.Succeeded, "failed", rep.Failed)
	return rep, nil
}
