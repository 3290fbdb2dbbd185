package models

import "time"

const DefaultSyncIntervalSeconds = 300

type Subscription struct {
	ID                  string     `json:"id"`
	ContainerNo         string     `json:"containerNo"`
	ShipmentID          *string    `json:"shipmentId,omitempty"`
	CompanyID           *string    `json:"companyId,omitempty"`
	IsSubscribed        bool       `json:"isSubscribed"`
	AutoSync            bool       `json:"autoSync"`
	SyncIntervalSeconds int        `json:"syncInterval"`
	NextSyncAt          *time.Time `json:"nextSyncAt,omitempty"`
	LastSyncAt          *time.Time `json:"lastSyncAt,omitempty"`
	ExternalSubscribed  bool       `json:"externalSubscribed"`
	ExternalSubID       *string    `json:"externalSubId,omitempty"`
	TotalPushes         int64      `json:"totalPushes"`
	LastPushAt          *time.Time `json:"lastPushAt,omitempty"`
	Remark              *string    `json:"remark,omitempty"`
	SubscribedAt        *time.Time `json:"subscribedAt,omitempty"`
	UnsubscribedAt      *time.Time `json:"unsubscribedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func (s *Subscription) SyncInterval() time.Duration {
	if s.SyncIntervalSeconds <= 0 {
		return DefaultSyncIntervalSeconds * time.Second
	}
	return time.Duration(s.SyncIntervalSeconds) * time.Second
}

type SubscriptionFilter struct {
	ContainerNo        string
	CompanyID          string
	IsSubscribed       *bool
	ExternalSubscribed *bool
}

type Page struct {
	Page     int
	PageSize int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 200 {
		p.PageSize = 200
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

func NewPagination(p Page, total int64) Pagination {
	pages := int64(0)
	if p.PageSize > 0 {
		pages = (total + int64(p.PageSize) - 1) / int64(p.PageSize)
	}
	return Pagination{Page: p.Page, PageSize: p.PageSize, Total: total, TotalPages: pages}
}
