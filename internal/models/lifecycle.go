package models

import "time"

const (
	EntityOrder = "order"
	EntityBill  = "bill"
)

const (
	OrderPending    = "PENDING"
	OrderConfirmed  = "CONFIRMED"
	OrderProcessing = "PROCESSING"
	OrderCompleted  = "COMPLETED"
	OrderCancelled  = "CANCELLED"
	OrderRejected   = "REJECTED"
)

const (
	BillDraft       = "DRAFT"
	BillIssued      = "ISSUED"
	BillPartialPaid = "PARTIAL_PAID"
	BillPaid        = "PAID"
	BillOverdue     = "OVERDUE"
	BillCancelled   = "CANCELLED"
)

type Order struct {
	ID        string    `json:"id"`
	OrderNo   string    `json:"orderNo"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Bill struct {
	ID        string     `json:"id"`
	BillNo    string     `json:"billNo"`
	OrderID   *string    `json:"orderId,omitempty"`
	Status    string     `json:"status"`
	IssueDate *time.Time `json:"issueDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// StatusTransition is an append-only audit row.
type StatusTransition struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	Reason     *string   `json:"reason,omitempty"`
	OperatorID string    `json:"operatorId"`
	CreatedAt  time.Time `json:"createdAt"`
}
