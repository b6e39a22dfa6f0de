package model

import (
	"errors"
	"strconv"
	"time"
)

type NotificationKind string

const (
	NotifyOrderConfirmation NotificationKind = "order_confirmation"
	NotifyOrderFailure      NotificationKind = "order_failure"
	NotifyRefundClaim       NotificationKind = "refund_claim"
)

// Notification is the payload carried by the notification stream.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Email     string           `json:"email"`
	UserID    int64            `json:"user_id"`
	OrderID   int64            `json:"order_id"`
	OrderCode string           `json:"order_code"`
	Status    OrderStatus      `json:"status"`
	Message   string           `json:"message,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (n Notification) Validate() error {
	if n.Kind == "" {
		return errors.New("kind is required")
	}
	if n.Email == "" {
		return errors.New("email is required")
	}
	if n.OrderID == 0 {
		return errors.New("order_id is required")
	}
	return nil
}

// DedupKey identifies a notification across redeliveries.
func (n Notification) DedupKey() string {
	return string(n.Kind) + ":" + strconv.FormatInt(n.OrderID, 10) + ":" + n.Email
}
