package domain

import "time"

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// PaymentOrder is a gateway order opened for a booking's grand total.
type PaymentOrder struct {
	ID        string      `json:"id"`
	BookingID string      `json:"booking_id"`
	Amount    Money       `json:"amount"`
	Currency  string      `json:"currency"`
	Status    OrderStatus `json:"status"`
	PaymentID string      `json:"payment_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
