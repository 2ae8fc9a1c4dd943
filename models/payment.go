package models

import "time"

type PaymentStatus string

// Pending is the only non-terminal status. Completed and Unsuccessful
// are terminal: once recorded they are never revised.
const (
	PaymentStatusPending      PaymentStatus = "Pending"
	PaymentStatusCompleted    PaymentStatus = "Completed"
	PaymentStatusUnsuccessful PaymentStatus = "Unsuccessful"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusUnsuccessful
}

type Payment struct {
	ID            int           `json:"id"`
	TransactionID string        `json:"transaction_id"`
	OrderID       int           `json:"order_id"`
	CustomerID    int           `json:"customer_id"`
	Quantity      int           `json:"quantity"`
	AmountPaid    float64       `json:"amount_paid"`
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	DatePaid      time.Time     `json:"date_paid"`
	DateCompleted *time.Time    `json:"date_completed,omitempty"`
	FlaggedAt     *time.Time    `json:"flagged_at,omitempty"`
}

type InitiatePaymentRequest struct {
	OrderID    int     `json:"order_id" binding:"required"`
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	Method     string  `json:"method" binding:"required"`
	MomoNumber string  `json:"momo_number" binding:"required"`
	Address    string  `json:"address"`
}

// GatewayCallback is the webhook payload posted by the payment provider.
// OrderID here is the merchant-generated TransactionID, not our order row.
type GatewayCallback struct {
	OrderID              string  `json:"order_id"`
	Reason               string  `json:"reason"`
	Amount               float64 `json:"amount"`
	Mobile               string  `json:"mobile"`
	TelcoTransactionDate string  `json:"telco_transaction_date"`
}

type PaymentEvent struct {
	PaymentID     int           `json:"payment_id"`
	TransactionID string        `json:"transaction_id"`
	OrderID       int           `json:"order_id"`
	CustomerID    int           `json:"customer_id"`
	Amount        float64       `json:"amount"`
	Status        PaymentStatus `json:"status"`
	EventType     string        `json:"event_type"` // payment_completed, payment_unsuccessful
}
