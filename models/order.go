package models

import "time"

type OrderStatus string

// Order status is monotonic: Pending -> paid -> Delivered. "paid" is
// lowercase on the wire for compatibility with existing consumers.
const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusDelivered OrderStatus = "Delivered"
)

type Order struct {
	ID         int         `json:"id"`
	CustomerID int         `json:"customer_id"`
	Total      float64     `json:"total"`
	Status     OrderStatus `json:"status"`
	Address    string      `json:"address,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// OrderItem is the audit copy of a cart item taken at checkout; it is
// never mutated afterwards.
type OrderItem struct {
	ID        int     `json:"id"`
	OrderID   int     `json:"order_id"`
	ProductID int     `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type CheckoutRequest struct {
	CartID int `json:"cart_id" binding:"required"`
}

type CheckoutResponse struct {
	OrderID    int     `json:"order_id"`
	OrderTotal float64 `json:"order_total"`
}
