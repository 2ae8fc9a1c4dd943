package models

import "time"

type CartStatus string

const (
	CartStatusActive    CartStatus = "Active"
	CartStatusProcessed CartStatus = "Processed"
	CartStatusCanceled  CartStatus = "Canceled"
)

type Cart struct {
	ID         int        `json:"id"`
	CustomerID int        `json:"customer_id"`
	Total      float64    `json:"total"`
	Status     CartStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CartItem carries the price snapshotted at add-time, not a live
// reference to the product price.
type CartItem struct {
	ID        int       `json:"id"`
	CartID    int       `json:"cart_id"`
	ProductID int       `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

type AddToCartRequest struct {
	ProductID int `json:"product_id" binding:"required"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}
