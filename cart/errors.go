package cart

import "errors"

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOutOfStock        = errors.New("product is out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrQuantityFloor     = errors.New("quantity cannot be less than 1")
	ErrCartNotActive     = errors.New("cart not found or not active")
	ErrItemNotFound      = errors.New("cart item not found")
)
