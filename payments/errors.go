package payments

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found or already processed")
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrOrderMissing means a payment references an order that does not
	// exist. This should never occur; it is surfaced, not recovered.
	ErrOrderMissing     = errors.New("payment has no owning order")
	ErrNonTerminalApply = errors.New("transition outcome must be terminal")
)
