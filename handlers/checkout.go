package handlers

import (
	"errors"
	"net/http"

	"shop-svc/checkout"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	coordinator *checkout.Coordinator
	logger      *zap.Logger
}

func NewCheckoutHandler(coordinator *checkout.Coordinator, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{coordinator: coordinator, logger: logger}
}

func (h *CheckoutHandler) Checkout(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "Checkout")
	defer span.End()

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("cart_id", req.CartID),
		attribute.Int("customer_id", customerID(c)),
	)

	order, err := h.coordinator.Checkout(ctx, req.CartID, customerID(c))
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrCartNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, checkout.ErrCartEmpty):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			span.RecordError(err)
			h.logger.Error("Checkout failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	span.SetAttributes(attribute.Int("order.id", order.ID))
	c.JSON(http.StatusCreated, models.CheckoutResponse{
		OrderID:    order.ID,
		OrderTotal: order.Total,
	})
}
