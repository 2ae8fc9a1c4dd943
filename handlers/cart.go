package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"shop-svc/cart"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CartHandler struct {
	manager *cart.Manager
	logger  *zap.Logger
}

func NewCartHandler(manager *cart.Manager, logger *zap.Logger) *CartHandler {
	return &CartHandler{manager: manager, logger: logger}
}

func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "AddToCart")
	defer span.End()

	var req models.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("customer_id", customerID(c)),
		attribute.Int("product_id", req.ProductID),
	)

	updated, err := h.manager.AddItem(ctx, customerID(c), req.ProductID)
	if err != nil {
		h.renderCartError(c, err, "Failed to add to cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cart_id":    updated.ID,
		"cart_total": updated.Total,
	})
}

func (h *CartHandler) GetCart(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "GetCart")
	defer span.End()

	activeCart, items, err := h.manager.GetActiveCart(ctx, customerID(c))
	if err != nil {
		if errors.Is(err, cart.ErrCartNotActive) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active cart"})
			return
		}
		h.logger.Error("Failed to load cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cart":  activeCart,
		"items": items,
	})
}

func (h *CartHandler) SetQuantity(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "SetCartQuantity")
	defer span.End()

	cartID, itemID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	var req models.SetQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.manager.SetQuantity(ctx, cartID, itemID, req.Quantity)
	if err != nil {
		h.renderCartError(c, err, "Failed to update quantity")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cart_total":   updated.Total,
		"new_quantity": req.Quantity,
	})
}

func (h *CartHandler) Increase(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "IncreaseCartQuantity")
	defer span.End()

	cartID, itemID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	updated, err := h.manager.Increment(ctx, cartID, itemID)
	if err != nil {
		h.renderCartError(c, err, "Failed to increase quantity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart_total": updated.Total})
}

func (h *CartHandler) Decrease(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "DecreaseCartQuantity")
	defer span.End()

	cartID, itemID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	updated, err := h.manager.Decrement(ctx, cartID, itemID)
	if err != nil {
		h.renderCartError(c, err, "Failed to decrease quantity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart_total": updated.Total})
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "RemoveCartItem")
	defer span.End()

	cartID, itemID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	updated, err := h.manager.RemoveItem(ctx, cartID, itemID)
	if err != nil {
		h.renderCartError(c, err, "Failed to remove item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart_total": updated.Total})
}

func (h *CartHandler) pathIDs(c *gin.Context) (cartID, itemID int, ok bool) {
	cartID, err := strconv.Atoi(c.Param("cartID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart ID"})
		return 0, 0, false
	}
	itemID, err = strconv.Atoi(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID"})
		return 0, 0, false
	}
	return cartID, itemID, true
}

func (h *CartHandler) renderCartError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, cart.ErrQuantityFloor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cart.ErrOutOfStock), errors.Is(err, cart.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, cart.ErrProductNotFound), errors.Is(err, cart.ErrItemNotFound), errors.Is(err, cart.ErrCartNotActive):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
