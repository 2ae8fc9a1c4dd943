package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"shop-svc/gateway"
	"shop-svc/models"
	"shop-svc/payments"
	"shop-svc/reconciler"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	db      *sql.DB
	svc     *payments.Service
	machine reconciler.Applier
	gw      reconciler.StatusQuerier
	logger  *zap.Logger
}

func NewPaymentHandler(db *sql.DB, svc *payments.Service, machine reconciler.Applier, gw reconciler.StatusQuerier, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{db: db, svc: svc, machine: machine, gw: gw, logger: logger}
}

func (h *PaymentHandler) Initiate(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "InitiatePayment")
	defer span.End()

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("order_id", req.OrderID),
		attribute.Float64("amount", req.Amount),
	)

	result, err := h.svc.Initiate(ctx, customerID(c), req)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidPayerNumber):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, payments.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, gateway.ErrRejected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, gateway.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway unavailable, please try again"})
		default:
			span.RecordError(err)
			h.logger.Error("Payment initiation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	span.SetAttributes(attribute.String("transaction_id", result.TransactionID))
	c.JSON(http.StatusAccepted, gin.H{
		"message":        "Payment request initialized successfully. Please complete payment on your phone.",
		"transaction_id": result.TransactionID,
	})
}

// Callback is the gateway webhook. It races the reconciliation poller
// by design; the state machine makes the race safe.
func (h *PaymentHandler) Callback(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "PaymentCallback")
	defer span.End()

	var cb models.GatewayCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("transaction_id", cb.OrderID))

	status := models.PaymentStatusUnsuccessful
	if cb.Reason == "SUCCESS" {
		status = models.PaymentStatusCompleted
	}

	mobile := ""
	if normalized, err := gateway.NormalizeMSISDN(cb.Mobile); err == nil {
		mobile = normalized
	}

	result, err := h.machine.Apply(ctx, cb.OrderID, payments.Outcome{
		Status:      status,
		Amount:      cb.Amount,
		CompletedAt: parseTelcoDate(cb.TelcoTransactionDate),
		Mobile:      mobile,
	})
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to finalize payment", zap.String("transaction_id", cb.OrderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        result.Payment.Status,
		"order_updated": result.OrderPaid,
	})
}

// Status is the manual variant of reconciliation for one transaction:
// still-Pending payments are re-queried at the gateway and any terminal
// outcome applied; the response always carries the canonical status,
// never raw gateway vocabulary.
func (h *PaymentHandler) Status(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "CheckPaymentStatus")
	defer span.End()

	transactionID := c.Param("transactionID")
	span.SetAttributes(attribute.String("transaction_id", transactionID))

	p, err := h.svc.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to load payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !p.Status.Terminal() {
		status, _, err := h.gw.QueryStatus(ctx, transactionID)
		if err != nil {
			// The last known status still answers the request.
			h.logger.Warn("Gateway status query failed", zap.String("transaction_id", transactionID), zap.Error(err))
		} else if status.Terminal() {
			result, err := h.machine.Apply(ctx, transactionID, payments.Outcome{Status: status})
			if err != nil {
				span.RecordError(err)
				h.logger.Error("Failed to apply status-check outcome", zap.String("transaction_id", transactionID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
			p.Status = result.Payment.Status
			p.DateCompleted = result.Payment.DateCompleted
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction_id": p.TransactionID,
		"status":         p.Status,
		"amount_paid":    p.AmountPaid,
		"date_completed": p.DateCompleted,
	})
}

// History lists the customer's payments with their orders, most recent
// completion first.
func (h *PaymentHandler) History(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "PaymentHistory")
	defer span.End()

	rows, err := h.db.QueryContext(ctx,
		"SELECT p.id, p.transaction_id, p.order_id, p.quantity, p.amount_paid, p.method, p.status, p.date_paid, p.date_completed, o.status, o.total FROM payments p JOIN orders o ON o.id = p.order_id WHERE p.customer_id = $1 ORDER BY p.date_paid DESC",
		customerID(c),
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load payment history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	type historyEntry struct {
		models.Payment
		OrderStatus models.OrderStatus `json:"order_status"`
		OrderTotal  float64            `json:"order_total"`
	}
	var history []historyEntry
	for rows.Next() {
		var e historyEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.OrderID, &e.Quantity, &e.AmountPaid, &e.Method, &e.Status, &e.DatePaid, &e.DateCompleted, &e.OrderStatus, &e.OrderTotal); err != nil {
			h.logger.Error("Failed to scan payment", zap.Error(err))
			continue
		}
		history = append(history, e)
	}

	c.JSON(http.StatusOK, history)
}

// Chart aggregates completed payments by month for the current year.
func (h *PaymentHandler) Chart(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "PaymentChart")
	defer span.End()

	year := time.Now().Year()
	rows, err := h.db.QueryContext(ctx,
		"SELECT EXTRACT(MONTH FROM date_paid)::int AS month, SUM(amount_paid) FROM payments WHERE EXTRACT(YEAR FROM date_paid) = $1 AND status = 'Completed' GROUP BY month ORDER BY month",
		year,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load payment chart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	totals := make([]float64, 12)
	for rows.Next() {
		var month int
		var total float64
		if err := rows.Scan(&month, &total); err != nil {
			h.logger.Error("Failed to scan chart row", zap.Error(err))
			continue
		}
		if month >= 1 && month <= 12 {
			totals[month-1] = total
		}
	}

	type monthTotal struct {
		Month string  `json:"month"`
		Total float64 `json:"total_amount_paid"`
	}
	chart := make([]monthTotal, 12)
	for i := range chart {
		chart[i] = monthTotal{
			Month: time.Month(i + 1).String(),
			Total: totals[i],
		}
	}

	c.JSON(http.StatusOK, gin.H{"year": year, "months": chart})
}

func parseTelcoDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
