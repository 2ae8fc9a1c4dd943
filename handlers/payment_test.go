package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop-svc/gateway"
	"shop-svc/models"
	"shop-svc/payments"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeApplier struct {
	applied map[string]payments.Outcome
	result  *payments.Result
	err     error
}

func (a *fakeApplier) Apply(_ context.Context, transactionID string, outcome payments.Outcome) (*payments.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.applied == nil {
		a.applied = map[string]payments.Outcome{}
	}
	a.applied[transactionID] = outcome
	return a.result, nil
}

type fakeStatusQuerier struct {
	status models.PaymentStatus
	err    error
}

func (q *fakeStatusQuerier) QueryStatus(_ context.Context, _ string) (models.PaymentStatus, *gateway.InvoiceStatusResponse, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	return q.status, &gateway.InvoiceStatusResponse{}, nil
}

func setupPaymentTest(t *testing.T, machine *fakeApplier, gw *fakeStatusQuerier) (sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	svc := payments.NewService(db, nil, logger)
	handler := NewPaymentHandler(db, svc, machine, gw, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("customer_id", 1) })
	router.POST("/payments", handler.Initiate)
	router.POST("/payments/callback", handler.Callback)
	router.GET("/payments/status/:transactionID", handler.Status)

	return mock, router
}

func TestPaymentHandler_Callback_Success(t *testing.T) {
	completedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	machine := &fakeApplier{result: &payments.Result{
		Payment:   models.Payment{TransactionID: "17000000000001234", Status: models.PaymentStatusCompleted},
		OrderPaid: true,
	}}
	mock, router := setupPaymentTest(t, machine, &fakeStatusQuerier{})

	body, _ := json.Marshal(models.GatewayCallback{
		OrderID:              "17000000000001234",
		Reason:               "SUCCESS",
		Amount:               25.00,
		Mobile:               "0241234567",
		TelcoTransactionDate: "2026-03-10 12:00:00",
	})
	req := httptest.NewRequest("POST", "/payments/callback", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	outcome, ok := machine.applied["17000000000001234"]
	if !ok {
		t.Fatal("Expected the outcome to reach the state machine")
	}
	if outcome.Status != models.PaymentStatusCompleted {
		t.Errorf("Expected Completed, got %s", outcome.Status)
	}
	if outcome.Mobile != "233241234567" {
		t.Errorf("Expected normalized mobile 233241234567, got %s", outcome.Mobile)
	}
	if !outcome.CompletedAt.Equal(completedAt) {
		t.Errorf("Expected completion time %v, got %v", completedAt, outcome.CompletedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

// Any reason other than SUCCESS resolves the payment Unsuccessful.
func TestPaymentHandler_Callback_Failure(t *testing.T) {
	machine := &fakeApplier{result: &payments.Result{
		Payment: models.Payment{TransactionID: "17000000000001234", Status: models.PaymentStatusUnsuccessful},
	}}
	_, router := setupPaymentTest(t, machine, &fakeStatusQuerier{})

	body, _ := json.Marshal(models.GatewayCallback{
		OrderID: "17000000000001234",
		Reason:  "CLIENT REJECTED",
	})
	req := httptest.NewRequest("POST", "/payments/callback", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := machine.applied["17000000000001234"].Status; got != models.PaymentStatusUnsuccessful {
		t.Errorf("Expected Unsuccessful, got %s", got)
	}
}

func TestPaymentHandler_Callback_UnknownTransaction(t *testing.T) {
	machine := &fakeApplier{err: payments.ErrPaymentNotFound}
	_, router := setupPaymentTest(t, machine, &fakeStatusQuerier{})

	body, _ := json.Marshal(models.GatewayCallback{
		OrderID: "unknown",
		Reason:  "SUCCESS",
	})
	req := httptest.NewRequest("POST", "/payments/callback", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestPaymentHandler_Initiate_InvalidPhone(t *testing.T) {
	_, router := setupPaymentTest(t, &fakeApplier{}, &fakeStatusQuerier{})

	body, _ := json.Marshal(models.InitiatePaymentRequest{
		OrderID:    11,
		Amount:     25.00,
		Method:     "MTN",
		MomoNumber: "12",
	})
	req := httptest.NewRequest("POST", "/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// A status check on a terminal payment answers from the local record
// without touching the gateway.
func TestPaymentHandler_Status_TerminalSkipsGateway(t *testing.T) {
	gw := &fakeStatusQuerier{err: gateway.ErrUnavailable}
	mock, router := setupPaymentTest(t, &fakeApplier{}, gw)

	completedAt := time.Now()
	mock.ExpectQuery("SELECT id, transaction_id, order_id, customer_id, quantity, amount_paid, method, status, date_paid, date_completed FROM payments WHERE transaction_id = \\$1").
		WithArgs("17000000000001234").
		WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "order_id", "customer_id", "quantity", "amount_paid", "method", "status", "date_paid", "date_completed"}).
			AddRow(4, "17000000000001234", 11, 1, 3, 25.00, "MTN", "Completed", time.Now(), completedAt))

	req := httptest.NewRequest("GET", "/payments/status/17000000000001234", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "Completed" {
		t.Errorf("Expected status Completed, got %v", resp["status"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

// A still-Pending payment triggers an on-demand gateway lookup, and a
// terminal answer is applied through the state machine.
func TestPaymentHandler_Status_PendingResolvesViaGateway(t *testing.T) {
	now := time.Now()
	machine := &fakeApplier{result: &payments.Result{
		Payment: models.Payment{
			TransactionID: "17000000000001234",
			Status:        models.PaymentStatusCompleted,
			DateCompleted: &now,
		},
		OrderPaid: true,
	}}
	gw := &fakeStatusQuerier{status: models.PaymentStatusCompleted}
	mock, router := setupPaymentTest(t, machine, gw)

	mock.ExpectQuery("SELECT id, transaction_id, order_id, customer_id, quantity, amount_paid, method, status, date_paid, date_completed FROM payments WHERE transaction_id = \\$1").
		WithArgs("17000000000001234").
		WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "order_id", "customer_id", "quantity", "amount_paid", "method", "status", "date_paid", "date_completed"}).
			AddRow(4, "17000000000001234", 11, 1, 3, 25.00, "MTN", "Pending", time.Now(), nil))

	req := httptest.NewRequest("GET", "/payments/status/17000000000001234", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if _, ok := machine.applied["17000000000001234"]; !ok {
		t.Error("Expected the gateway answer to be applied")
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "Completed" {
		t.Errorf("Expected status Completed, got %v", resp["status"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_Status_NotFound(t *testing.T) {
	mock, router := setupPaymentTest(t, &fakeApplier{}, &fakeStatusQuerier{})

	mock.ExpectQuery("SELECT id, transaction_id, order_id, customer_id, quantity, amount_paid, method, status, date_paid, date_completed FROM payments").
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET", "/payments/status/unknown", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
