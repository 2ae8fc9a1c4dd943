package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"shop-svc/models"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	c := NewClientWithConfig(baseURL, "test-app", "test-key", 2*time.Second, zaptest.NewLogger(t))
	c.backoff = time.Millisecond
	return c
}

func TestClient_CreatePayment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != createPaymentPath {
			t.Errorf("Expected path %s, got %s", createPaymentPath, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status_code": 1, "status_message": "Transaction Pending. Waiting for client approval"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.CreatePayment(context.Background(), "MTN", "233241234567", "Test Payer", "test@example.com", "GHS", 25.00, "17000000000001234", "Payment for 2 items")
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	if resp.StatusCode != 1 {
		t.Errorf("Expected status_code 1, got %d", resp.StatusCode)
	}
}

// A 200 response whose body carries status_code != 1 is a provider
// rejection, not a transport failure.
func TestClient_CreatePayment_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status_code": 4, "status_message": "Invalid mobile network"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreatePayment(context.Background(), "XYZ", "233241234567", "Test Payer", "test@example.com", "GHS", 25.00, "17000000000001234", "Payment for 2 items")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected, got %v", err)
	}
}

func TestClient_CreatePayment_RetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status_code": 1, "status_message": "OK"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.CreatePayment(context.Background(), "MTN", "233241234567", "Test Payer", "test@example.com", "GHS", 25.00, "17000000000001234", "desc"); err != nil {
		t.Fatalf("CreatePayment failed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClient_CreatePayment_ExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreatePayment(context.Background(), "MTN", "233241234567", "Test Payer", "test@example.com", "GHS", 25.00, "17000000000001234", "desc")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClient_CreatePayment_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreatePayment(context.Background(), "MTN", "233241234567", "Test Payer", "test@example.com", "GHS", 25.00, "17000000000001234", "desc")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
}

func TestClient_QueryStatus_NumericTransStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != invoiceStatusPath {
			t.Errorf("Expected path %s, got %s", invoiceStatusPath, r.URL.Path)
		}
		w.Write([]byte(`{"status_code": 1, "trans_status": 1, "status_message": "OK"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	status, _, err := client.QueryStatus(context.Background(), "17000000000001234")
	if err != nil {
		t.Fatalf("QueryStatus failed: %v", err)
	}
	if status != models.PaymentStatusCompleted {
		t.Errorf("Expected Completed, got %s", status)
	}
}

func TestClient_QueryStatus_StringTransStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status_code": 1, "trans_status": "FAILED", "status_message": "Client rejected"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	status, resp, err := client.QueryStatus(context.Background(), "17000000000001234")
	if err != nil {
		t.Fatalf("QueryStatus failed: %v", err)
	}
	if status != models.PaymentStatusUnsuccessful {
		t.Errorf("Expected Unsuccessful, got %s", status)
	}
	if resp.TransStatus != "FAILED" {
		t.Errorf("Expected raw trans_status FAILED, got %s", resp.TransStatus)
	}
}

func TestMapTransStatus(t *testing.T) {
	tests := []struct {
		in   TransStatus
		want models.PaymentStatus
	}{
		{"1", models.PaymentStatusCompleted},
		{"PAID BY CLIENT", models.PaymentStatusCompleted},
		{"FAILED", models.PaymentStatusUnsuccessful},
		{"CANCELLED", models.PaymentStatusUnsuccessful},
		{"PENDING", models.PaymentStatusPending},
		{"", models.PaymentStatusPending},
		{"SOMETHING NEW", models.PaymentStatusPending},
	}

	for _, tt := range tests {
		if got := MapTransStatus(tt.in); got != tt.want {
			t.Errorf("MapTransStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMSISDN(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0241234567", "233241234567", false},
		{"233241234567", "233241234567", false},
		{"241234567", "233241234567", false},
		{"+233 24 123 4567", "233241234567", false},
		{"024-123-4567", "233241234567", false},
		{"", "", true},
		{"abc", "", true},
		{"02412345", "", true},
		{"02412345678", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeMSISDN(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPayerNumber) {
				t.Errorf("NormalizeMSISDN(%q) expected ErrInvalidPayerNumber, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeMSISDN(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeMSISDN(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
