package checkout

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

func setupCoordinatorTest(t *testing.T) (*Coordinator, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	coordinator := NewCoordinator(db, zaptest.NewLogger(t))
	return coordinator, mock, db
}

func TestCoordinator_Checkout_Success(t *testing.T) {
	coordinator, mock, db := setupCoordinatorTest(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE id = \\$1 AND customer_id = \\$2 AND status = 'Active' FOR UPDATE").
		WithArgs(7, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("SELECT product_id, quantity, price FROM cart_items WHERE cart_id = \\$1 ORDER BY id").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).
			AddRow(5, 2, 10.50).
			AddRow(6, 1, 4.00))
	mock.ExpectQuery("INSERT INTO orders \\(customer_id, total, status\\) VALUES \\(\\$1, \\$2, 'Pending'\\) RETURNING id, created_at").
		WithArgs(1, 25.00).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(11, 5, 2, 10.50).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(11, 6, 1, 4.00).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE carts SET status = 'Processed', updated_at = NOW\\(\\) WHERE id = \\$1").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := coordinator.Checkout(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if order.ID != 11 {
		t.Errorf("Expected order id 11, got %d", order.ID)
	}
	if order.Total != 25.00 {
		t.Errorf("Expected order total 25.00, got %v", order.Total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCoordinator_Checkout_EmptyCart(t *testing.T) {
	coordinator, mock, db := setupCoordinatorTest(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts").
		WithArgs(7, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("SELECT product_id, quantity, price FROM cart_items").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}))
	mock.ExpectRollback()

	if _, err := coordinator.Checkout(context.Background(), 7, 1); !errors.Is(err, ErrCartEmpty) {
		t.Errorf("Expected ErrCartEmpty, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

// A cart already flipped to Processed no longer matches the Active
// filter, so a second checkout of the same cart fails.
func TestCoordinator_Checkout_AlreadyProcessed(t *testing.T) {
	coordinator, mock, db := setupCoordinatorTest(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts").
		WithArgs(7, 1).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := coordinator.Checkout(context.Background(), 7, 1); !errors.Is(err, ErrCartNotFound) {
		t.Errorf("Expected ErrCartNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCoordinator_Checkout_WrongCustomer(t *testing.T) {
	coordinator, mock, db := setupCoordinatorTest(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts").
		WithArgs(7, 2).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := coordinator.Checkout(context.Background(), 7, 2); !errors.Is(err, ErrCartNotFound) {
		t.Errorf("Expected ErrCartNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
