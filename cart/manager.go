package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-svc/models"

	"go.uber.org/zap"
)

// Manager owns the cart lifecycle. Every mutation runs inside a single
// transaction spanning the stock check, the item write and the cart
// total write, so a stale total is never observable. The cart total is
// maintained by delta, never by resumming.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewManager(db *sql.DB, logger *zap.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// AddItem finds or lazily creates the customer's Active cart and adds
// one unit of the product, snapshotting its current price. The product
// row is locked for the duration of the transaction so concurrent adds
// cannot oversell.
func (m *Manager) AddItem(ctx context.Context, customerID, productID int) (*models.Cart, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var price float64
	var stock int
	err = tx.QueryRowContext(ctx,
		"SELECT price, stock FROM products WHERE id = $1 FOR UPDATE",
		productID,
	).Scan(&price, &stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	if stock < 1 {
		return nil, ErrOutOfStock
	}

	cart, err := m.findOrCreateActiveCart(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	var itemID, quantity int
	err = tx.QueryRowContext(ctx,
		"SELECT id, quantity FROM cart_items WHERE cart_id = $1 AND product_id = $2",
		cart.ID, productID,
	).Scan(&itemID, &quantity)

	switch {
	case err == nil:
		newQuantity := quantity + 1
		if stock < newQuantity {
			return nil, ErrInsufficientStock
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE cart_items SET quantity = $1 WHERE id = $2",
			newQuantity, itemID,
		); err != nil {
			return nil, fmt.Errorf("failed to update cart item: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cart_items (cart_id, product_id, quantity, price) VALUES ($1, $2, 1, $3)",
			cart.ID, productID, price,
		); err != nil {
			return nil, fmt.Errorf("failed to insert cart item: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to load cart item: %w", err)
	}

	if err := m.applyTotalDelta(ctx, tx, cart, price); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	m.logger.Info("Item added to cart",
		zap.Int("customer_id", customerID),
		zap.Int("product_id", productID),
		zap.Int("cart_id", cart.ID),
		zap.Float64("cart_total", cart.Total),
	)
	return cart, nil
}

// SetQuantity sets a cart item to an absolute quantity. Zero is not a
// removal: callers must use RemoveItem for that.
func (m *Manager) SetQuantity(ctx context.Context, cartID, itemID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, ErrQuantityFloor
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := m.lockItem(ctx, tx, cartID, itemID)
	if err != nil {
		return nil, err
	}

	cart, err := m.lockActiveCart(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}

	var stock int
	err = tx.QueryRowContext(ctx,
		"SELECT stock FROM products WHERE id = $1 FOR UPDATE",
		item.ProductID,
	).Scan(&stock)
	if err != nil {
		return nil, fmt.Errorf("failed to load product stock: %w", err)
	}
	if stock < quantity {
		return nil, ErrInsufficientStock
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2",
		quantity, item.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	delta := float64(quantity-item.Quantity) * item.Price
	if err := m.applyTotalDelta(ctx, tx, cart, delta); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return cart, nil
}

// Increment adds one unit of an item already in the cart.
func (m *Manager) Increment(ctx context.Context, cartID, itemID int) (*models.Cart, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := m.lockItem(ctx, tx, cartID, itemID)
	if err != nil {
		return nil, err
	}

	cart, err := m.lockActiveCart(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}

	var stock int
	err = tx.QueryRowContext(ctx,
		"SELECT stock FROM products WHERE id = $1 FOR UPDATE",
		item.ProductID,
	).Scan(&stock)
	if err != nil {
		return nil, fmt.Errorf("failed to load product stock: %w", err)
	}
	if stock < item.Quantity+1 {
		return nil, ErrInsufficientStock
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2",
		item.Quantity+1, item.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	if err := m.applyTotalDelta(ctx, tx, cart, item.Price); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return cart, nil
}

// Decrement removes one unit. Dropping below 1 is rejected; RemoveItem
// is the explicit removal path.
func (m *Manager) Decrement(ctx context.Context, cartID, itemID int) (*models.Cart, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := m.lockItem(ctx, tx, cartID, itemID)
	if err != nil {
		return nil, err
	}

	cart, err := m.lockActiveCart(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}

	if item.Quantity <= 1 {
		return nil, ErrQuantityFloor
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2",
		item.Quantity-1, item.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	if err := m.applyTotalDelta(ctx, tx, cart, -item.Price); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return cart, nil
}

// RemoveItem deletes an item and subtracts its subtotal from the cart.
func (m *Manager) RemoveItem(ctx context.Context, cartID, itemID int) (*models.Cart, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := m.lockItem(ctx, tx, cartID, itemID)
	if err != nil {
		return nil, err
	}

	cart, err := m.lockActiveCart(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1",
		item.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to delete cart item: %w", err)
	}

	if err := m.applyTotalDelta(ctx, tx, cart, -item.Price*float64(item.Quantity)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return cart, nil
}

// RepriceProduct changes a product's price and propagates the change to
// every Active cart holding it, adjusting item snapshots and cart totals
// in the same transaction. Placed orders are never touched.
func (m *Manager) RepriceProduct(ctx context.Context, productID int, newPrice float64) (int, error) {
	if newPrice <= 0 {
		return 0, fmt.Errorf("price must be greater than 0")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE products SET price = $1, updated_at = NOW() WHERE id = $2",
		newPrice, productID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update product price: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, ErrProductNotFound
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT ci.id, ci.cart_id, ci.quantity, ci.price FROM cart_items ci JOIN carts c ON c.id = ci.cart_id WHERE ci.product_id = $1 AND c.status = 'Active'",
		productID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to load affected cart items: %w", err)
	}

	type affected struct {
		itemID   int
		cartID   int
		quantity int
		oldPrice float64
	}
	var items []affected
	for rows.Next() {
		var a affected
		if err := rows.Scan(&a.itemID, &a.cartID, &a.quantity, &a.oldPrice); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate cart items: %w", err)
	}

	for _, a := range items {
		if _, err := tx.ExecContext(ctx,
			"UPDATE cart_items SET price = $1 WHERE id = $2",
			newPrice, a.itemID,
		); err != nil {
			return 0, fmt.Errorf("failed to reprice cart item: %w", err)
		}
		delta := (newPrice - a.oldPrice) * float64(a.quantity)
		if _, err := tx.ExecContext(ctx,
			"UPDATE carts SET total = total + $1, updated_at = NOW() WHERE id = $2",
			delta, a.cartID,
		); err != nil {
			return 0, fmt.Errorf("failed to adjust cart total: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	m.logger.Info("Product repriced",
		zap.Int("product_id", productID),
		zap.Float64("new_price", newPrice),
		zap.Int("carts_updated", len(items)),
	)
	return len(items), nil
}

// GetActiveCart returns the customer's Active cart and its items, or
// ErrCartNotActive when none exists.
func (m *Manager) GetActiveCart(ctx context.Context, customerID int) (*models.Cart, []models.CartItem, error) {
	var cart models.Cart
	err := m.db.QueryRowContext(ctx,
		"SELECT id, customer_id, total, status, created_at, updated_at FROM carts WHERE customer_id = $1 AND status = 'Active'",
		customerID,
	).Scan(&cart.ID, &cart.CustomerID, &cart.Total, &cart.Status, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrCartNotActive
		}
		return nil, nil, fmt.Errorf("failed to load cart: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT id, cart_id, product_id, quantity, price, created_at FROM cart_items WHERE cart_id = $1 ORDER BY id",
		cart.ID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.Price, &it.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, it)
	}
	return &cart, items, rows.Err()
}

func (m *Manager) findOrCreateActiveCart(ctx context.Context, tx *sql.Tx, customerID int) (*models.Cart, error) {
	cart := &models.Cart{CustomerID: customerID, Status: models.CartStatusActive}
	err := tx.QueryRowContext(ctx,
		"SELECT id, total FROM carts WHERE customer_id = $1 AND status = 'Active' FOR UPDATE",
		customerID,
	).Scan(&cart.ID, &cart.Total)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		"INSERT INTO carts (customer_id, total, status) VALUES ($1, 0, 'Active') RETURNING id",
		customerID,
	).Scan(&cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	m.logger.Info("New cart created", zap.Int("cart_id", cart.ID), zap.Int("customer_id", customerID))
	return cart, nil
}

func (m *Manager) lockActiveCart(ctx context.Context, tx *sql.Tx, cartID int) (*models.Cart, error) {
	var cart models.Cart
	err := tx.QueryRowContext(ctx,
		"SELECT id, customer_id, total, status FROM carts WHERE id = $1 FOR UPDATE",
		cartID,
	).Scan(&cart.ID, &cart.CustomerID, &cart.Total, &cart.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotActive
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.Status != models.CartStatusActive {
		return nil, ErrCartNotActive
	}
	return &cart, nil
}

func (m *Manager) lockItem(ctx context.Context, tx *sql.Tx, cartID, itemID int) (*models.CartItem, error) {
	var item models.CartItem
	err := tx.QueryRowContext(ctx,
		"SELECT id, cart_id, product_id, quantity, price FROM cart_items WHERE id = $1 AND cart_id = $2 FOR UPDATE",
		itemID, cartID,
	).Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load cart item: %w", err)
	}
	return &item, nil
}

// applyTotalDelta keeps cart.total == sum(item.price * item.quantity)
// without resumming, and mirrors the new value onto the returned cart.
func (m *Manager) applyTotalDelta(ctx context.Context, tx *sql.Tx, cart *models.Cart, delta float64) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET total = total + $1, updated_at = NOW() WHERE id = $2",
		delta, cart.ID,
	); err != nil {
		return fmt.Errorf("failed to update cart total: %w", err)
	}
	cart.Total += delta
	return nil
}
