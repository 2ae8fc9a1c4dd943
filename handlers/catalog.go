package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"shop-svc/cache"
	"shop-svc/cart"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CatalogHandler struct {
	db      *sql.DB
	rdb     *redis.Client
	cartMgr *cart.Manager
	logger  *zap.Logger
}

func NewCatalogHandler(db *sql.DB, rdb *redis.Client, cartMgr *cart.Manager, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{db: db, rdb: rdb, cartMgr: cartMgr, logger: logger}
}

func (h *CatalogHandler) ListCategories(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "ListCategories")
	defer span.End()

	rows, err := h.db.QueryContext(ctx, "SELECT id, name, description, created_at FROM categories ORDER BY name")
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list categories", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var cat models.Category
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Description, &cat.CreatedAt); err != nil {
			h.logger.Error("Failed to scan category", zap.Error(err))
			continue
		}
		categories = append(categories, cat)
	}

	c.JSON(http.StatusOK, categories)
}

func (h *CatalogHandler) ListProductsByCategory(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "ListProductsByCategory")
	defer span.End()

	categoryID := c.Param("id")
	span.SetAttributes(attribute.String("category_id", categoryID))

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, category_id, name, description, photo_url, price, stock, created_at, updated_at FROM products WHERE category_id = $1 ORDER BY name",
		categoryID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PhotoURL, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			h.logger.Error("Failed to scan product", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	c.JSON(http.StatusOK, products)
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "GetProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product_id", id))

	if h.rdb != nil {
		if p, err := cache.GetProduct(ctx, h.rdb, id); err == nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			c.JSON(http.StatusOK, p)
			return
		}
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	var p models.Product
	err := h.db.QueryRowContext(ctx,
		"SELECT id, category_id, name, description, photo_url, price, stock, created_at, updated_at FROM products WHERE id = $1",
		id,
	).Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PhotoURL, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if h.rdb != nil {
		if err := cache.SetProduct(ctx, h.rdb, id, &p); err != nil {
			h.logger.Warn("Failed to cache product", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, p)
}

func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "CreateProduct")
	defer span.End()

	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var p models.Product
	err := h.db.QueryRowContext(ctx,
		"INSERT INTO products (category_id, name, description, photo_url, price, stock) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at",
		req.CategoryID, req.Name, req.Description, req.PhotoURL, req.Price, req.Stock,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	p.CategoryID = req.CategoryID
	p.Name = req.Name
	p.Description = req.Description
	p.PhotoURL = req.PhotoURL
	p.Price = req.Price
	p.Stock = req.Stock

	h.logger.Info("Product created", zap.Int("product_id", p.ID), zap.String("name", p.Name))
	c.JSON(http.StatusCreated, p)
}

// UpdatePrice changes a product's price and propagates it into every
// Active cart holding the product, so open carts never go to checkout
// with a superseded price.
func (h *CatalogHandler) UpdatePrice(c *gin.Context) {
	ctx, span := otel.Tracer("shop-svc").Start(c.Request.Context(), "UpdateProductPrice")
	defer span.End()

	id := c.Param("id")
	productID, err := strconv.Atoi(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req models.UpdatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("product_id", productID),
		attribute.Float64("new_price", req.Price),
	)

	updated, err := h.cartMgr.RepriceProduct(ctx, productID, req.Price)
	if err != nil {
		if errors.Is(err, cart.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update product price", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if h.rdb != nil {
		if err := cache.InvalidateProduct(ctx, h.rdb, id); err != nil {
			h.logger.Warn("Failed to invalidate product cache", zap.Error(err))
		}
	}

	h.logger.Info("Product price updated",
		zap.Int("product_id", productID),
		zap.Float64("price", req.Price),
		zap.Int("cart_items_repriced", updated),
	)
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "price": req.Price, "cart_items_repriced": updated})
}
